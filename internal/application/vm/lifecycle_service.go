package vm

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appbilling "github.com/biocloudlabs/backend/internal/application/billing"
	"github.com/biocloudlabs/backend/internal/domain/billing"
	"github.com/biocloudlabs/backend/internal/domain/identity"
	"github.com/biocloudlabs/backend/internal/domain/shared"
	"github.com/biocloudlabs/backend/internal/domain/vm"
	"github.com/biocloudlabs/backend/internal/infrastructure/notification"
	"github.com/biocloudlabs/backend/internal/infrastructure/telemetry"
)

// PowerOffResult reports the outcome of stopping a machine
type PowerOffResult struct {
	Machine *vm.VirtualMachine
	Charged int64
	// Reconcile is set when the machine was stopped externally but the
	// final charge could not be committed
	Reconcile bool
	// AlreadyStopped is set when a concurrent power-off committed first
	AlreadyStopped bool
}

// EnforcementResult reports the outcome of a balance check on a running machine
type EnforcementResult struct {
	Machine       *vm.VirtualMachine
	ProjectedCost int64
	Balance       int64
	Enforced      bool
	Charged       int64
}

// MachineUsage annotates a machine record with its accrued runtime cost
type MachineUsage struct {
	Machine     *vm.VirtualMachine
	AccruedCost int64
	Running     bool
}

// LifecycleService orchestrates the VM lifecycle against the credit balance:
// admission at setup, final charge at power-off, periodic enforcement while
// running. The external provisioner is always stopped before any balance
// mutation, so a failed charge can never leave a machine running unpaid.
type LifecycleService struct {
	machines    vm.Repository
	accounts    billing.AccountRepository
	users       identity.UserRepository
	ledger      *appbilling.LedgerService
	provisioner vm.Provisioner
	txManager   shared.TransactionManager
	schedule    billing.RateSchedule
	sender      notification.Sender
	metrics     *telemetry.BillingMetrics
	logger      *zap.Logger
}

// NewLifecycleService creates a new VM lifecycle service
func NewLifecycleService(
	machines vm.Repository,
	accounts billing.AccountRepository,
	users identity.UserRepository,
	ledger *appbilling.LedgerService,
	provisioner vm.Provisioner,
	txManager shared.TransactionManager,
	schedule billing.RateSchedule,
	sender notification.Sender,
	metrics *telemetry.BillingMetrics,
	logger *zap.Logger,
) *LifecycleService {
	return &LifecycleService{
		machines:    machines,
		accounts:    accounts,
		users:       users,
		ledger:      ledger,
		provisioner: provisioner,
		txManager:   txManager,
		schedule:    schedule,
		sender:      sender,
		metrics:     metrics,
		logger:      logger,
	}
}

// Setup provisions a new machine for the user. Admission is a hard gate: a
// zero balance rejects the request before the provisioner is called, and a
// provisioner failure leaves the account untouched.
func (s *LifecycleService) Setup(ctx context.Context, userID uuid.UUID) (*vm.VirtualMachine, error) {
	account, err := s.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !account.CanProvision() {
		return nil, shared.ErrInsufficientBalance
	}

	host, err := s.provisioner.Setup(ctx)
	if err != nil {
		s.logger.Error("VM provisioning failed", zap.Error(err))
		return nil, err
	}

	machine, err := vm.NewVirtualMachine(account.ID, host.DNSName, host.IP)
	if err != nil {
		return nil, err
	}
	if err := s.machines.Create(ctx, machine); err != nil {
		// The machine exists upstream but has no record; stop it so it
		// cannot run unbilled.
		s.logger.Error("Failed to persist VM record, stopping orphan",
			zap.String("dns_name", host.DNSName),
			zap.Error(err))
		if perr := s.provisioner.PowerOff(ctx, machine.ShortName()); perr != nil {
			s.logger.Error("Failed to stop orphaned VM, manual cleanup required",
				zap.String("dns_name", host.DNSName),
				zap.Error(perr))
		}
		return nil, err
	}

	s.metrics.VMSetups.Add(ctx, 1)
	s.logger.Info("VM provisioned",
		zap.String("vm_id", machine.ID.String()),
		zap.String("account_id", account.ID.String()),
		zap.String("dns_name", machine.DNSName))

	return machine, nil
}

// PowerOff stops the user's machine and charges its runtime. Cross-account
// records are reported as not found rather than forbidden so VM IDs cannot
// be probed.
func (s *LifecycleService) PowerOff(ctx context.Context, userID, vmID uuid.UUID) (*PowerOffResult, error) {
	account, err := s.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	machine, err := s.machines.FindByID(ctx, vmID)
	if err != nil {
		return nil, err
	}
	if !machine.OwnedBy(account.ID) {
		return nil, shared.ErrNotFound
	}
	if !machine.IsRunning() {
		return nil, shared.NewDomainError("CONFLICT", "Virtual machine is already powered off")
	}

	if err := s.provisioner.PowerOff(ctx, machine.ShortName()); err != nil {
		s.logger.Error("External power-off failed, no charge applied",
			zap.String("vm_id", machine.ID.String()),
			zap.Error(err))
		return nil, err
	}

	result, err := s.settle(ctx, machine.ID, billing.CreditSourcePowerOff)
	if err != nil {
		return nil, err
	}

	s.metrics.VMPowerOffs.Add(ctx, 1)
	s.logger.Info("VM powered off",
		zap.String("vm_id", machine.ID.String()),
		zap.Int64("charged", result.Charged),
		zap.Bool("reconcile", result.Reconcile))

	return result, nil
}

// CheckAndEnforce evaluates a running machine against its account balance
// and forces a power-off when the projected cost exhausts the credits. The
// check is idempotent: an already stopped machine is a no-op, and the row
// lock inside settle guarantees a single winner when sweeps overlap, so the
// owner is notified exactly once.
func (s *LifecycleService) CheckAndEnforce(ctx context.Context, dnsName string) (*EnforcementResult, error) {
	machine, err := s.machines.FindByDNSName(ctx, dnsName)
	if err != nil {
		return nil, err
	}
	if !machine.IsRunning() {
		return &EnforcementResult{Machine: machine}, nil
	}

	account, err := s.accounts.FindByID(ctx, machine.AccountID)
	if err != nil {
		return nil, err
	}

	projected, err := s.schedule.ProjectedCost(machine.CreatedAt, time.Now().UTC())
	if err != nil {
		s.logger.Warn("Projected cost interval is negative, treating as zero",
			zap.String("vm_id", machine.ID.String()),
			zap.Error(err))
	}

	result := &EnforcementResult{
		Machine:       machine,
		ProjectedCost: projected,
		Balance:       account.Balance,
	}
	if account.Balance > projected {
		return result, nil
	}

	if err := s.provisioner.PowerOff(ctx, machine.ShortName()); err != nil {
		s.logger.Error("Forced power-off failed upstream, will retry next sweep",
			zap.String("vm_id", machine.ID.String()),
			zap.Error(err))
		return nil, err
	}

	settled, err := s.settle(ctx, machine.ID, billing.CreditSourceEnforcement)
	if err != nil {
		return nil, err
	}
	result.Machine = settled.Machine
	result.Charged = settled.Charged

	// The losing sweep must not send a second notice.
	if settled.AlreadyStopped {
		return result, nil
	}
	result.Enforced = true

	s.metrics.ForcedPowerOffs.Add(ctx, 1)
	s.logger.Warn("VM forcibly powered off",
		zap.String("vm_id", machine.ID.String()),
		zap.Int64("projected_cost", projected),
		zap.Int64("balance", account.Balance))

	s.notifyForcedPowerOff(ctx, account.UserID, machine.ShortName())
	return result, nil
}

// History lists the user's machine records, each annotated with the runtime
// cost accrued so far. An account with no machines yields an empty list.
func (s *LifecycleService) History(ctx context.Context, userID uuid.UUID) ([]MachineUsage, error) {
	account, err := s.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	machines, err := s.machines.FindByAccountID(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	usage := make([]MachineUsage, 0, len(machines))
	for _, machine := range machines {
		cost, err := s.schedule.Cost(machine.CreatedAt, machine.RuntimeEnd(now))
		if err != nil {
			s.logger.Warn("Machine record with negative runtime",
				zap.String("vm_id", machine.ID.String()),
				zap.Error(err))
		}
		usage = append(usage, MachineUsage{
			Machine:     machine,
			AccruedCost: cost,
			Running:     machine.IsRunning(),
		})
	}
	return usage, nil
}

// settle commits the power-off: compute the runtime cost, clamp-debit the
// account and persist the stopped record in one transaction. The caller has
// already stopped the machine externally, so a failed transaction falls back
// to persisting the stop with the reconcile flag instead of losing it.
func (s *LifecycleService) settle(ctx context.Context, vmID uuid.UUID, source billing.CreditTransactionSource) (*PowerOffResult, error) {
	now := time.Now().UTC()
	result := &PowerOffResult{}

	err := s.txManager.Transaction(ctx, func(ctx context.Context) error {
		machine, err := s.machines.FindByIDForUpdate(ctx, vmID)
		if err != nil {
			return err
		}
		result.Machine = machine
		if !machine.IsRunning() {
			// Another power-off path won the race.
			result.AlreadyStopped = true
			return nil
		}

		cost, err := s.schedule.Cost(machine.CreatedAt, now)
		if err != nil {
			if !errors.Is(err, billing.ErrNegativeElapsed) {
				return err
			}
			s.logger.Warn("Machine created in the future, charging zero",
				zap.String("vm_id", machine.ID.String()))
		}

		if cost > 0 {
			charged, err := s.ledger.Debit(ctx, machine.AccountID, cost, source,
				machine.ID.String(), "Runtime charge for "+machine.ShortName())
			if err != nil {
				return err
			}
			result.Charged = charged
		}

		if err := machine.PowerOff(now); err != nil {
			return err
		}
		machine.IncrementVersion()
		return s.machines.Save(ctx, machine)
	})
	if err == nil {
		return result, nil
	}

	s.logger.Error("Power-off settlement failed, flagging for reconciliation",
		zap.String("vm_id", vmID.String()),
		zap.Error(err))

	machine, ferr := s.machines.FindByID(ctx, vmID)
	if ferr != nil {
		return nil, err
	}
	if !machine.IsRunning() {
		return &PowerOffResult{Machine: machine, AlreadyStopped: true}, nil
	}
	if perr := machine.PowerOff(now); perr != nil {
		return nil, err
	}
	machine.FlagReconciliation()
	machine.IncrementVersion()
	if serr := s.machines.Save(ctx, machine); serr != nil {
		s.logger.Error("Failed to persist reconcile record, manual cleanup required",
			zap.String("vm_id", vmID.String()),
			zap.Error(serr))
		return nil, err
	}
	return &PowerOffResult{Machine: machine, Reconcile: true}, nil
}

func (s *LifecycleService) notifyForcedPowerOff(ctx context.Context, userID uuid.UUID, vmName string) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		s.logger.Error("Cannot resolve owner for power-off notice",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}
	if err := s.sender.Send(ctx, notification.ForcedPowerOffEmail(user.Email, vmName)); err != nil {
		s.logger.Error("Failed to send forced power-off notice",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}
