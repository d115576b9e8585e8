package vm

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/biocloudlabs/backend/internal/domain/shared"
)

// DefaultResourceType is the machine size provisioned for analysis workloads.
const DefaultResourceType = "Standard_B2s"

// BillingState tracks whether the final runtime charge was applied.
type BillingState string

const (
	// BillingStateSettled means the power-off debit committed with the record
	BillingStateSettled BillingState = "SETTLED"
	// BillingStateReconcile means the VM is off externally but the debit
	// failed and needs operator reconciliation
	BillingStateReconcile BillingState = "RECONCILE"
)

// IsValid returns true if the billing state is valid
func (s BillingState) IsValid() bool {
	return s == BillingStateSettled || s == BillingStateReconcile
}

// VirtualMachine is the historical record of a provisioned machine. It is
// created once provisioning succeeds, mutated exactly once when powered off
// and never deleted; powered-off records feed invoicing.
type VirtualMachine struct {
	shared.BaseAggregateRoot
	AccountID    uuid.UUID
	ResourceType string
	DNSName      string
	IP           string
	PoweredOffAt *time.Time
	BillingState BillingState
}

// NewVirtualMachine creates a running VM record from a successful
// provisioning response.
func NewVirtualMachine(accountID uuid.UUID, dnsName, ip string) (*VirtualMachine, error) {
	if accountID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ACCOUNT", "Account ID cannot be empty")
	}
	if dnsName == "" {
		return nil, shared.NewDomainError("INVALID_VM", "DNS name cannot be empty")
	}
	return &VirtualMachine{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		AccountID:         accountID,
		ResourceType:      DefaultResourceType,
		DNSName:           dnsName,
		IP:                ip,
		BillingState:      BillingStateSettled,
	}, nil
}

// IsRunning reports whether the VM has not been powered off yet
func (v *VirtualMachine) IsRunning() bool {
	return v.PoweredOffAt == nil
}

// ShortName returns the machine name the provisioning API addresses,
// the first label of the DNS name.
func (v *VirtualMachine) ShortName() string {
	name, _, _ := strings.Cut(v.DNSName, ".")
	return name
}

// OwnedBy reports whether the record belongs to the given account
func (v *VirtualMachine) OwnedBy(accountID uuid.UUID) bool {
	return v.AccountID == accountID
}

// PowerOff marks the VM as stopped at the given instant. A powered-off VM
// cannot be powered off again. The timestamp is clamped to CreatedAt so the
// record never claims a negative runtime.
func (v *VirtualMachine) PowerOff(at time.Time) error {
	if !v.IsRunning() {
		return shared.NewDomainError("ALREADY_STOPPED", "Virtual machine is already powered off")
	}
	at = at.UTC()
	if at.Before(v.CreatedAt) {
		at = v.CreatedAt
	}
	v.PoweredOffAt = &at
	return nil
}

// FlagReconciliation marks the final charge as failed-needs-reconciliation.
// Used when the external power-off succeeded but the debit did not commit.
func (v *VirtualMachine) FlagReconciliation() {
	v.BillingState = BillingStateReconcile
}

// RuntimeEnd returns the end of the billable interval: the power-off time
// for stopped machines, the supplied fallback for running ones.
func (v *VirtualMachine) RuntimeEnd(fallback time.Time) time.Time {
	if v.PoweredOffAt != nil {
		return *v.PoweredOffAt
	}
	return fallback
}
