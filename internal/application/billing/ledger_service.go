package billing

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/biocloudlabs/backend/internal/domain/billing"
	"github.com/biocloudlabs/backend/internal/domain/shared"
	"github.com/biocloudlabs/backend/internal/infrastructure/telemetry"
)

// LedgerService is the single write path for credit balances. Every balance
// mutation takes a row lock on the account and records an immutable
// CreditTransaction in the same database transaction, so the ledger always
// reconstructs the balance.
type LedgerService struct {
	accounts  billing.AccountRepository
	ledger    billing.CreditTransactionRepository
	txManager shared.TransactionManager
	metrics   *telemetry.BillingMetrics
	logger    *zap.Logger
}

// NewLedgerService creates a new ledger service
func NewLedgerService(
	accounts billing.AccountRepository,
	ledger billing.CreditTransactionRepository,
	txManager shared.TransactionManager,
	metrics *telemetry.BillingMetrics,
	logger *zap.Logger,
) *LedgerService {
	return &LedgerService{
		accounts:  accounts,
		ledger:    ledger,
		txManager: txManager,
		metrics:   metrics,
		logger:    logger,
	}
}

// GetBalance returns the credit account owned by the given user
func (s *LedgerService) GetBalance(ctx context.Context, userID uuid.UUID) (*billing.Account, error) {
	return s.accounts.FindByUserID(ctx, userID)
}

// ListTransactions lists the ledger entries of the user's account, newest first
func (s *LedgerService) ListTransactions(
	ctx context.Context,
	userID uuid.UUID,
	filter billing.CreditTransactionFilter,
) ([]*billing.CreditTransaction, int64, error) {
	account, err := s.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return s.ledger.FindByAccountID(ctx, account.ID, filter)
}

// Credit increases the account balance and records the movement. Settlement
// credits become TOP_UP entries; manual corrections become ADJUSTMENT entries.
// Joins an ambient transaction when one is active.
func (s *LedgerService) Credit(
	ctx context.Context,
	accountID uuid.UUID,
	amount int64,
	source billing.CreditTransactionSource,
	sourceID, remark string,
) (*billing.Account, error) {
	var account *billing.Account

	err := s.txManager.Transaction(ctx, func(ctx context.Context) error {
		var err error
		account, err = s.accounts.FindByIDForUpdate(ctx, accountID)
		if err != nil {
			return err
		}

		balanceBefore := account.Balance
		if err := account.Credit(amount); err != nil {
			return err
		}

		var record *billing.CreditTransaction
		if source == billing.CreditSourceManual {
			record, err = billing.CreateAdjustmentTransaction(account.ID, balanceBefore, account.Balance)
		} else {
			record, err = billing.CreateTopUpTransaction(account.ID, amount, balanceBefore)
		}
		if err != nil {
			return err
		}
		if sourceID != "" {
			record.WithSourceID(sourceID)
		}
		if remark != "" {
			record.WithRemark(remark)
		}

		if err := s.ledger.Create(ctx, record); err != nil {
			return err
		}
		account.IncrementVersion()
		return s.accounts.Save(ctx, account)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.CreditsCredited.Add(ctx, amount)
	s.logger.Info("Account credited",
		zap.String("account_id", accountID.String()),
		zap.Int64("amount", amount),
		zap.String("source", source.String()),
		zap.Int64("balance", account.Balance))

	return account, nil
}

// Debit charges up to amount credits against the account, clamping at zero,
// and returns the credits actually charged. A fully drained account yields a
// zero charge without a ledger entry. Joins an ambient transaction when one
// is active.
func (s *LedgerService) Debit(
	ctx context.Context,
	accountID uuid.UUID,
	amount int64,
	source billing.CreditTransactionSource,
	sourceID, remark string,
) (int64, error) {
	var charged int64

	err := s.txManager.Transaction(ctx, func(ctx context.Context) error {
		account, err := s.accounts.FindByIDForUpdate(ctx, accountID)
		if err != nil {
			return err
		}

		balanceBefore := account.Balance
		charged, err = account.Debit(amount)
		if err != nil {
			return err
		}
		if charged == 0 {
			return nil
		}

		record, err := billing.CreateUsageTransaction(account.ID, charged, balanceBefore, source)
		if err != nil {
			return err
		}
		if sourceID != "" {
			record.WithSourceID(sourceID)
		}
		if remark != "" {
			record.WithRemark(remark)
		}

		if err := s.ledger.Create(ctx, record); err != nil {
			return err
		}
		account.IncrementVersion()
		return s.accounts.Save(ctx, account)
	})
	if err != nil {
		return 0, err
	}

	if charged > 0 {
		s.metrics.CreditsDebited.Add(ctx, charged)
	}
	s.logger.Info("Account debited",
		zap.String("account_id", accountID.String()),
		zap.Int64("requested", amount),
		zap.Int64("charged", charged),
		zap.String("source", source.String()))

	return charged, nil
}
