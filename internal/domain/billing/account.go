package billing

import (
	"github.com/google/uuid"

	"github.com/biocloudlabs/backend/internal/domain/shared"
)

// Account holds a user's prepaid credit balance. The balance is mutated only
// through the ledger operations below; it can never go negative.
type Account struct {
	shared.BaseAggregateRoot
	UserID  uuid.UUID
	Balance int64
}

// NewAccount creates an account for the given user with a zero balance.
func NewAccount(userID uuid.UUID) (*Account, error) {
	if userID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_USER", "User ID cannot be empty")
	}
	return &Account{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		UserID:            userID,
	}, nil
}

// CanProvision reports whether the account passes admission control for a
// new VM. Admission is a hard gate: zero balance means no provisioning.
func (a *Account) CanProvision() bool {
	return a.Balance > 0
}

// Credit increases the balance. Amount must be strictly positive.
func (a *Account) Credit(amount int64) error {
	if amount <= 0 {
		return shared.NewDomainError("INVALID_AMOUNT", "Credit amount must be positive")
	}
	a.Balance += amount
	return nil
}

// Debit decreases the balance by up to amount, clamping at zero. It returns
// the credits actually charged. Settlement-time debits are best effort;
// callers that need a hard rejection must pre-check via CanProvision.
func (a *Account) Debit(amount int64) (int64, error) {
	if amount <= 0 {
		return 0, shared.NewDomainError("INVALID_AMOUNT", "Debit amount must be positive")
	}
	charged := amount
	if charged > a.Balance {
		charged = a.Balance
	}
	a.Balance -= charged
	return charged, nil
}
