package billing

import (
	"time"

	"github.com/google/uuid"

	"github.com/biocloudlabs/backend/internal/domain/shared"
)

// CreditTransactionType represents the type of credit movement
type CreditTransactionType string

const (
	// CreditTransactionTypeTopUp represents a settled payment crediting the balance
	CreditTransactionTypeTopUp CreditTransactionType = "TOP_UP"
	// CreditTransactionTypeUsage represents VM runtime charged against the balance
	CreditTransactionTypeUsage CreditTransactionType = "USAGE"
	// CreditTransactionTypeAdjustment represents a manual correction (increase or decrease)
	CreditTransactionTypeAdjustment CreditTransactionType = "ADJUSTMENT"
)

// String returns the string representation of CreditTransactionType
func (t CreditTransactionType) String() string {
	return string(t)
}

// IsValid returns true if the transaction type is valid
func (t CreditTransactionType) IsValid() bool {
	switch t {
	case CreditTransactionTypeTopUp,
		CreditTransactionTypeUsage,
		CreditTransactionTypeAdjustment:
		return true
	}
	return false
}

// IsIncrease returns true if this transaction type increases the balance
func (t CreditTransactionType) IsIncrease() bool {
	return t == CreditTransactionTypeTopUp
}

// CreditTransactionSource identifies the business event behind a movement
type CreditTransactionSource string

const (
	// CreditSourceSettlement represents a verified checkout settlement event
	CreditSourceSettlement CreditTransactionSource = "SETTLEMENT"
	// CreditSourcePowerOff represents a user-initiated VM power-off charge
	CreditSourcePowerOff CreditTransactionSource = "VM_POWEROFF"
	// CreditSourceEnforcement represents a forced shutdown charge
	CreditSourceEnforcement CreditTransactionSource = "ENFORCEMENT"
	// CreditSourceManual represents an operator adjustment
	CreditSourceManual CreditTransactionSource = "MANUAL"
)

// String returns the string representation of CreditTransactionSource
func (s CreditTransactionSource) String() string {
	return string(s)
}

// IsValid returns true if the source is valid
func (s CreditTransactionSource) IsValid() bool {
	switch s {
	case CreditSourceSettlement,
		CreditSourcePowerOff,
		CreditSourceEnforcement,
		CreditSourceManual:
		return true
	}
	return false
}

// CreditTransaction is an immutable record of a balance change. Once created
// it is never modified; corrections are made with new transactions.
type CreditTransaction struct {
	shared.BaseEntity
	AccountID       uuid.UUID
	TransactionType CreditTransactionType
	Amount          int64 // always positive, direction determined by type
	BalanceBefore   int64
	BalanceAfter    int64
	Source          CreditTransactionSource
	SourceID        *string // invoice id, VM id, ...
	Remark          string
	TransactionDate time.Time
}

// NewCreditTransaction creates a new credit transaction record
func NewCreditTransaction(
	accountID uuid.UUID,
	txType CreditTransactionType,
	amount int64,
	balanceBefore int64,
	balanceAfter int64,
	source CreditTransactionSource,
) (*CreditTransaction, error) {
	if accountID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ACCOUNT", "Account ID cannot be empty")
	}
	if !txType.IsValid() {
		return nil, shared.NewDomainError("INVALID_TRANSACTION_TYPE", "Invalid credit transaction type")
	}
	if amount <= 0 {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Amount must be positive")
	}
	if balanceBefore < 0 || balanceAfter < 0 {
		return nil, shared.NewDomainError("INVALID_BALANCE", "Balance cannot be negative")
	}
	if !source.IsValid() {
		return nil, shared.NewDomainError("INVALID_SOURCE", "Invalid transaction source")
	}

	return &CreditTransaction{
		BaseEntity:      shared.NewBaseEntity(),
		AccountID:       accountID,
		TransactionType: txType,
		Amount:          amount,
		BalanceBefore:   balanceBefore,
		BalanceAfter:    balanceAfter,
		Source:          source,
		TransactionDate: time.Now().UTC(),
	}, nil
}

// WithSourceID sets the originating document ID for the transaction
func (t *CreditTransaction) WithSourceID(sourceID string) *CreditTransaction {
	t.SourceID = &sourceID
	return t
}

// WithRemark sets the remark for the transaction
func (t *CreditTransaction) WithRemark(remark string) *CreditTransaction {
	t.Remark = remark
	return t
}

// SignedAmount returns the amount with sign based on transaction type
func (t *CreditTransaction) SignedAmount() int64 {
	if t.TransactionType == CreditTransactionTypeAdjustment {
		return t.BalanceAfter - t.BalanceBefore
	}
	if t.TransactionType.IsIncrease() {
		return t.Amount
	}
	return -t.Amount
}

// CreateTopUpTransaction builds a settlement credit record
func CreateTopUpTransaction(accountID uuid.UUID, amount, balanceBefore int64) (*CreditTransaction, error) {
	return NewCreditTransaction(
		accountID,
		CreditTransactionTypeTopUp,
		amount,
		balanceBefore,
		balanceBefore+amount,
		CreditSourceSettlement,
	)
}

// CreateUsageTransaction builds a runtime charge record. charged is the
// amount actually debited after clamping, which may be less than the
// computed cost when the balance was exhausted.
func CreateUsageTransaction(accountID uuid.UUID, charged, balanceBefore int64, source CreditTransactionSource) (*CreditTransaction, error) {
	return NewCreditTransaction(
		accountID,
		CreditTransactionTypeUsage,
		charged,
		balanceBefore,
		balanceBefore-charged,
		source,
	)
}

// CreateAdjustmentTransaction builds a manual correction record
func CreateAdjustmentTransaction(accountID uuid.UUID, balanceBefore, balanceAfter int64) (*CreditTransaction, error) {
	delta := balanceAfter - balanceBefore
	if delta < 0 {
		delta = -delta
	}
	return NewCreditTransaction(
		accountID,
		CreditTransactionTypeAdjustment,
		delta,
		balanceBefore,
		balanceAfter,
		CreditSourceManual,
	)
}
