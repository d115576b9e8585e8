package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/biocloudlabs/backend/internal/domain/billing"
)

// AccountModel is the persistence model for the credit Account aggregate.
type AccountModel struct {
	AggregateModel
	UserID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	Balance int64     `gorm:"not null;default:0;check:balance >= 0"`
}

// TableName returns the table name for GORM
func (AccountModel) TableName() string {
	return "accounts"
}

// ToDomain converts the persistence model to a domain Account
func (m *AccountModel) ToDomain() *billing.Account {
	return &billing.Account{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		UserID:            m.UserID,
		Balance:           m.Balance,
	}
}

// AccountModelFromDomain converts a domain Account to a persistence model
func AccountModelFromDomain(account *billing.Account) *AccountModel {
	model := &AccountModel{
		UserID:  account.UserID,
		Balance: account.Balance,
	}
	model.FromDomainAggregateRoot(account.BaseAggregateRoot)
	return model
}

// CreditTransactionModel is the persistence model for ledger movements.
type CreditTransactionModel struct {
	BaseModel
	AccountID       uuid.UUID                       `gorm:"type:uuid;not null;index"`
	TransactionType billing.CreditTransactionType   `gorm:"type:varchar(20);not null"`
	Amount          int64                           `gorm:"not null"`
	BalanceBefore   int64                           `gorm:"not null"`
	BalanceAfter    int64                           `gorm:"not null"`
	Source          billing.CreditTransactionSource `gorm:"type:varchar(20);not null;index"`
	SourceID        *string                         `gorm:"type:varchar(100);index"`
	Remark          string                          `gorm:"type:varchar(500)"`
	TransactionDate time.Time                       `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (CreditTransactionModel) TableName() string {
	return "credit_transactions"
}

// ToDomain converts the persistence model to a domain CreditTransaction
func (m *CreditTransactionModel) ToDomain() *billing.CreditTransaction {
	return &billing.CreditTransaction{
		BaseEntity:      m.BaseModel.ToDomain(),
		AccountID:       m.AccountID,
		TransactionType: m.TransactionType,
		Amount:          m.Amount,
		BalanceBefore:   m.BalanceBefore,
		BalanceAfter:    m.BalanceAfter,
		Source:          m.Source,
		SourceID:        m.SourceID,
		Remark:          m.Remark,
		TransactionDate: m.TransactionDate,
	}
}

// CreditTransactionModelFromDomain converts a domain CreditTransaction to a persistence model
func CreditTransactionModelFromDomain(tx *billing.CreditTransaction) *CreditTransactionModel {
	model := &CreditTransactionModel{
		AccountID:       tx.AccountID,
		TransactionType: tx.TransactionType,
		Amount:          tx.Amount,
		BalanceBefore:   tx.BalanceBefore,
		BalanceAfter:    tx.BalanceAfter,
		Source:          tx.Source,
		SourceID:        tx.SourceID,
		Remark:          tx.Remark,
		TransactionDate: tx.TransactionDate,
	}
	model.FromDomainBaseEntity(tx.BaseEntity)
	return model
}

// InvoiceModel is the persistence model for the Invoice aggregate.
type InvoiceModel struct {
	AggregateModel
	AccountID         uuid.UUID             `gorm:"type:uuid;not null;index"`
	ProductKey        string                `gorm:"type:varchar(100);not null"`
	Price             decimal.Decimal       `gorm:"type:decimal(18,4);not null"`
	Currency          string                `gorm:"type:varchar(3);not null"`
	Credits           int64                 `gorm:"not null"`
	Status            billing.InvoiceStatus `gorm:"type:varchar(20);not null;index"`
	CheckoutSessionID string                `gorm:"type:varchar(255);index"`
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// ToDomain converts the persistence model to a domain Invoice
func (m *InvoiceModel) ToDomain() *billing.Invoice {
	return &billing.Invoice{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		AccountID:         m.AccountID,
		ProductKey:        m.ProductKey,
		Price:             m.Price,
		Currency:          m.Currency,
		Credits:           m.Credits,
		Status:            m.Status,
		CheckoutSessionID: m.CheckoutSessionID,
	}
}

// InvoiceModelFromDomain converts a domain Invoice to a persistence model
func InvoiceModelFromDomain(invoice *billing.Invoice) *InvoiceModel {
	model := &InvoiceModel{
		AccountID:         invoice.AccountID,
		ProductKey:        invoice.ProductKey,
		Price:             invoice.Price,
		Currency:          invoice.Currency,
		Credits:           invoice.Credits,
		Status:            invoice.Status,
		CheckoutSessionID: invoice.CheckoutSessionID,
	}
	model.FromDomainAggregateRoot(invoice.BaseAggregateRoot)
	return model
}
