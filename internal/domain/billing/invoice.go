package billing

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/biocloudlabs/backend/internal/domain/shared"
)

// InvoiceStatus represents the lifecycle state of an invoice
type InvoiceStatus string

const (
	// InvoiceStatusPending means the checkout session was created but not settled
	InvoiceStatusPending InvoiceStatus = "PENDING"
	// InvoiceStatusCompleted means the payment settled and credits were granted
	InvoiceStatusCompleted InvoiceStatus = "COMPLETED"
	// InvoiceStatusExpired means the checkout session lapsed without payment
	InvoiceStatusExpired InvoiceStatus = "EXPIRED"
	// InvoiceStatusFailed means settlement was attempted and rejected
	InvoiceStatusFailed InvoiceStatus = "FAILED"
)

// String returns the string representation of InvoiceStatus
func (s InvoiceStatus) String() string {
	return string(s)
}

// IsTerminal returns true once the status can no longer change
func (s InvoiceStatus) IsTerminal() bool {
	switch s {
	case InvoiceStatusCompleted, InvoiceStatusExpired, InvoiceStatusFailed:
		return true
	}
	return false
}

// Invoice records a credit purchase. Credits are resolved from the catalog
// snapshot at creation time so later catalog changes cannot alter what a
// settled payment grants. Status transitions happen exactly once and are
// driven solely by the settlement processor.
type Invoice struct {
	shared.BaseAggregateRoot
	AccountID         uuid.UUID
	ProductKey        string // stable catalog price identifier
	Price             decimal.Decimal
	Currency          string
	Credits           int64
	Status            InvoiceStatus
	CheckoutSessionID string
}

// NewInvoice creates a pending invoice for a catalog product
func NewInvoice(accountID uuid.UUID, product Product) (*Invoice, error) {
	if accountID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ACCOUNT", "Account ID cannot be empty")
	}
	if product.Key == "" {
		return nil, shared.NewDomainError("INVALID_PRODUCT", "Product key cannot be empty")
	}
	if product.Credits <= 0 {
		return nil, shared.NewDomainError("INVALID_PRODUCT", "Product must grant a positive credit amount")
	}

	return &Invoice{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		AccountID:         accountID,
		ProductKey:        product.Key,
		Price:             product.Price,
		Currency:          product.Currency,
		Credits:           product.Credits,
		Status:            InvoiceStatusPending,
	}, nil
}

// AttachCheckoutSession records the payment processor's session ID
func (i *Invoice) AttachCheckoutSession(sessionID string) {
	i.CheckoutSessionID = sessionID
}

// MarkCompleted transitions pending -> completed
func (i *Invoice) MarkCompleted() error {
	return i.transition(InvoiceStatusCompleted)
}

// MarkExpired transitions pending -> expired
func (i *Invoice) MarkExpired() error {
	return i.transition(InvoiceStatusExpired)
}

// MarkFailed transitions pending -> failed
func (i *Invoice) MarkFailed() error {
	return i.transition(InvoiceStatusFailed)
}

func (i *Invoice) transition(to InvoiceStatus) error {
	if i.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE",
			"Invoice is already "+i.Status.String())
	}
	i.Status = to
	return nil
}
