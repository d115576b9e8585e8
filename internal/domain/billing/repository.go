package billing

import (
	"context"

	"github.com/google/uuid"
)

// AccountRepository defines the interface for credit account persistence
type AccountRepository interface {
	// FindByID finds an account by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// FindByIDForUpdate finds the account by ID and takes a row lock when
	// called inside a transaction
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*Account, error)

	// FindByUserID finds the account owned by the given user
	FindByUserID(ctx context.Context, userID uuid.UUID) (*Account, error)

	// FindByUserIDForUpdate finds the account and takes a row lock when
	// called inside a transaction, serializing concurrent balance mutations
	FindByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*Account, error)

	// Create persists a new account
	Create(ctx context.Context, account *Account) error

	// Save persists balance changes for an existing account
	Save(ctx context.Context, account *Account) error
}

// CreditTransactionFilter contains filter options for listing credit transactions
type CreditTransactionFilter struct {
	TransactionType *CreditTransactionType
	Source          *CreditTransactionSource
	Page            int
	PageSize        int
}

// CreditTransactionRepository defines the interface for ledger record persistence
type CreditTransactionRepository interface {
	// Create creates a new credit transaction record
	Create(ctx context.Context, transaction *CreditTransaction) error

	// FindByAccountID lists credit transactions for an account, newest first
	FindByAccountID(ctx context.Context, accountID uuid.UUID, filter CreditTransactionFilter) ([]*CreditTransaction, int64, error)

	// FindBySourceID finds credit transactions by originating document ID
	FindBySourceID(ctx context.Context, source CreditTransactionSource, sourceID string) ([]*CreditTransaction, error)
}

// InvoiceRepository defines the interface for invoice persistence
type InvoiceRepository interface {
	// FindByID finds an invoice by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Invoice, error)

	// FindByIDForUpdate finds the invoice and takes a row lock when called
	// inside a transaction, serializing concurrent settlement attempts
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)

	// FindByAccountID lists invoices for an account, newest first
	FindByAccountID(ctx context.Context, accountID uuid.UUID) ([]*Invoice, error)

	// Create persists a new invoice
	Create(ctx context.Context, invoice *Invoice) error

	// Save persists status changes for an existing invoice
	Save(ctx context.Context, invoice *Invoice) error
}

// CatalogProvider supplies the current product catalog snapshot. The
// snapshot is fetched explicitly so callers control staleness instead of
// relying on process-lifetime caching.
type CatalogProvider interface {
	// Fetch retrieves a fresh catalog snapshot from the payment processor
	Fetch(ctx context.Context) (*CatalogSnapshot, error)
}
