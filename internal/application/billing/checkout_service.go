package billing

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/biocloudlabs/backend/internal/domain/billing"
	"github.com/biocloudlabs/backend/internal/domain/shared"
	"github.com/biocloudlabs/backend/internal/infrastructure/telemetry"
)

// CheckoutResult contains the data the client needs to complete a purchase
type CheckoutResult struct {
	InvoiceID   uuid.UUID
	SessionID   string
	CheckoutURL string
	Credits     int64
}

// CheckoutService creates checkout sessions for credit packages. The credits
// a purchase grants are resolved from the catalog snapshot when the invoice
// is created, so a later catalog change cannot alter what a settled payment
// pays out.
type CheckoutService struct {
	catalog  *CatalogService
	invoices billing.InvoiceRepository
	accounts billing.AccountRepository
	gateway  billing.CheckoutGateway
	metrics  *telemetry.BillingMetrics
	logger   *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	catalog *CatalogService,
	invoices billing.InvoiceRepository,
	accounts billing.AccountRepository,
	gateway billing.CheckoutGateway,
	metrics *telemetry.BillingMetrics,
	logger *zap.Logger,
) *CheckoutService {
	return &CheckoutService{
		catalog:  catalog,
		invoices: invoices,
		accounts: accounts,
		gateway:  gateway,
		metrics:  metrics,
		logger:   logger,
	}
}

// ListProducts returns the sellable credit packages, cheapest first
func (s *CheckoutService) ListProducts(ctx context.Context) ([]billing.Product, error) {
	snapshot, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.Products(), nil
}

// CreateCheckout creates a pending invoice for the product and opens a
// checkout session for it
func (s *CheckoutService) CreateCheckout(ctx context.Context, userID uuid.UUID, productKey string) (*CheckoutResult, error) {
	account, err := s.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	product, ok := snapshot.Lookup(productKey)
	if !ok {
		return nil, shared.NewDomainError("NOT_FOUND", "Unknown product")
	}

	invoice, err := billing.NewInvoice(account.ID, product)
	if err != nil {
		return nil, err
	}
	if err := s.invoices.Create(ctx, invoice); err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateSession(ctx, invoice, product)
	if err != nil {
		// The invoice never became payable; close it out.
		if ferr := invoice.MarkFailed(); ferr == nil {
			if serr := s.invoices.Save(ctx, invoice); serr != nil {
				s.logger.Error("Failed to close invoice after session failure",
					zap.String("invoice_id", invoice.ID.String()),
					zap.Error(serr))
			}
		}
		s.logger.Error("Checkout session creation failed",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Error(err))
		return nil, shared.ErrUpstreamUnavailable
	}

	invoice.AttachCheckoutSession(session.ID)
	if err := s.invoices.Save(ctx, invoice); err != nil {
		return nil, err
	}

	s.metrics.CheckoutSessions.Add(ctx, 1)
	s.logger.Info("Checkout session created",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("product_key", product.Key),
		zap.Int64("credits", product.Credits))

	return &CheckoutResult{
		InvoiceID:   invoice.ID,
		SessionID:   session.ID,
		CheckoutURL: session.URL,
		Credits:     product.Credits,
	}, nil
}
