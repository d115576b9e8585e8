package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/biocloudlabs/backend/internal/domain/billing"
	"github.com/biocloudlabs/backend/internal/domain/shared"
	"github.com/biocloudlabs/backend/internal/infrastructure/cache"
	"github.com/biocloudlabs/backend/internal/infrastructure/telemetry"
)

// How long a processed webhook event stays claimed. Stripe retries for up to
// three days, so claims must outlive the retry schedule.
const eventClaimTTL = 72 * time.Hour

// SettlementService turns verified payment processor events into credit
// grants. Processing is idempotent on two levels: a cache claim per event ID
// filters concurrent redeliveries cheaply, and the invoice status check
// under a row lock is the durable guarantee that credits are granted at most
// once per invoice.
type SettlementService struct {
	verifier  billing.WebhookVerifier
	invoices  billing.InvoiceRepository
	ledger    *LedgerService
	txManager shared.TransactionManager
	events    cache.IdempotencyStore
	metrics   *telemetry.BillingMetrics
	logger    *zap.Logger
}

// NewSettlementService creates a new settlement service
func NewSettlementService(
	verifier billing.WebhookVerifier,
	invoices billing.InvoiceRepository,
	ledger *LedgerService,
	txManager shared.TransactionManager,
	events cache.IdempotencyStore,
	metrics *telemetry.BillingMetrics,
	logger *zap.Logger,
) *SettlementService {
	return &SettlementService{
		verifier:  verifier,
		invoices:  invoices,
		ledger:    ledger,
		txManager: txManager,
		events:    events,
		metrics:   metrics,
		logger:    logger,
	}
}

// HandleWebhook verifies and processes a raw webhook delivery. The signature
// is checked before anything else; no side effect happens for an unverified
// payload.
func (s *SettlementService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.verifier.Verify(payload, signature)
	if err != nil {
		s.logger.Warn("Webhook verification failed", zap.Error(err))
		return err
	}

	s.metrics.WebhookEvents.Add(ctx, 1, metric.WithAttributes(telemetry.AttrEventType.String(event.Type)))

	switch event.Type {
	case billing.WebhookEventCheckoutCompleted, billing.WebhookEventCheckoutExpired:
	default:
		s.logger.Info("Ignoring unhandled webhook event type",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type))
		return nil
	}

	claimed, err := s.events.MarkProcessed(ctx, event.ID, eventClaimTTL)
	if err != nil {
		// The claim is an optimization; the invoice row lock below still
		// guarantees at-most-once settlement.
		s.logger.Warn("Event claim store unavailable", zap.Error(err))
	} else if !claimed {
		s.logger.Info("Skipping already claimed webhook event", zap.String("event_id", event.ID))
		return nil
	}

	if err := s.process(ctx, event); err != nil {
		if rerr := s.events.Release(ctx, event.ID); rerr != nil {
			s.logger.Warn("Failed to release event claim", zap.String("event_id", event.ID), zap.Error(rerr))
		}
		return err
	}
	return nil
}

func (s *SettlementService) process(ctx context.Context, event *billing.WebhookEvent) error {
	rawInvoiceID, ok := event.Metadata["invoice_id"]
	if !ok {
		s.logger.Error("Webhook event without invoice_id metadata",
			zap.String("event_id", event.ID),
			zap.String("session_id", event.SessionID))
		return shared.NewDomainError("INVALID_INPUT", "Event metadata is missing invoice_id")
	}
	invoiceID, err := uuid.Parse(rawInvoiceID)
	if err != nil {
		return shared.NewDomainError("INVALID_INPUT", "Event metadata carries a malformed invoice_id")
	}

	return s.txManager.Transaction(ctx, func(ctx context.Context) error {
		invoice, err := s.invoices.FindByIDForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}

		if invoice.Status.IsTerminal() {
			s.logger.Info("Invoice already settled, acknowledging redelivery",
				zap.String("invoice_id", invoice.ID.String()),
				zap.String("status", invoice.Status.String()),
				zap.String("event_id", event.ID))
			return nil
		}

		switch event.Type {
		case billing.WebhookEventCheckoutCompleted:
			if _, err := s.ledger.Credit(ctx, invoice.AccountID, invoice.Credits,
				billing.CreditSourceSettlement, invoice.ID.String(), "Credit package purchase"); err != nil {
				return err
			}
			if err := invoice.MarkCompleted(); err != nil {
				return err
			}
		case billing.WebhookEventCheckoutExpired:
			if err := invoice.MarkExpired(); err != nil {
				return err
			}
		}

		invoice.IncrementVersion()
		if err := s.invoices.Save(ctx, invoice); err != nil {
			return err
		}

		s.logger.Info("Invoice settled",
			zap.String("invoice_id", invoice.ID.String()),
			zap.String("status", invoice.Status.String()),
			zap.String("event_id", event.ID))
		return nil
	})
}
