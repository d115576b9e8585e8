package payment

import (
	"encoding/json"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"

	"github.com/biocloudlabs/backend/internal/domain/billing"
	"github.com/biocloudlabs/backend/internal/domain/shared"
	"github.com/biocloudlabs/backend/internal/infrastructure/config"
)

// StripeWebhookVerifier authenticates webhook deliveries with the endpoint's
// signing secret
type StripeWebhookVerifier struct {
	secret string
	logger *zap.Logger
}

// NewStripeWebhookVerifier creates a webhook verifier from configuration
func NewStripeWebhookVerifier(cfg config.StripeConfig, logger *zap.Logger) *StripeWebhookVerifier {
	return &StripeWebhookVerifier{
		secret: cfg.WebhookSecret,
		logger: logger,
	}
}

// Verify checks the signature and extracts the settlement payload. A bad
// signature or malformed payload is rejected before any side effect.
func (v *StripeWebhookVerifier) Verify(payload []byte, signature string) (*billing.WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, v.secret)
	if err != nil {
		v.logger.Warn("Rejected webhook with invalid signature", zap.Error(err))
		return nil, shared.ErrSignatureInvalid
	}

	result := &billing.WebhookEvent{
		ID:   event.ID,
		Type: string(event.Type),
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionExpired:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			v.logger.Error("Failed to parse checkout session from webhook",
				zap.String("event_id", event.ID),
				zap.Error(err))
			return nil, shared.ErrInvalidInput
		}
		result.SessionID = sess.ID
		result.Metadata = sess.Metadata
	}

	return result, nil
}

var _ billing.WebhookVerifier = (*StripeWebhookVerifier)(nil)
