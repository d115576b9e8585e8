package payment

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"go.uber.org/zap"

	"github.com/biocloudlabs/backend/internal/domain/billing"
	"github.com/biocloudlabs/backend/internal/infrastructure/config"
)

// StripeCheckoutGateway creates hosted checkout sessions for credit packages
type StripeCheckoutGateway struct {
	successURL string
	cancelURL  string
	logger     *zap.Logger
}

// NewStripeCheckoutGateway creates a checkout gateway from configuration
func NewStripeCheckoutGateway(cfg config.StripeConfig, logger *zap.Logger) *StripeCheckoutGateway {
	stripe.Key = cfg.SecretKey
	return &StripeCheckoutGateway{
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		logger:     logger,
	}
}

// CreateSession creates a one-time payment session for the invoice. The
// metadata links the session back to the invoice so the settlement webhook
// can resolve it without parsing display strings.
func (g *StripeCheckoutGateway) CreateSession(ctx context.Context, invoice *billing.Invoice, product billing.Product) (*billing.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(product.Key),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(g.successURL),
		CancelURL:  stripe.String(g.cancelURL),
	}
	params.Context = ctx
	params.Metadata = map[string]string{
		"invoice_id": invoice.ID.String(),
		"account_id": invoice.AccountID.String(),
		"credits":    strconv.FormatInt(invoice.Credits, 10),
	}

	sess, err := session.New(params)
	if err != nil {
		g.logger.Error("Failed to create Stripe checkout session",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to create checkout session: %w", err)
	}

	g.logger.Info("Created Stripe checkout session",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("session_id", sess.ID))

	return &billing.CheckoutSession{
		ID:  sess.ID,
		URL: sess.URL,
	}, nil
}

var _ billing.CheckoutGateway = (*StripeCheckoutGateway)(nil)
