package billing

import "context"

// CheckoutSession is the hosted payment page handed back to the client
type CheckoutSession struct {
	ID  string
	URL string
}

// CheckoutGateway creates hosted checkout sessions at the payment processor.
// The session carries the invoice reference so the settlement webhook can
// resolve it later.
type CheckoutGateway interface {
	CreateSession(ctx context.Context, invoice *Invoice, product Product) (*CheckoutSession, error)
}

// Webhook event types this system settles on
const (
	WebhookEventCheckoutCompleted = "checkout.session.completed"
	WebhookEventCheckoutExpired   = "checkout.session.expired"
)

// WebhookEvent is a verified settlement notification from the payment
// processor. Metadata carries the invoice reference set at checkout.
type WebhookEvent struct {
	ID        string
	Type      string
	SessionID string
	Metadata  map[string]string
}

// WebhookVerifier authenticates a raw webhook delivery against the shared
// signing secret before any side effect happens
type WebhookVerifier interface {
	Verify(payload []byte, signature string) (*WebhookEvent, error)
}
