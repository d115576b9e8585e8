package notification

import "context"

// Email is a single outbound message
type Email struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers transactional email. Delivery is best-effort: callers log
// failures and never fail the business operation over a missing email.
type Sender interface {
	Send(ctx context.Context, email Email) error
}

// NopSender discards all email, used when notifications are disabled
type NopSender struct{}

// Send discards the email
func (NopSender) Send(_ context.Context, _ Email) error { return nil }

var _ Sender = NopSender{}
