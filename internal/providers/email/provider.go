package email

import "context"

// Provider sends transactional mail. Implementations must be safe for
// concurrent use.
type Provider interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Noop discards all mail. Used when SMTP is not configured.
type Noop struct{}

func (Noop) Send(ctx context.Context, to, subject, body string) error {
	return nil
}
