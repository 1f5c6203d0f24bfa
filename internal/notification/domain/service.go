package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Notify persists one notification and fans it out to email when a
	// provider is configured. Never returns an error to a caller whose
	// primary operation already committed; failures are logged.
	Notify(ctx context.Context, n *Notification) error

	// NotifyDaily is Notify with at-most-one-per-recipient-per-category
	// per calendar day semantics. Reports whether the message was
	// actually sent (false = suppressed as duplicate).
	NotifyDaily(ctx context.Context, n *Notification) (bool, error)

	ListByRecipient(ctx context.Context, recipientID snowflake.ID, limit int) ([]*Notification, error)
}
