package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Service records and reads usage facts.
type Service interface {
	// Append persists one ledger entry. It must be called outside any
	// money-moving transaction so a billing rollback never erases the
	// recorded usage.
	Append(ctx context.Context, entry *UsageLedgerEntry) error
	ListByCustomer(ctx context.Context, customerID snowflake.ID, limit int) ([]*UsageLedgerEntry, error)
}
