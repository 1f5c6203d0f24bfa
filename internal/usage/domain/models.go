package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrInvalidEntry = errors.New("invalid_usage_entry")
)

// Source identifies which collaborator recorded a usage fact.
const (
	SourceTelemetry    = "telemetry"
	SourceSubscription = "subscription"
)

// UsageLedgerEntry is an append-only record of a metered increment.
// Entries are facts, not financial mutations: they are written outside
// any settlement transaction and are never updated or deleted.
type UsageLedgerEntry struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	CustomerID     snowflake.ID      `gorm:"index;not null" json:"customer_id"`
	MeterAccountID *snowflake.ID     `gorm:"index" json:"meter_account_id,omitempty"`
	SubscriptionID *snowflake.ID     `gorm:"index" json:"subscription_id,omitempty"`
	Units          int64             `gorm:"not null" json:"units"`
	Source         string            `gorm:"size:32;not null" json:"source"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
	RecordedAt     time.Time         `gorm:"index;not null" json:"recorded_at"`
	CreatedAt      time.Time         `json:"created_at"`
}

func (UsageLedgerEntry) TableName() string {
	return "usage_ledger_entries"
}
