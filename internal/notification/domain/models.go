package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidNotification = errors.New("invalid_notification")
)

// Notification categories emitted by the billing engine.
const (
	CategoryInvoiceCreated = "invoice_created"
	CategoryInvoicePaid    = "invoice_paid"
	CategoryInvoiceOverdue = "invoice_overdue"
	CategoryBalanceWarning = "balance_warning"
	CategoryPipeClosed     = "pipe_closed"
	CategoryRewardIssued   = "reward_issued"
)

// Notification is one message to a customer. DedupeKey, when set, is a
// uniqueness guard: a second insert with the same key is silently
// dropped, which is how per-day deduplication works.
type Notification struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	RecipientID snowflake.ID `gorm:"index;not null" json:"recipient_id"`
	Category    string       `gorm:"size:48;index;not null" json:"category"`
	Title       string       `gorm:"size:255;not null" json:"title"`
	Body        string       `gorm:"size:2048" json:"body"`
	Link        string       `gorm:"size:512" json:"link,omitempty"`
	DedupeKey   *string      `gorm:"size:128;uniqueIndex" json:"-"`
	CreatedAt   time.Time    `json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

// DailyDedupeKey builds the (recipient, category, calendar day)
// idempotency key used to cap a category at one message per day.
func DailyDedupeKey(recipientID snowflake.ID, category string, day time.Time) string {
	return fmt.Sprintf("%d:%s:%s", recipientID, category, day.UTC().Format("2006-01-02"))
}
