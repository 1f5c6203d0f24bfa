package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tirtabiz/tirta/internal/rating"
)

var (
	ErrMeterNotFound   = errors.New("meter_not_found")
	ErrTariffNotFound  = errors.New("tariff_not_found")
	ErrMeterInactive   = errors.New("meter_inactive")
	ErrReadingRollback = errors.New("negative_consumption")
	ErrAccountExists   = errors.New("meter_account_exists")
	ErrInvalidRequest  = errors.New("invalid_meter_request")
)

// TariffTier is a named pricing plan. Read-only to billing; edited only
// through explicit admin action.
type TariffTier struct {
	ID                  snowflake.ID `gorm:"primaryKey" json:"id"`
	Name                string       `gorm:"size:64;uniqueIndex;not null" json:"name"`
	PriceBelowThreshold int64        `gorm:"not null" json:"price_below_threshold"`
	PriceAboveThreshold int64        `gorm:"not null" json:"price_above_threshold"`
	BaseFee             int64        `gorm:"not null" json:"base_fee"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

func (TariffTier) TableName() string {
	return "tariff_tiers"
}

// Rate converts the persisted tier into the calculator input.
func (t TariffTier) Rate() rating.Tier {
	return rating.Tier{
		PriceBelowThreshold: t.PriceBelowThreshold,
		PriceAboveThreshold: t.PriceAboveThreshold,
		BaseFee:             t.BaseFee,
	}
}

// MeterAccount represents one physical water connection.
//
// LifetimeReading only ever grows; telemetry advances it. The unpaid
// counter tracks consumption billed but not yet paid and is mutated
// exclusively through the unpaid-adjustment path so telemetry ingestion
// and invoice payment cannot drift apart.
type MeterAccount struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	CustomerID        snowflake.ID `gorm:"index;not null" json:"customer_id"`
	AccountNumber     string       `gorm:"size:32;uniqueIndex;not null" json:"account_number"`
	TariffTierID      snowflake.ID `gorm:"index;not null" json:"tariff_tier_id"`
	LifetimeReading   int64        `gorm:"not null;default:0" json:"lifetime_reading"`
	UnpaidConsumption int64        `gorm:"not null;default:0" json:"unpaid_consumption"`
	Active            bool         `gorm:"not null;default:true" json:"active"`
	NextDueAt         *time.Time   `json:"next_due_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

func (MeterAccount) TableName() string {
	return "meter_accounts"
}
