package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreateMeterRequest struct {
	CustomerID    snowflake.ID `json:"customer_id,string" binding:"required"`
	AccountNumber string       `json:"account_number" binding:"required"`
	TariffTierID  snowflake.ID `json:"tariff_tier_id,string" binding:"required"`
}

type RecordReadingRequest struct {
	AccountNumber string `json:"account_number" binding:"required"`
	// Delta is the consumption increment in whole units. Meters only
	// count forward; a negative delta signals a rollback and is rejected.
	Delta int64 `json:"delta" binding:"required"`
}

type Service interface {
	Create(ctx context.Context, req CreateMeterRequest) (*MeterAccount, error)
	GetByID(ctx context.Context, id snowflake.ID) (*MeterAccount, error)
	GetByAccountNumber(ctx context.Context, accountNumber string) (*MeterAccount, error)
	ListActive(ctx context.Context) ([]*MeterAccount, error)
	GetTariffTier(ctx context.Context, id snowflake.ID) (*TariffTier, error)

	// RecordReading is the telemetry ingestion path: advances the
	// lifetime counter and the unpaid counter, then appends a usage fact.
	RecordReading(ctx context.Context, req RecordReadingRequest) (*MeterAccount, error)

	// AdjustUnpaidConsumption is the single authoritative mutation site
	// for the unpaid counter, shared by telemetry ingestion and the
	// invoice lifecycle. The result is floored at zero; that floor is
	// the only sanctioned clamp on this counter.
	AdjustUnpaidConsumption(ctx context.Context, tx *gorm.DB, meterID snowflake.ID, delta int64) error
}
