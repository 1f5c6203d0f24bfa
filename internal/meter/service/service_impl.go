package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/tirtabiz/tirta/internal/clock"
	"github.com/tirtabiz/tirta/internal/meter/domain"
	obsmetrics "github.com/tirtabiz/tirta/internal/observability/metrics"
	usagedomain "github.com/tirtabiz/tirta/internal/usage/domain"
	"github.com/tirtabiz/tirta/pkg/db"
	"github.com/tirtabiz/tirta/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	UsageSvc usagedomain.Service
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	usageSvc usagedomain.Service
	metrics  *obsmetrics.Metrics
	meters   repository.Repository[domain.MeterAccount]
	tiers    repository.Repository[domain.TariffTier]
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("meter.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		usageSvc: p.UsageSvc,
		metrics:  p.Metrics,
		meters:   repository.ProvideStore[domain.MeterAccount](p.DB),
		tiers:    repository.ProvideStore[domain.TariffTier](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateMeterRequest) (*domain.MeterAccount, error) {
	accountNumber := strings.TrimSpace(req.AccountNumber)
	if accountNumber == "" || req.CustomerID == 0 || req.TariffTierID == 0 {
		return nil, domain.ErrInvalidRequest
	}

	tier, err := s.tiers.FindOne(ctx, &domain.TariffTier{ID: req.TariffTierID})
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, domain.ErrTariffNotFound
	}

	meter := &domain.MeterAccount{
		ID:            s.genID.Generate(),
		CustomerID:    req.CustomerID,
		AccountNumber: accountNumber,
		TariffTierID:  req.TariffTierID,
		Active:        true,
	}
	if err := s.meters.Create(ctx, meter); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAccountExists
		}
		return nil, err
	}
	return meter, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.MeterAccount, error) {
	meter, err := s.meters.FindOne(ctx, &domain.MeterAccount{ID: id})
	if err != nil {
		return nil, err
	}
	if meter == nil {
		return nil, domain.ErrMeterNotFound
	}
	return meter, nil
}

func (s *Service) GetByAccountNumber(ctx context.Context, accountNumber string) (*domain.MeterAccount, error) {
	meter, err := s.meters.FindOne(ctx, &domain.MeterAccount{AccountNumber: strings.TrimSpace(accountNumber)})
	if err != nil {
		return nil, err
	}
	if meter == nil {
		return nil, domain.ErrMeterNotFound
	}
	return meter, nil
}

func (s *Service) ListActive(ctx context.Context) ([]*domain.MeterAccount, error) {
	return s.meters.Find(ctx, &domain.MeterAccount{Active: true})
}

func (s *Service) GetTariffTier(ctx context.Context, id snowflake.ID) (*domain.TariffTier, error) {
	tier, err := s.tiers.FindOne(ctx, &domain.TariffTier{ID: id})
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, domain.ErrTariffNotFound
	}
	return tier, nil
}

func (s *Service) RecordReading(ctx context.Context, req domain.RecordReadingRequest) (*domain.MeterAccount, error) {
	if req.Delta < 0 {
		return nil, domain.ErrReadingRollback
	}

	var updated *domain.MeterAccount
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var meter domain.MeterAccount
		err := db.ForUpdate(tx).
			Where("account_number = ?", strings.TrimSpace(req.AccountNumber)).
			First(&meter).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrMeterNotFound
			}
			return err
		}
		if !meter.Active {
			return domain.ErrMeterInactive
		}

		now := s.clock.Now()
		if err := tx.Model(&domain.MeterAccount{}).
			Where("id = ?", meter.ID).
			Updates(map[string]any{
				"lifetime_reading": gorm.Expr("lifetime_reading + ?", req.Delta),
				"updated_at":       now,
			}).Error; err != nil {
			return err
		}
		if err := s.AdjustUnpaidConsumption(ctx, tx, meter.ID, req.Delta); err != nil {
			return err
		}

		meter.LifetimeReading += req.Delta
		meter.UnpaidConsumption += req.Delta
		meter.UpdatedAt = now
		updated = &meter
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The ledger append sits outside the transaction: the reading is a
	// fact even when downstream billing later fails.
	meterID := updated.ID
	if req.Delta != 0 {
		if err := s.usageSvc.Append(ctx, &usagedomain.UsageLedgerEntry{
			CustomerID:     updated.CustomerID,
			MeterAccountID: &meterID,
			Units:          req.Delta,
			Source:         usagedomain.SourceTelemetry,
		}); err != nil {
			s.log.Warn("usage ledger append failed", zap.Error(err), zap.Int64("meter_id", int64(meterID)))
		}
	}

	s.metrics.RecordReadingIngest(ctx, updated.AccountNumber)
	return updated, nil
}

func (s *Service) AdjustUnpaidConsumption(ctx context.Context, tx *gorm.DB, meterID snowflake.ID, delta int64) error {
	if tx == nil {
		tx = s.db
	}
	return tx.WithContext(ctx).Exec(`
		UPDATE meter_accounts
		SET unpaid_consumption = CASE
			WHEN unpaid_consumption + ? < 0 THEN 0
			ELSE unpaid_consumption + ?
		END,
		updated_at = ?
		WHERE id = ?`,
		delta, delta, s.clock.Now(), meterID,
	).Error
}
