package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/tirtabiz/tirta/internal/clock"
	"github.com/tirtabiz/tirta/internal/usage/domain"
	"github.com/tirtabiz/tirta/pkg/db/option"
	"github.com/tirtabiz/tirta/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	entries repository.Repository[domain.UsageLedgerEntry]
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("usage.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		entries: repository.ProvideStore[domain.UsageLedgerEntry](p.DB),
	}
}

func (s *Service) Append(ctx context.Context, entry *domain.UsageLedgerEntry) error {
	if entry == nil || entry.CustomerID == 0 || entry.Source == "" {
		return domain.ErrInvalidEntry
	}
	if entry.ID == 0 {
		entry.ID = s.genID.Generate()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = s.clock.Now()
	}

	if err := s.entries.Create(ctx, entry); err != nil {
		return err
	}

	s.log.Debug("usage recorded",
		zap.Int64("customer_id", int64(entry.CustomerID)),
		zap.Int64("units", entry.Units),
		zap.String("source", entry.Source),
	)
	return nil
}

func (s *Service) ListByCustomer(ctx context.Context, customerID snowflake.ID, limit int) ([]*domain.UsageLedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.entries.Find(ctx, &domain.UsageLedgerEntry{CustomerID: customerID},
		option.WithSortBy("recorded_at", true),
		option.WithLimit(limit),
	)
}
