package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/tirtabiz/tirta/internal/clock"
	customerdomain "github.com/tirtabiz/tirta/internal/customer/domain"
	"github.com/tirtabiz/tirta/internal/notification/domain"
	obsmetrics "github.com/tirtabiz/tirta/internal/observability/metrics"
	"github.com/tirtabiz/tirta/internal/providers/email"
	"github.com/tirtabiz/tirta/pkg/db"
	"github.com/tirtabiz/tirta/pkg/db/option"
	"github.com/tirtabiz/tirta/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Email       email.Provider
	CustomerSvc customerdomain.Service
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	email         email.Provider
	customerSvc   customerdomain.Service
	metrics       *obsmetrics.Metrics
	notifications repository.Repository[domain.Notification]
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("notification.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		email:         p.Email,
		customerSvc:   p.CustomerSvc,
		metrics:       p.Metrics,
		notifications: repository.ProvideStore[domain.Notification](p.DB),
	}
}

func (s *Service) Notify(ctx context.Context, n *domain.Notification) error {
	if n == nil || n.RecipientID == 0 || n.Category == "" || n.Title == "" {
		return domain.ErrInvalidNotification
	}
	if n.ID == 0 {
		n.ID = s.genID.Generate()
	}

	if err := s.notifications.Create(ctx, n); err != nil {
		return err
	}

	s.metrics.RecordNotification(ctx, n.Category)
	s.fanOut(ctx, n)
	return nil
}

func (s *Service) NotifyDaily(ctx context.Context, n *domain.Notification) (bool, error) {
	if n == nil || n.RecipientID == 0 || n.Category == "" || n.Title == "" {
		return false, domain.ErrInvalidNotification
	}
	if n.ID == 0 {
		n.ID = s.genID.Generate()
	}
	key := domain.DailyDedupeKey(n.RecipientID, n.Category, s.clock.Now())
	n.DedupeKey = &key

	if err := s.notifications.Create(ctx, n); err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Already sent today; the idempotency key absorbs the retry.
			return false, nil
		}
		return false, err
	}

	s.metrics.RecordNotification(ctx, n.Category)
	s.fanOut(ctx, n)
	return true, nil
}

func (s *Service) ListByRecipient(ctx context.Context, recipientID snowflake.ID, limit int) ([]*domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.notifications.Find(ctx, &domain.Notification{RecipientID: recipientID},
		option.WithSortBy("created_at", true),
		option.WithLimit(limit),
	)
}

// fanOut delivers by email, best effort. The persisted row is the
// source of truth; delivery failures never bubble up.
func (s *Service) fanOut(ctx context.Context, n *domain.Notification) {
	customer, err := s.customerSvc.GetByID(ctx, n.RecipientID)
	if err != nil || customer.Email == "" {
		return
	}
	if err := s.email.Send(ctx, customer.Email, n.Title, n.Body); err != nil {
		s.log.Warn("email delivery failed",
			zap.Error(err),
			zap.Int64("recipient_id", int64(n.RecipientID)),
			zap.String("category", n.Category),
		)
	}
}
