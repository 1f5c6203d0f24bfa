package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/tirtabiz/tirta/internal/customer/domain"
	"github.com/tirtabiz/tirta/pkg/db"
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
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	customers repository.Repository[domain.Customer]
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("customer.service"),
		genID:     p.GenID,
		customers: repository.ProvideStore[domain.Customer](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateCustomerRequest) (*domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if name == "" || email == "" {
		return nil, domain.ErrInvalidRequest
	}

	customer := &domain.Customer{
		ID:      s.genID.Generate(),
		Name:    name,
		Email:   email,
		Phone:   strings.TrimSpace(req.Phone),
		Address: strings.TrimSpace(req.Address),
	}

	if err := s.customers.Create(ctx, customer); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrEmailExists
		}
		return nil, err
	}
	return customer, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Customer, error) {
	customer, err := s.customers.FindOne(ctx, &domain.Customer{ID: id})
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, domain.ErrNotFound
	}
	return customer, nil
}

func (s *Service) List(ctx context.Context, limit int) ([]*domain.Customer, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.customers.Find(ctx, &domain.Customer{},
		option.WithSortBy("created_at", true),
		option.WithLimit(limit),
	)
}
