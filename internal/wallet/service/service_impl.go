package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/tirtabiz/tirta/internal/clock"
	"github.com/tirtabiz/tirta/internal/config"
	"github.com/tirtabiz/tirta/internal/wallet/domain"
	"github.com/tirtabiz/tirta/pkg/db"
	"github.com/tirtabiz/tirta/pkg/db/option"
	"github.com/tirtabiz/tirta/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Policy *config.BillingPolicyHolder
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	policy       *config.BillingPolicyHolder
	wallets      repository.Repository[domain.Wallet]
	transactions repository.Repository[domain.Transaction]
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("wallet.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		policy:       p.Policy,
		wallets:      repository.ProvideStore[domain.Wallet](p.DB),
		transactions: repository.ProvideStore[domain.Transaction](p.DB),
	}
}

func (s *Service) Ensure(ctx context.Context, ownerID snowflake.ID) (*domain.Wallet, error) {
	wallet, err := s.wallets.FindOne(ctx, &domain.Wallet{OwnerID: ownerID})
	if err != nil {
		return nil, err
	}
	if wallet != nil {
		return wallet, nil
	}

	wallet = &domain.Wallet{
		ID:      s.genID.Generate(),
		OwnerID: ownerID,
	}
	if err := s.wallets.Create(ctx, wallet); err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Lost the race; the winner's row is authoritative.
			return s.GetByOwner(ctx, ownerID)
		}
		return nil, err
	}
	return wallet, nil
}

func (s *Service) GetByOwner(ctx context.Context, ownerID snowflake.ID) (*domain.Wallet, error) {
	wallet, err := s.wallets.FindOne(ctx, &domain.Wallet{OwnerID: ownerID})
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, domain.ErrWalletNotFound
	}
	return wallet, nil
}

func (s *Service) TopUp(ctx context.Context, ownerID snowflake.ID, amount int64) (*domain.Wallet, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	var updated *domain.Wallet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, err := s.lockWallet(ctx, tx, ownerID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		if err := tx.Model(&domain.Wallet{}).
			Where("id = ?", wallet.ID).
			Updates(map[string]any{
				"balance":    gorm.Expr("balance + ?", amount),
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		if err := s.transactions.WithTrx(tx).Create(ctx, &domain.Transaction{
			ID:       s.genID.Generate(),
			PayerID:  ownerID,
			PayeeID:  ownerID,
			Amount:   amount,
			Category: domain.CategoryTopUp,
		}); err != nil {
			return err
		}

		wallet.Balance += amount
		wallet.UpdatedAt = now
		updated = wallet
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) ConvertTokens(ctx context.Context, ownerID snowflake.ID, tokens int64) (*domain.Wallet, error) {
	if tokens <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	rate := s.policy.Get().TokenCashRate
	cash := tokens * rate

	var updated *domain.Wallet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, err := s.lockWallet(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		if wallet.TokenBalance < tokens {
			return domain.ErrInsufficientTokens
		}

		now := s.clock.Now()
		if err := tx.Model(&domain.Wallet{}).
			Where("id = ?", wallet.ID).
			Updates(map[string]any{
				"token_balance": gorm.Expr("token_balance - ?", tokens),
				"balance":       gorm.Expr("balance + ?", cash),
				"updated_at":    now,
			}).Error; err != nil {
			return err
		}

		if err := s.transactions.WithTrx(tx).Create(ctx, &domain.Transaction{
			ID:       s.genID.Generate(),
			PayerID:  ownerID,
			PayeeID:  ownerID,
			Amount:   cash,
			Category: domain.CategoryTokenConversion,
			Metadata: map[string]any{"tokens": tokens, "rate": rate},
		}); err != nil {
			return err
		}

		wallet.TokenBalance -= tokens
		wallet.Balance += cash
		wallet.UpdatedAt = now
		updated = wallet
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("tokens converted",
		zap.Int64("owner_id", int64(ownerID)),
		zap.Int64("tokens", tokens),
		zap.Int64("cash", cash),
	)
	return updated, nil
}

func (s *Service) ListTransactions(ctx context.Context, ownerID snowflake.ID, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.transactions.Find(ctx, &domain.Transaction{},
		option.WithFilter("payer_id = ? OR payee_id = ?", ownerID, ownerID),
		option.WithSortBy("created_at", true),
		option.WithLimit(limit),
	)
}

func (s *Service) lockWallet(ctx context.Context, tx *gorm.DB, ownerID snowflake.ID) (*domain.Wallet, error) {
	var wallet domain.Wallet
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("owner_id = ?", ownerID).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}
