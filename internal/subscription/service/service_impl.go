package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tirtabiz/tirta/internal/clock"
	"github.com/tirtabiz/tirta/internal/config"
	notificationdomain "github.com/tirtabiz/tirta/internal/notification/domain"
	obsmetrics "github.com/tirtabiz/tirta/internal/observability/metrics"
	"github.com/tirtabiz/tirta/internal/subscription/domain"
	usagedomain "github.com/tirtabiz/tirta/internal/usage/domain"
	walletdomain "github.com/tirtabiz/tirta/internal/wallet/domain"
	"github.com/tirtabiz/tirta/pkg/db"
	"github.com/tirtabiz/tirta/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Policy    *config.BillingPolicyHolder
	WalletSvc walletdomain.Service
	UsageSvc  usagedomain.Service
	Notifier  notificationdomain.Service
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	policy        *config.BillingPolicyHolder
	walletSvc     walletdomain.Service
	usageSvc      usagedomain.Service
	notifier      notificationdomain.Service
	metrics       *obsmetrics.Metrics
	plans         repository.Repository[domain.WaterCreditPlan]
	subscriptions repository.Repository[domain.Subscription]
	transactions  repository.Repository[walletdomain.Transaction]
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("subscription.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		policy:        p.Policy,
		walletSvc:     p.WalletSvc,
		usageSvc:      p.UsageSvc,
		notifier:      p.Notifier,
		metrics:       p.Metrics,
		plans:         repository.ProvideStore[domain.WaterCreditPlan](p.DB),
		subscriptions: repository.ProvideStore[domain.Subscription](p.DB),
		transactions:  repository.ProvideStore[walletdomain.Transaction](p.DB),
	}
}

func (s *Service) CreatePlan(ctx context.Context, req domain.CreatePlanRequest) (*domain.WaterCreditPlan, error) {
	if req.OwnerID == 0 || req.Name == "" || !req.Cadence.Valid() {
		return nil, domain.ErrInvalidPlan
	}
	// Integer per-unit cost keeps every settlement amount exact.
	if req.Price <= 0 || req.UnitSize <= 0 || req.Price%req.UnitSize != 0 {
		return nil, domain.ErrInvalidPlan
	}
	if req.RewardTokens > 0 && !req.RewardCadence.Valid() {
		return nil, domain.ErrInvalidPlan
	}

	if _, err := s.walletSvc.Ensure(ctx, req.OwnerID); err != nil {
		return nil, err
	}

	plan := &domain.WaterCreditPlan{
		ID:              s.genID.Generate(),
		OwnerID:         req.OwnerID,
		Name:            req.Name,
		Price:           req.Price,
		UnitSize:        req.UnitSize,
		Cadence:         req.Cadence,
		RewardCadence:   req.RewardCadence,
		RewardThreshold: req.RewardThreshold,
		RewardTokens:    req.RewardTokens,
		Active:          true,
	}
	if err := s.plans.Create(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *Service) GetPlan(ctx context.Context, id snowflake.ID) (*domain.WaterCreditPlan, error) {
	plan, err := s.plans.FindOne(ctx, &domain.WaterCreditPlan{ID: id})
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrPlanNotFound
	}
	return plan, nil
}

func (s *Service) Subscribe(ctx context.Context, req domain.SubscribeRequest) (*domain.Subscription, error) {
	plan, err := s.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, domain.ErrPlanNotFound
	}

	if _, err := s.walletSvc.Ensure(ctx, req.CustomerID); err != nil {
		return nil, err
	}

	// The first billing and reward windows open at subscription time.
	now := s.clock.Now()
	sub := &domain.Subscription{
		ID:            s.genID.Generate(),
		CustomerID:    req.CustomerID,
		PlanID:        req.PlanID,
		Active:        true,
		LastSettledAt: now,
		LastRewardAt:  now,
	}
	if err := s.subscriptions.Create(ctx, sub); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrSubscriptionExists
		}
		return nil, err
	}
	return sub, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Subscription, error) {
	sub, err := s.subscriptions.FindOne(ctx, &domain.Subscription{ID: id})
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) ListActive(ctx context.Context) ([]*domain.Subscription, error) {
	return s.subscriptions.Find(ctx, &domain.Subscription{Active: true})
}

func (s *Service) IncrementUsage(ctx context.Context, id snowflake.ID, delta int64) (*domain.SettlementResult, error) {
	if delta < 0 {
		return nil, domain.ErrInvalidDelta
	}

	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	plan, err := s.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	if !sub.Active || !plan.Active {
		return nil, domain.ErrSubscriptionInactive
	}
	if plan.CostPerUnit() <= 0 {
		return nil, domain.ErrInvalidPlan
	}
	// Both wallets must exist before any money moves.
	if _, err := s.walletSvc.GetByOwner(ctx, sub.CustomerID); err != nil {
		return nil, err
	}
	if _, err := s.walletSvc.Ensure(ctx, plan.OwnerID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if delta > 0 {
		if err := s.db.WithContext(ctx).Model(&domain.Subscription{}).
			Where("id = ?", sub.ID).
			Updates(map[string]any{
				"lifetime_units": gorm.Expr("lifetime_units + ?", delta),
				"window_units":   gorm.Expr("window_units + ?", delta),
				"updated_at":     now,
			}).Error; err != nil {
			return nil, err
		}
		sub.LifetimeUnits += delta
		sub.WindowUnits += delta

		// Usage is a fact: record it outside the settlement transaction
		// so a billing rollback never erases it.
		subID := sub.ID
		if err := s.usageSvc.Append(ctx, &usagedomain.UsageLedgerEntry{
			CustomerID:     sub.CustomerID,
			SubscriptionID: &subID,
			Units:          delta,
			Source:         usagedomain.SourceSubscription,
		}); err != nil {
			s.log.Warn("usage ledger append failed", zap.Error(err), zap.Int64("subscription_id", int64(subID)))
		}
	}

	if !plan.Cadence.IsDue(sub.LastSettledAt, now) {
		return &domain.SettlementResult{Subscription: sub, Settled: false}, nil
	}

	result, err := s.settle(ctx, sub.ID, plan, now)
	if err != nil {
		return nil, err
	}

	if result.Settled {
		kind := "full"
		if result.Partial {
			kind = "partial"
		}
		s.metrics.RecordSettlement(ctx, kind)
	}
	if result.Partial {
		s.warnLowBalance(ctx, sub.CustomerID, result)
	}
	if result.RewardTokens > 0 {
		s.notifyReward(ctx, sub.CustomerID, result.RewardTokens)
	}
	return result, nil
}

// settle runs the money-moving transaction for one due window. The due
// predicate is re-checked on the locked row so concurrent callers settle
// a window at most once.
func (s *Service) settle(ctx context.Context, subID snowflake.ID, plan *domain.WaterCreditPlan, now time.Time) (*domain.SettlementResult, error) {
	policy := s.policy.Get()
	costPerUnit := plan.CostPerUnit()

	var result *domain.SettlementResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub domain.Subscription
		if err := db.ForUpdate(tx).Where("id = ?", subID).First(&sub).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrSubscriptionNotFound
			}
			return err
		}
		if !plan.Cadence.IsDue(sub.LastSettledAt, now) {
			result = &domain.SettlementResult{Subscription: &sub, Settled: false}
			return nil
		}

		if sub.WindowUnits == 0 {
			// Nothing to bill. The boundary stays open, so usage arriving
			// later in the window settles on its own increment.
			result = &domain.SettlementResult{Subscription: &sub, Settled: false}
			return nil
		}

		var rewardTokens int64
		if policy.RewardEnabled && plan.RewardTokens > 0 && plan.RewardCadence.Valid() &&
			plan.RewardCadence.IsDue(sub.LastRewardAt, now) &&
			sub.WindowUnits < plan.RewardThreshold {
			rewardTokens = plan.RewardTokens
		}

		updates := map[string]any{
			"last_settled_at": now,
			"updated_at":      now,
		}
		if rewardTokens > 0 {
			updates["last_reward_at"] = now
		}

		customerWallet, ownerWallet, err := s.lockWalletPair(tx, sub.CustomerID, plan.OwnerID)
		if err != nil {
			return err
		}

		totalCost := sub.WindowUnits * costPerUnit
		var amount, unitsBilled, unitsCarried int64
		partial := false
		switch {
		case customerWallet.Balance >= totalCost:
			amount = totalCost
			unitsBilled = sub.WindowUnits
		default:
			partial = true
			affordable := customerWallet.Balance / costPerUnit
			amount = affordable * costPerUnit
			unitsBilled = affordable
			unitsCarried = sub.WindowUnits - affordable
		}
		updates["window_units"] = unitsCarried

		customerUpdates := map[string]any{"updated_at": now}
		switch {
		case partial && unitsBilled > 0:
			// Partial settlement drains the wallet: the sub-unit
			// remainder is forfeited, not banked.
			customerUpdates["balance"] = int64(0)
		case amount > 0:
			customerUpdates["balance"] = gorm.Expr("balance - ?", amount)
		}
		if rewardTokens > 0 {
			customerUpdates["token_balance"] = gorm.Expr("token_balance + ?", rewardTokens)
		}
		if len(customerUpdates) > 1 {
			if err := tx.Model(&walletdomain.Wallet{}).
				Where("id = ?", customerWallet.ID).
				Updates(customerUpdates).Error; err != nil {
				return err
			}
		}

		if amount > 0 {
			if err := tx.Model(&walletdomain.Wallet{}).
				Where("id = ?", ownerWallet.ID).
				Updates(map[string]any{
					"balance":    gorm.Expr("balance + ?", amount),
					"updated_at": now,
				}).Error; err != nil {
				return err
			}
			if err := tx.Model(&domain.WaterCreditPlan{}).
				Where("id = ?", plan.ID).
				Updates(map[string]any{
					"income":       gorm.Expr("income + ?", amount),
					"total_income": gorm.Expr("total_income + ?", amount),
					"updated_at":   now,
				}).Error; err != nil {
				return err
			}

			category := walletdomain.CategoryUsageSettlement
			if partial {
				category = walletdomain.CategoryUsageSettlementPartial
			}
			if err := s.transactions.WithTrx(tx).Create(ctx, &walletdomain.Transaction{
				ID:        s.genID.Generate(),
				PayerID:   sub.CustomerID,
				PayeeID:   plan.OwnerID,
				Amount:    amount,
				Category:  category,
				Reference: sub.ID.String(),
				Metadata: map[string]any{
					"plan_id":       plan.ID.String(),
					"cost_per_unit": costPerUnit,
					"units_billed":  unitsBilled,
					"units_carried": unitsCarried,
				},
			}); err != nil {
				return err
			}
		}

		if err := tx.Model(&domain.Subscription{}).Where("id = ?", sub.ID).Updates(updates).Error; err != nil {
			return err
		}

		sub.WindowUnits = unitsCarried
		sub.LastSettledAt = now
		if rewardTokens > 0 {
			sub.LastRewardAt = now
		}
		result = &domain.SettlementResult{
			Subscription:  &sub,
			Settled:       unitsBilled > 0 || partial,
			Partial:       partial,
			AmountCharged: amount,
			UnitsBilled:   unitsBilled,
			UnitsCarried:  unitsCarried,
			RewardTokens:  rewardTokens,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Settled {
		s.log.Info("subscription settled",
			zap.Int64("subscription_id", int64(subID)),
			zap.Bool("partial", result.Partial),
			zap.Int64("amount", result.AmountCharged),
			zap.Int64("units_billed", result.UnitsBilled),
			zap.Int64("units_carried", result.UnitsCarried),
		)
	}
	return result, nil
}

// lockWalletPair locks the customer and plan-owner wallets in ascending
// owner order so two settlements touching the same pair cannot deadlock.
func (s *Service) lockWalletPair(tx *gorm.DB, customerID, ownerID snowflake.ID) (*walletdomain.Wallet, *walletdomain.Wallet, error) {
	ids := []snowflake.ID{customerID, ownerID}
	if ids[1] < ids[0] {
		ids[0], ids[1] = ids[1], ids[0]
	}

	byOwner := make(map[snowflake.ID]*walletdomain.Wallet, 2)
	for _, ownID := range ids {
		if _, ok := byOwner[ownID]; ok {
			continue
		}
		var w walletdomain.Wallet
		if err := db.ForUpdate(tx).Where("owner_id = ?", ownID).First(&w).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil, walletdomain.ErrWalletNotFound
			}
			return nil, nil, err
		}
		byOwner[ownID] = &w
	}
	return byOwner[customerID], byOwner[ownerID], nil
}

func (s *Service) IsBalanceZero(ctx context.Context, id snowflake.ID) (*domain.PipeCheckResult, error) {
	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	wallet, err := s.walletSvc.GetByOwner(ctx, sub.CustomerID)
	if err != nil {
		return nil, err
	}
	if wallet.Balance != 0 {
		return &domain.PipeCheckResult{Closed: false}, nil
	}
	if sub.PipeClosed {
		return &domain.PipeCheckResult{Closed: true, AlreadyClosed: true}, nil
	}

	res := s.db.WithContext(ctx).Model(&domain.Subscription{}).
		Where("id = ? AND pipe_closed = ?", sub.ID, false).
		Updates(map[string]any{
			"pipe_closed": true,
			"updated_at":  s.clock.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the race to a concurrent check.
		return &domain.PipeCheckResult{Closed: true, AlreadyClosed: true}, nil
	}

	if _, err := s.notifier.NotifyDaily(ctx, &notificationdomain.Notification{
		RecipientID: sub.CustomerID,
		Category:    notificationdomain.CategoryPipeClosed,
		Title:       "Water supply suspended",
		Body:        "Your balance reached zero and your water supply has been suspended. Top up your wallet to restore service.",
	}); err != nil {
		s.log.Warn("pipe-closed notification failed", zap.Error(err), zap.Int64("subscription_id", int64(id)))
	}

	s.log.Info("pipe closed", zap.Int64("subscription_id", int64(id)), zap.Int64("customer_id", int64(sub.CustomerID)))
	return &domain.PipeCheckResult{Closed: true}, nil
}

func (s *Service) warnLowBalance(ctx context.Context, customerID snowflake.ID, result *domain.SettlementResult) {
	body := fmt.Sprintf(
		"Your wallet covered %d of %d units this settlement; %d units were carried over. Top up to avoid supply suspension.",
		result.UnitsBilled, result.UnitsBilled+result.UnitsCarried, result.UnitsCarried,
	)
	if _, err := s.notifier.NotifyDaily(ctx, &notificationdomain.Notification{
		RecipientID: customerID,
		Category:    notificationdomain.CategoryBalanceWarning,
		Title:       "Low wallet balance",
		Body:        body,
	}); err != nil {
		s.log.Warn("balance warning failed", zap.Error(err), zap.Int64("customer_id", int64(customerID)))
	}
}

func (s *Service) notifyReward(ctx context.Context, customerID snowflake.ID, tokens int64) {
	if err := s.notifier.Notify(ctx, &notificationdomain.Notification{
		RecipientID: customerID,
		Category:    notificationdomain.CategoryRewardIssued,
		Title:       "Conservation reward earned",
		Body:        fmt.Sprintf("You earned %d conservation tokens for staying under your plan's usage threshold.", tokens),
	}); err != nil {
		s.log.Warn("reward notification failed", zap.Error(err), zap.Int64("customer_id", int64(customerID)))
	}
}
