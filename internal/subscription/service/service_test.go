package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tirtabiz/tirta/internal/clock"
	"github.com/tirtabiz/tirta/internal/config"
	customerdomain "github.com/tirtabiz/tirta/internal/customer/domain"
	notificationdomain "github.com/tirtabiz/tirta/internal/notification/domain"
	notificationservice "github.com/tirtabiz/tirta/internal/notification/service"
	"github.com/tirtabiz/tirta/internal/providers/email"
	"github.com/tirtabiz/tirta/internal/subscription/domain"
	usagedomain "github.com/tirtabiz/tirta/internal/usage/domain"
	usageservice "github.com/tirtabiz/tirta/internal/usage/service"
	walletdomain "github.com/tirtabiz/tirta/internal/wallet/domain"
	walletservice "github.com/tirtabiz/tirta/internal/wallet/service"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

// stubCustomers satisfies the notification fan-out dependency without
// seeding customer rows; lookups miss, so no mail is attempted.
type stubCustomers struct{}

func (stubCustomers) Create(ctx context.Context, req customerdomain.CreateCustomerRequest) (*customerdomain.Customer, error) {
	return nil, customerdomain.ErrInvalidRequest
}

func (stubCustomers) GetByID(ctx context.Context, id snowflake.ID) (*customerdomain.Customer, error) {
	return nil, customerdomain.ErrNotFound
}

func (stubCustomers) List(ctx context.Context, limit int) ([]*customerdomain.Customer, error) {
	return nil, nil
}

type harness struct {
	db      *gorm.DB
	node    *snowflake.Node
	clk     *clock.FakeClock
	wallets walletdomain.Service
	svc     domain.Service
}

func newHarness(t *testing.T, policy config.BillingPolicy) *harness {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&domain.WaterCreditPlan{},
		&domain.Subscription{},
		&walletdomain.Wallet{},
		&walletdomain.Transaction{},
		&usagedomain.UsageLedgerEntry{},
		&notificationdomain.Notification{},
	))

	log := zaptest.NewLogger(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	holder := config.NewStaticBillingPolicyHolder(policy)

	walletSvc := walletservice.NewService(walletservice.ServiceParam{
		DB: gdb, Log: log, GenID: node, Clock: clk, Policy: holder,
	})
	usageSvc := usageservice.NewService(usageservice.ServiceParam{
		DB: gdb, Log: log, GenID: node, Clock: clk,
	})
	notifier := notificationservice.NewService(notificationservice.ServiceParam{
		DB: gdb, Log: log, GenID: node, Clock: clk,
		Email: email.Noop{}, CustomerSvc: stubCustomers{},
	})

	svc := NewService(ServiceParam{
		DB: gdb, Log: log, GenID: node, Clock: clk, Policy: holder,
		WalletSvc: walletSvc, UsageSvc: usageSvc, Notifier: notifier,
	})

	return &harness{db: gdb, node: node, clk: clk, wallets: walletSvc, svc: svc}
}

// setup creates a plan, a subscription and a funded customer wallet, and
// primes the settlement window so the first real boundary is tomorrow.
func (h *harness) setup(t *testing.T, req domain.CreatePlanRequest, balance int64) (*domain.WaterCreditPlan, *domain.Subscription) {
	t.Helper()
	ctx := context.Background()

	if req.OwnerID == 0 {
		req.OwnerID = h.node.Generate()
	}
	plan, err := h.svc.CreatePlan(ctx, req)
	require.NoError(t, err)

	sub, err := h.svc.Subscribe(ctx, domain.SubscribeRequest{
		CustomerID: h.node.Generate(),
		PlanID:     plan.ID,
	})
	require.NoError(t, err)

	if balance > 0 {
		_, err = h.wallets.TopUp(ctx, sub.CustomerID, balance)
		require.NoError(t, err)
	}

	// Subscribing opens the first window, so the next daily boundary is
	// tomorrow on the fake clock.
	return plan, sub
}

func dailyPlan() domain.CreatePlanRequest {
	return domain.CreatePlanRequest{
		Name:     "standard",
		Price:    3000,
		UnitSize: 10,
		Cadence:  domain.CadenceDaily,
	}
}

func TestIncrementUsageAccumulatesBeforeBoundary(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	_, sub := h.setup(t, dailyPlan(), 10000)

	res, err := h.svc.IncrementUsage(ctx, sub.ID, 3)
	require.NoError(t, err)
	assert.False(t, res.Settled)
	assert.Equal(t, int64(3), res.Subscription.WindowUnits)

	res, err = h.svc.IncrementUsage(ctx, sub.ID, 2)
	require.NoError(t, err)
	assert.False(t, res.Settled)
	assert.Equal(t, int64(5), res.Subscription.WindowUnits)
	assert.Equal(t, int64(5), res.Subscription.LifetimeUnits)

	var entries int64
	require.NoError(t, h.db.Model(&usagedomain.UsageLedgerEntry{}).
		Where("subscription_id = ?", sub.ID).Count(&entries).Error)
	assert.Equal(t, int64(2), entries)

	wallet, err := h.wallets.GetByOwner(ctx, sub.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), wallet.Balance)
}

func TestFullSettlementAtBoundary(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	plan, sub := h.setup(t, dailyPlan(), 10000)

	_, err := h.svc.IncrementUsage(ctx, sub.ID, 5)
	require.NoError(t, err)

	h.clk.Advance(24 * time.Hour)
	res, err := h.svc.IncrementUsage(ctx, sub.ID, 0)
	require.NoError(t, err)

	assert.True(t, res.Settled)
	assert.False(t, res.Partial)
	assert.Equal(t, int64(1500), res.AmountCharged) // 5 units at 300 each
	assert.Equal(t, int64(5), res.UnitsBilled)
	assert.Equal(t, int64(0), res.UnitsCarried)
	assert.Equal(t, int64(0), res.Subscription.WindowUnits)

	wallet, err := h.wallets.GetByOwner(ctx, sub.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, int64(8500), wallet.Balance)

	ownerWallet, err := h.wallets.GetByOwner(ctx, plan.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), ownerWallet.Balance)

	var reloaded domain.WaterCreditPlan
	require.NoError(t, h.db.First(&reloaded, "id = ?", plan.ID).Error)
	assert.Equal(t, int64(1500), reloaded.Income)
	assert.Equal(t, int64(1500), reloaded.TotalIncome)

	var trx walletdomain.Transaction
	require.NoError(t, h.db.First(&trx, "reference = ?", sub.ID.String()).Error)
	assert.Equal(t, walletdomain.CategoryUsageSettlement, trx.Category)
	assert.Equal(t, int64(1500), trx.Amount)
	assert.Equal(t, sub.CustomerID, trx.PayerID)
	assert.Equal(t, plan.OwnerID, trx.PayeeID)

	// Same day again: the window was consumed, nothing further settles.
	res, err = h.svc.IncrementUsage(ctx, sub.ID, 0)
	require.NoError(t, err)
	assert.False(t, res.Settled)
}

func TestEmptyWindowLeavesBoundaryOpen(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	req := dailyPlan()
	req.RewardCadence = domain.CadenceDaily
	req.RewardThreshold = 10
	req.RewardTokens = 5
	_, sub := h.setup(t, req, 10000)

	h.clk.Advance(24 * time.Hour)
	res, err := h.svc.IncrementUsage(ctx, sub.ID, 0)
	require.NoError(t, err)

	// Nothing to bill: no settlement, no reward, and the boundary does
	// not move.
	assert.False(t, res.Settled)
	assert.Equal(t, int64(0), res.RewardTokens)
	assert.Equal(t, sub.LastSettledAt.Unix(), res.Subscription.LastSettledAt.Unix())

	wallet, err := h.wallets.GetByOwner(ctx, sub.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), wallet.TokenBalance)

	// Usage arriving later the same day settles on its own increment.
	h.clk.Advance(2 * time.Hour)
	res, err = h.svc.IncrementUsage(ctx, sub.ID, 4)
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.Equal(t, int64(1200), res.AmountCharged)
	assert.Equal(t, int64(5), res.RewardTokens)
	assert.Equal(t, int64(0), res.Subscription.WindowUnits)
}

func TestPartialSettlementDrainsWallet(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	plan, sub := h.setup(t, dailyPlan(), 1000)

	_, err := h.svc.IncrementUsage(ctx, sub.ID, 5)
	require.NoError(t, err)

	h.clk.Advance(24 * time.Hour)
	res, err := h.svc.IncrementUsage(ctx, sub.ID, 0)
	require.NoError(t, err)

	// 1000 buys 3 of 5 units at 300 each. The 100 above the affordable
	// cost is forfeited with the wallet drain, not banked.
	assert.True(t, res.Settled)
	assert.True(t, res.Partial)
	assert.Equal(t, int64(900), res.AmountCharged)
	assert.Equal(t, int64(3), res.UnitsBilled)
	assert.Equal(t, int64(2), res.UnitsCarried)
	assert.Equal(t, int64(2), res.Subscription.WindowUnits)

	wallet, err := h.wallets.GetByOwner(ctx, sub.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), wallet.Balance)

	ownerWallet, err := h.wallets.GetByOwner(ctx, plan.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, int64(900), ownerWallet.Balance)

	var reloaded domain.WaterCreditPlan
	require.NoError(t, h.db.First(&reloaded, "id = ?", plan.ID).Error)
	assert.Equal(t, int64(900), reloaded.Income)

	var trx walletdomain.Transaction
	require.NoError(t, h.db.First(&trx, "reference = ?", sub.ID.String()).Error)
	assert.Equal(t, walletdomain.CategoryUsageSettlementPartial, trx.Category)
	assert.Equal(t, int64(900), trx.Amount)

	var warnings int64
	require.NoError(t, h.db.Model(&notificationdomain.Notification{}).
		Where("recipient_id = ? AND category = ?", sub.CustomerID, notificationdomain.CategoryBalanceWarning).
		Count(&warnings).Error)
	assert.Equal(t, int64(1), warnings)
}

func TestPartialSettlementBelowOneUnit(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	_, sub := h.setup(t, dailyPlan(), 200)

	_, err := h.svc.IncrementUsage(ctx, sub.ID, 4)
	require.NoError(t, err)

	h.clk.Advance(24 * time.Hour)
	res, err := h.svc.IncrementUsage(ctx, sub.ID, 0)
	require.NoError(t, err)

	// 200 buys nothing at 300 per unit: the wallet is untouched and the
	// whole window carries forward.
	assert.True(t, res.Partial)
	assert.Equal(t, int64(0), res.AmountCharged)
	assert.Equal(t, int64(0), res.UnitsBilled)
	assert.Equal(t, int64(4), res.UnitsCarried)

	wallet, err := h.wallets.GetByOwner(ctx, sub.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), wallet.Balance)

	var trxCount int64
	require.NoError(t, h.db.Model(&walletdomain.Transaction{}).
		Where("reference = ?", sub.ID.String()).Count(&trxCount).Error)
	assert.Equal(t, int64(0), trxCount)
}

func TestBalanceWarningDedupedPerDay(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	_, sub := h.setup(t, dailyPlan(), 100)

	_, err := h.svc.IncrementUsage(ctx, sub.ID, 2)
	require.NoError(t, err)

	h.clk.Advance(24 * time.Hour)
	_, err = h.svc.IncrementUsage(ctx, sub.ID, 0)
	require.NoError(t, err)

	// Another partial boundary on the following day carries the window
	// again; the warning dedupes per calendar day, so day two adds one.
	h.clk.Advance(24 * time.Hour)
	_, err = h.svc.IncrementUsage(ctx, sub.ID, 0)
	require.NoError(t, err)

	var warnings int64
	require.NoError(t, h.db.Model(&notificationdomain.Notification{}).
		Where("recipient_id = ? AND category = ?", sub.CustomerID, notificationdomain.CategoryBalanceWarning).
		Count(&warnings).Error)
	assert.Equal(t, int64(2), warnings)
}

func TestConservationReward(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	req := dailyPlan()
	req.RewardCadence = domain.CadenceDaily
	req.RewardThreshold = 10
	req.RewardTokens = 5
	_, sub := h.setup(t, req, 10000)

	_, err := h.svc.IncrementUsage(ctx, sub.ID, 3)
	require.NoError(t, err)

	h.clk.Advance(24 * time.Hour)
	res, err := h.svc.IncrementUsage(ctx, sub.ID, 0)
	require.NoError(t, err)

	assert.True(t, res.Settled)
	assert.Equal(t, int64(5), res.RewardTokens)
	assert.False(t, res.Subscription.LastRewardAt.IsZero())

	wallet, err := h.wallets.GetByOwner(ctx, sub.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), wallet.TokenBalance)
	assert.Equal(t, int64(10000-900), wallet.Balance)
}

func TestConservationRewardAboveThreshold(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	req := dailyPlan()
	req.RewardCadence = domain.CadenceDaily
	req.RewardThreshold = 3
	req.RewardTokens = 5
	_, sub := h.setup(t, req, 10000)

	_, err := h.svc.IncrementUsage(ctx, sub.ID, 3) // not strictly below threshold
	require.NoError(t, err)

	h.clk.Advance(24 * time.Hour)
	res, err := h.svc.IncrementUsage(ctx, sub.ID, 0)
	require.NoError(t, err)

	assert.True(t, res.Settled)
	assert.Equal(t, int64(0), res.RewardTokens)
}

func TestConservationRewardDisabledByPolicy(t *testing.T) {
	policy := config.DefaultBillingPolicy()
	policy.RewardEnabled = false
	h := newHarness(t, policy)
	ctx := context.Background()
	req := dailyPlan()
	req.RewardCadence = domain.CadenceDaily
	req.RewardThreshold = 10
	req.RewardTokens = 5
	_, sub := h.setup(t, req, 10000)

	_, err := h.svc.IncrementUsage(ctx, sub.ID, 2)
	require.NoError(t, err)

	h.clk.Advance(24 * time.Hour)
	res, err := h.svc.IncrementUsage(ctx, sub.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(0), res.RewardTokens)
	wallet, err := h.wallets.GetByOwner(ctx, sub.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), wallet.TokenBalance)
}

func TestPipeCloseOnZeroBalance(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	_, sub := h.setup(t, dailyPlan(), 0)

	res, err := h.svc.IsBalanceZero(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.False(t, res.AlreadyClosed)

	res, err = h.svc.IsBalanceZero(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.True(t, res.AlreadyClosed)

	var notifications int64
	require.NoError(t, h.db.Model(&notificationdomain.Notification{}).
		Where("recipient_id = ? AND category = ?", sub.CustomerID, notificationdomain.CategoryPipeClosed).
		Count(&notifications).Error)
	assert.Equal(t, int64(1), notifications)
}

func TestPipeStaysOpenWithBalance(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	_, sub := h.setup(t, dailyPlan(), 500)

	res, err := h.svc.IsBalanceZero(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, res.Closed)

	var reloaded domain.Subscription
	require.NoError(t, h.db.First(&reloaded, "id = ?", sub.ID).Error)
	assert.False(t, reloaded.PipeClosed)
}

func TestIncrementUsageValidation(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	_, sub := h.setup(t, dailyPlan(), 1000)

	_, err := h.svc.IncrementUsage(ctx, sub.ID, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidDelta)

	_, err = h.svc.IncrementUsage(ctx, h.node.Generate(), 1)
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
}

func TestSubscribeDuplicate(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()

	plan, err := h.svc.CreatePlan(ctx, domain.CreatePlanRequest{
		OwnerID: h.node.Generate(), Name: "standard",
		Price: 3000, UnitSize: 10, Cadence: domain.CadenceDaily,
	})
	require.NoError(t, err)

	customerID := h.node.Generate()
	_, err = h.svc.Subscribe(ctx, domain.SubscribeRequest{CustomerID: customerID, PlanID: plan.ID})
	require.NoError(t, err)

	_, err = h.svc.Subscribe(ctx, domain.SubscribeRequest{CustomerID: customerID, PlanID: plan.ID})
	assert.ErrorIs(t, err, domain.ErrSubscriptionExists)
}

func TestCreatePlanValidation(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	owner := h.node.Generate()

	tests := []struct {
		name string
		req  domain.CreatePlanRequest
	}{
		{"uneven unit price", domain.CreatePlanRequest{OwnerID: owner, Name: "x", Price: 1000, UnitSize: 3, Cadence: domain.CadenceDaily}},
		{"zero unit size", domain.CreatePlanRequest{OwnerID: owner, Name: "x", Price: 1000, UnitSize: 0, Cadence: domain.CadenceDaily}},
		{"bad cadence", domain.CreatePlanRequest{OwnerID: owner, Name: "x", Price: 1000, UnitSize: 10, Cadence: "fortnightly"}},
		{"reward without cadence", domain.CreatePlanRequest{OwnerID: owner, Name: "x", Price: 1000, UnitSize: 10, Cadence: domain.CadenceDaily, RewardTokens: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.CreatePlan(ctx, tt.req)
			assert.ErrorIs(t, err, domain.ErrInvalidPlan)
		})
	}
}
