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
	"github.com/tirtabiz/tirta/internal/invoice/domain"
	"github.com/tirtabiz/tirta/internal/invoice/render"
	meterdomain "github.com/tirtabiz/tirta/internal/meter/domain"
	meterservice "github.com/tirtabiz/tirta/internal/meter/service"
	notificationdomain "github.com/tirtabiz/tirta/internal/notification/domain"
	notificationservice "github.com/tirtabiz/tirta/internal/notification/service"
	"github.com/tirtabiz/tirta/internal/providers/email"
	usagedomain "github.com/tirtabiz/tirta/internal/usage/domain"
	usageservice "github.com/tirtabiz/tirta/internal/usage/service"
	walletdomain "github.com/tirtabiz/tirta/internal/wallet/domain"
	walletservice "github.com/tirtabiz/tirta/internal/wallet/service"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

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
	meters  meterdomain.Service
	wallets walletdomain.Service
	svc     domain.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&meterdomain.TariffTier{},
		&meterdomain.MeterAccount{},
		&domain.Invoice{},
		&walletdomain.Wallet{},
		&walletdomain.Transaction{},
		&usagedomain.UsageLedgerEntry{},
		&notificationdomain.Notification{},
	))

	log := zaptest.NewLogger(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	holder := config.NewStaticBillingPolicyHolder(config.DefaultBillingPolicy())

	usageSvc := usageservice.NewService(usageservice.ServiceParam{
		DB: gdb, Log: log, GenID: node, Clock: clk,
	})
	meterSvc := meterservice.NewService(meterservice.ServiceParam{
		DB: gdb, Log: log, GenID: node, Clock: clk, UsageSvc: usageSvc,
	})
	walletSvc := walletservice.NewService(walletservice.ServiceParam{
		DB: gdb, Log: log, GenID: node, Clock: clk, Policy: holder,
	})
	notifier := notificationservice.NewService(notificationservice.ServiceParam{
		DB: gdb, Log: log, GenID: node, Clock: clk,
		Email: email.Noop{}, CustomerSvc: stubCustomers{},
	})

	svc := NewService(ServiceParam{
		DB: gdb, Log: log, GenID: node, Clock: clk, Policy: holder,
		MeterSvc: meterSvc, CustomerSvc: stubCustomers{},
		Notifier: notifier, Renderer: render.New(),
	})

	return &harness{db: gdb, node: node, clk: clk, meters: meterSvc, wallets: walletSvc, svc: svc}
}

// newMeter creates a tariff tier and a meter account with the given
// lifetime reading already ingested.
func (h *harness) newMeter(t *testing.T, accountNumber string, reading int64) *meterdomain.MeterAccount {
	t.Helper()
	ctx := context.Background()

	tier := &meterdomain.TariffTier{
		ID:                  h.node.Generate(),
		Name:                "residential-" + accountNumber,
		PriceBelowThreshold: 2500,
		PriceAboveThreshold: 3000,
		BaseFee:             5000,
	}
	require.NoError(t, h.db.Create(tier).Error)

	meter, err := h.meters.Create(ctx, meterdomain.CreateMeterRequest{
		CustomerID:    h.node.Generate(),
		AccountNumber: accountNumber,
		TariffTierID:  tier.ID,
	})
	require.NoError(t, err)

	if reading > 0 {
		meter, err = h.meters.RecordReading(ctx, meterdomain.RecordReadingRequest{
			AccountNumber: accountNumber,
			Delta:         reading,
		})
		require.NoError(t, err)
	}
	return meter
}

func TestGenerateForMeter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := h.newMeter(t, "WTR-001", 12)

	inv, err := h.svc.GenerateForMeter(ctx, meter.ID, "2026-03")
	require.NoError(t, err)

	assert.Equal(t, int64(0), inv.PreviousReading)
	assert.Equal(t, int64(12), inv.CurrentReading)
	assert.Equal(t, int64(12), inv.Consumption)
	// 10 units at 2500 plus 2 at 3000.
	assert.Equal(t, int64(31000), inv.UsageCost)
	assert.Equal(t, int64(5000), inv.BaseFee)
	assert.Equal(t, int64(36000), inv.Amount)
	assert.Equal(t, domain.StatusPending, inv.Status)
	assert.False(t, inv.Overdue)
	assert.Equal(t, time.Date(2026, 4, 25, 23, 59, 59, 0, time.UTC), inv.DueDate)

	// Generation never touches the unpaid counter; only telemetry did.
	reloaded, err := h.meters.GetByID(ctx, meter.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), reloaded.UnpaidConsumption)
	require.NotNil(t, reloaded.NextDueAt)
	assert.Equal(t, inv.DueDate, reloaded.NextDueAt.UTC())

	var created int64
	require.NoError(t, h.db.Model(&notificationdomain.Notification{}).
		Where("recipient_id = ? AND category = ?", meter.CustomerID, notificationdomain.CategoryInvoiceCreated).
		Count(&created).Error)
	assert.Equal(t, int64(1), created)
}

func TestGenerateUsesPriorInvoiceBaseline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := h.newMeter(t, "WTR-002", 12)

	_, err := h.svc.GenerateForMeter(ctx, meter.ID, "2026-03")
	require.NoError(t, err)

	_, err = h.meters.RecordReading(ctx, meterdomain.RecordReadingRequest{AccountNumber: "WTR-002", Delta: 5})
	require.NoError(t, err)

	inv, err := h.svc.GenerateForMeter(ctx, meter.ID, "2026-04")
	require.NoError(t, err)
	assert.Equal(t, int64(12), inv.PreviousReading)
	assert.Equal(t, int64(17), inv.CurrentReading)
	assert.Equal(t, int64(5), inv.Consumption)
	assert.Equal(t, int64(5*2500+5000), inv.Amount)
}

func TestGenerateIdempotentPerPeriod(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := h.newMeter(t, "WTR-003", 8)

	_, err := h.svc.GenerateForMeter(ctx, meter.ID, "2026-03")
	require.NoError(t, err)

	_, err = h.svc.GenerateForMeter(ctx, meter.ID, "2026-03")
	assert.ErrorIs(t, err, domain.ErrInvoiceExists)
}

func TestGenerateForAllMeters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.newMeter(t, "WTR-010", 5)
	h.newMeter(t, "WTR-011", 7)
	already := h.newMeter(t, "WTR-012", 9)

	_, err := h.svc.GenerateForMeter(ctx, already.ID, "2026-03")
	require.NoError(t, err)

	result, err := h.svc.GenerateForAllMeters(ctx, "2026-03")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Success)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Failed)
	assert.Empty(t, result.Errors)
}

func TestGenerateRejectsNegativeConsumption(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := h.newMeter(t, "WTR-014", 5)

	// A prior invoice ahead of the meter's lifetime reading signals a
	// rollback or data error; generation must fail, never clamp.
	require.NoError(t, h.db.Create(&domain.Invoice{
		ID:             h.node.Generate(),
		MeterAccountID: meter.ID,
		CustomerID:     meter.CustomerID,
		Period:         "2026-02",
		CurrentReading: 10,
		Status:         domain.StatusSettlement,
		DueDate:        time.Date(2026, 3, 25, 23, 59, 59, 0, time.UTC),
	}).Error)

	_, err := h.svc.GenerateForMeter(ctx, meter.ID, "2026-03")
	assert.ErrorIs(t, err, domain.ErrNegativeConsumption)
}

func TestGenerateForAllMetersIsolatesNegativeConsumption(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.newMeter(t, "WTR-015", 5)
	h.newMeter(t, "WTR-016", 7)
	bad := h.newMeter(t, "WTR-017", 3)

	require.NoError(t, h.db.Create(&domain.Invoice{
		ID:             h.node.Generate(),
		MeterAccountID: bad.ID,
		CustomerID:     bad.CustomerID,
		Period:         "2026-02",
		CurrentReading: 9,
		Status:         domain.StatusSettlement,
		DueDate:        time.Date(2026, 3, 25, 23, 59, 59, 0, time.UTC),
	}).Error)

	result, err := h.svc.GenerateForAllMeters(ctx, "2026-03")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Success)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "WTR-017")

	// The failure does not hold back the valid invoices.
	var persisted int64
	require.NoError(t, h.db.Model(&domain.Invoice{}).
		Where("period = ?", "2026-03").Count(&persisted).Error)
	assert.Equal(t, int64(2), persisted)
}

func TestPaySettlesInvoice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := h.newMeter(t, "WTR-020", 12)

	inv, err := h.svc.GenerateForMeter(ctx, meter.ID, "2026-03")
	require.NoError(t, err)

	_, err = h.wallets.Ensure(ctx, meter.CustomerID)
	require.NoError(t, err)
	_, err = h.wallets.TopUp(ctx, meter.CustomerID, 50000)
	require.NoError(t, err)

	paid, err := h.svc.Pay(ctx, inv.ID, meter.CustomerID, domain.MethodWallet)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSettlement, paid.Status)
	assert.Equal(t, int64(0), paid.LateFee)
	assert.Equal(t, domain.MethodWallet, paid.PaymentMethod)
	require.NotNil(t, paid.PaidAt)

	wallet, err := h.wallets.GetByOwner(ctx, meter.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, int64(50000-36000), wallet.Balance)

	// Payment releases the invoice's consumption from the meter.
	reloaded, err := h.meters.GetByID(ctx, meter.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), reloaded.UnpaidConsumption)

	var trx walletdomain.Transaction
	require.NoError(t, h.db.First(&trx, "reference = ?", inv.ID.String()).Error)
	assert.Equal(t, walletdomain.CategoryInvoicePayment, trx.Category)
	assert.Equal(t, int64(36000), trx.Amount)

	_, err = h.svc.Pay(ctx, inv.ID, meter.CustomerID, domain.MethodWallet)
	assert.ErrorIs(t, err, domain.ErrAlreadyPaid)
}

func TestPayAccruesLateFee(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := h.newMeter(t, "WTR-021", 12)

	inv, err := h.svc.GenerateForMeter(ctx, meter.ID, "2026-03")
	require.NoError(t, err)

	_, err = h.wallets.Ensure(ctx, meter.CustomerID)
	require.NoError(t, err)
	_, err = h.wallets.TopUp(ctx, meter.CustomerID, 100000)
	require.NoError(t, err)

	// 32 days past the April 25 due date: two started months at 2%.
	h.clk.Set(time.Date(2026, 5, 27, 0, 0, 0, 0, time.UTC))
	paid, err := h.svc.Pay(ctx, inv.ID, meter.CustomerID, domain.MethodWallet)
	require.NoError(t, err)

	assert.Equal(t, int64(1440), paid.LateFee) // 36000 * 2% * 2
	assert.True(t, paid.Overdue)

	wallet, err := h.wallets.GetByOwner(ctx, meter.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, int64(100000-36000-1440), wallet.Balance)
}

func TestPayGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := h.newMeter(t, "WTR-022", 12)

	inv, err := h.svc.GenerateForMeter(ctx, meter.ID, "2026-03")
	require.NoError(t, err)

	_, err = h.svc.Pay(ctx, inv.ID, h.node.Generate(), domain.MethodWallet)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = h.wallets.Ensure(ctx, meter.CustomerID)
	require.NoError(t, err)
	_, err = h.wallets.TopUp(ctx, meter.CustomerID, 1000)
	require.NoError(t, err)

	_, err = h.svc.Pay(ctx, inv.ID, meter.CustomerID, domain.MethodWallet)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = h.svc.Pay(ctx, h.node.Generate(), meter.CustomerID, domain.MethodWallet)
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)
}

func TestPayAllStopsWhenWalletRunsDry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := h.newMeter(t, "WTR-023", 12)

	first, err := h.svc.GenerateForMeter(ctx, meter.ID, "2026-03")
	require.NoError(t, err)

	_, err = h.meters.RecordReading(ctx, meterdomain.RecordReadingRequest{AccountNumber: "WTR-023", Delta: 5})
	require.NoError(t, err)
	second, err := h.svc.GenerateForMeter(ctx, meter.ID, "2026-04")
	require.NoError(t, err)

	// Covers the March bill (36000) but not April's (17500) on top.
	_, err = h.wallets.Ensure(ctx, meter.CustomerID)
	require.NoError(t, err)
	_, err = h.wallets.TopUp(ctx, meter.CustomerID, 40000)
	require.NoError(t, err)

	result, err := h.svc.PayAll(ctx, meter.CustomerID, domain.MethodWallet)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Paid)
	assert.Equal(t, int64(36000), result.Total)
	require.Len(t, result.Invoices, 1)
	assert.Equal(t, first.ID, result.Invoices[0].ID)

	reloadedSecond, err := h.svc.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, reloadedSecond.Status)

	// Unpaid counter only dropped by the paid invoice's consumption.
	reloadedMeter, err := h.meters.GetByID(ctx, meter.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), reloadedMeter.UnpaidConsumption)

	_, err = h.wallets.TopUp(ctx, meter.CustomerID, 20000)
	require.NoError(t, err)
	result, err = h.svc.PayAll(ctx, meter.CustomerID, domain.MethodWallet)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Paid)
	assert.Equal(t, second.ID, result.Invoices[0].ID)
}

func TestReverseStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := h.newMeter(t, "WTR-024", 12)

	inv, err := h.svc.GenerateForMeter(ctx, meter.ID, "2026-03")
	require.NoError(t, err)

	_, err = h.wallets.Ensure(ctx, meter.CustomerID)
	require.NoError(t, err)
	_, err = h.wallets.TopUp(ctx, meter.CustomerID, 50000)
	require.NoError(t, err)
	_, err = h.svc.Pay(ctx, inv.ID, meter.CustomerID, domain.MethodWallet)
	require.NoError(t, err)

	_, err = h.svc.ReverseStatus(ctx, inv.ID, domain.StatusCancel)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	reversed, err := h.svc.ReverseStatus(ctx, inv.ID, domain.StatusRefund)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefund, reversed.Status)

	// The refunded consumption is unpaid again.
	reloaded, err := h.meters.GetByID(ctx, meter.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), reloaded.UnpaidConsumption)
}

func TestReversePendingToCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := h.newMeter(t, "WTR-025", 6)

	inv, err := h.svc.GenerateForMeter(ctx, meter.ID, "2026-03")
	require.NoError(t, err)

	reversed, err := h.svc.ReverseStatus(ctx, inv.ID, domain.StatusCancel)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancel, reversed.Status)

	// Cancelling a pending invoice leaves the unpaid counter alone.
	reloaded, err := h.meters.GetByID(ctx, meter.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), reloaded.UnpaidConsumption)
}

func TestReverseSettlementToPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := h.newMeter(t, "WTR-028", 12)

	inv, err := h.svc.GenerateForMeter(ctx, meter.ID, "2026-03")
	require.NoError(t, err)

	_, err = h.wallets.Ensure(ctx, meter.CustomerID)
	require.NoError(t, err)
	_, err = h.wallets.TopUp(ctx, meter.CustomerID, 50000)
	require.NoError(t, err)
	_, err = h.svc.Pay(ctx, inv.ID, meter.CustomerID, domain.MethodWallet)
	require.NoError(t, err)

	reloaded, err := h.meters.GetByID(ctx, meter.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), reloaded.UnpaidConsumption)

	reversed, err := h.svc.ReverseStatus(ctx, inv.ID, domain.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, reversed.Status)
	assert.Nil(t, reversed.PaidAt)
	assert.Empty(t, reversed.PaymentMethod)

	// The unpaid counter is back where it was before the payment.
	reloaded, err = h.meters.GetByID(ctx, meter.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), reloaded.UnpaidConsumption)

	// Reopened means payable again. Reversal restores the counter, not
	// the money, so the wallet needs funding for the second payment.
	_, err = h.wallets.TopUp(ctx, meter.CustomerID, 40000)
	require.NoError(t, err)
	paid, err := h.svc.Pay(ctx, inv.ID, meter.CustomerID, domain.MethodWallet)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSettlement, paid.Status)
}

func TestReversePendingGatewayOutcomes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := h.newMeter(t, "WTR-029", 6)

	inv, err := h.svc.GenerateForMeter(ctx, meter.ID, "2026-03")
	require.NoError(t, err)

	// Refund and chargeback are valid unpaid outcomes straight from
	// pending; no money moved, so the counter stays put.
	reversed, err := h.svc.ReverseStatus(ctx, inv.ID, domain.StatusChargeback)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusChargeback, reversed.Status)

	reloaded, err := h.meters.GetByID(ctx, meter.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), reloaded.UnpaidConsumption)
}

func TestSweepOverdue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := h.newMeter(t, "WTR-026", 12)

	inv, err := h.svc.GenerateForMeter(ctx, meter.ID, "2026-03")
	require.NoError(t, err)

	result, err := h.svc.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Flagged)

	h.clk.Set(time.Date(2026, 4, 26, 0, 0, 0, 0, time.UTC))
	result, err = h.svc.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Flagged)

	flagged, err := h.svc.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, flagged.Overdue)
	assert.Equal(t, domain.StatusPending, flagged.Status)

	// Already flagged; nothing new on the second sweep.
	result, err = h.svc.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Flagged)

	var notifications int64
	require.NoError(t, h.db.Model(&notificationdomain.Notification{}).
		Where("recipient_id = ? AND category = ?", meter.CustomerID, notificationdomain.CategoryInvoiceOverdue).
		Count(&notifications).Error)
	assert.Equal(t, int64(1), notifications)

	// Overdue is a flag, not a status: the invoice stays payable.
	_, err = h.wallets.Ensure(ctx, meter.CustomerID)
	require.NoError(t, err)
	_, err = h.wallets.TopUp(ctx, meter.CustomerID, 50000)
	require.NoError(t, err)
	paid, err := h.svc.Pay(ctx, inv.ID, meter.CustomerID, domain.MethodWallet)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSettlement, paid.Status)
	assert.True(t, paid.LateFee > 0)
}

func TestRenderPDF(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meter := h.newMeter(t, "WTR-027", 12)

	inv, err := h.svc.GenerateForMeter(ctx, meter.ID, "2026-03")
	require.NoError(t, err)

	_, err = h.svc.RenderPDF(ctx, inv.ID, h.node.Generate())
	assert.ErrorIs(t, err, domain.ErrForbidden)

	doc, err := h.svc.RenderPDF(ctx, inv.ID, meter.CustomerID)
	require.NoError(t, err)
	assert.NotEmpty(t, doc)
}
