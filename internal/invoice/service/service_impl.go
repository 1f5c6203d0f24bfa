package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/tirtabiz/tirta/internal/clock"
	"github.com/tirtabiz/tirta/internal/config"
	customerdomain "github.com/tirtabiz/tirta/internal/customer/domain"
	"github.com/tirtabiz/tirta/internal/invoice/domain"
	"github.com/tirtabiz/tirta/internal/invoice/render"
	meterdomain "github.com/tirtabiz/tirta/internal/meter/domain"
	notificationdomain "github.com/tirtabiz/tirta/internal/notification/domain"
	obsmetrics "github.com/tirtabiz/tirta/internal/observability/metrics"
	"github.com/tirtabiz/tirta/internal/rating"
	walletdomain "github.com/tirtabiz/tirta/internal/wallet/domain"
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
	Policy      *config.BillingPolicyHolder
	MeterSvc    meterdomain.Service
	CustomerSvc customerdomain.Service
	Notifier    notificationdomain.Service
	Renderer    render.Renderer
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	policy       *config.BillingPolicyHolder
	meterSvc     meterdomain.Service
	customerSvc  customerdomain.Service
	notifier     notificationdomain.Service
	renderer     render.Renderer
	metrics      *obsmetrics.Metrics
	invoices     repository.Repository[domain.Invoice]
	transactions repository.Repository[walletdomain.Transaction]
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("invoice.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		policy:       p.Policy,
		meterSvc:     p.MeterSvc,
		customerSvc:  p.CustomerSvc,
		notifier:     p.Notifier,
		renderer:     p.Renderer,
		metrics:      p.Metrics,
		invoices:     repository.ProvideStore[domain.Invoice](p.DB),
		transactions: repository.ProvideStore[walletdomain.Transaction](p.DB),
	}
}

func (s *Service) GenerateForMeter(ctx context.Context, meterID snowflake.ID, period string) (*domain.Invoice, error) {
	if _, err := domain.ParsePeriod(period); err != nil {
		return nil, err
	}

	meter, err := s.meterSvc.GetByID(ctx, meterID)
	if err != nil {
		return nil, err
	}
	tier, err := s.meterSvc.GetTariffTier(ctx, meter.TariffTierID)
	if err != nil {
		return nil, err
	}

	// The prior period's invoice fixes the reading baseline; the first
	// invoice for a meter starts from zero.
	prevPeriod, err := domain.PreviousPeriod(period)
	if err != nil {
		return nil, err
	}
	prev, err := s.invoices.FindOne(ctx, &domain.Invoice{MeterAccountID: meterID, Period: prevPeriod})
	if err != nil {
		return nil, err
	}
	var previousReading int64
	if prev != nil {
		previousReading = prev.CurrentReading
	}

	consumption := meter.LifetimeReading - previousReading
	if consumption < 0 {
		return nil, domain.ErrNegativeConsumption
	}

	breakdown := rating.ComputeUsageCost(consumption, tier.Rate())
	dueDate, err := domain.DueDateFor(period, s.policy.Get().DueDayOfMonth)
	if err != nil {
		return nil, err
	}

	inv := &domain.Invoice{
		ID:              s.genID.Generate(),
		MeterAccountID:  meter.ID,
		CustomerID:      meter.CustomerID,
		Period:          period,
		PreviousReading: previousReading,
		CurrentReading:  meter.LifetimeReading,
		Consumption:     consumption,
		UsageCost:       breakdown.UsageCost,
		BaseFee:         breakdown.BaseFee,
		Amount:          breakdown.Total,
		Status:          domain.StatusPending,
		DueDate:         dueDate,
	}
	if err := s.invoices.Create(ctx, inv); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrInvoiceExists
		}
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(&meterdomain.MeterAccount{}).
		Where("id = ?", meter.ID).
		Updates(map[string]any{"next_due_at": dueDate, "updated_at": s.clock.Now()}).Error; err != nil {
		s.log.Warn("next due date update failed", zap.Error(err), zap.Int64("meter_id", int64(meter.ID)))
	}

	s.metrics.RecordInvoiceGenerated(ctx, "created")
	if err := s.notifier.Notify(ctx, &notificationdomain.Notification{
		RecipientID: inv.CustomerID,
		Category:    notificationdomain.CategoryInvoiceCreated,
		Title:       fmt.Sprintf("Water bill for %s", period),
		Body: fmt.Sprintf("Your bill for %d units is ready. Amount due %s by %s.",
			consumption, formatMoney(inv.Amount), dueDate.Format("2006-01-02")),
	}); err != nil {
		s.log.Warn("invoice notification failed", zap.Error(err), zap.Int64("invoice_id", int64(inv.ID)))
	}

	return inv, nil
}

func (s *Service) GenerateForAllMeters(ctx context.Context, period string) (*domain.BatchResult, error) {
	if _, err := domain.ParsePeriod(period); err != nil {
		return nil, err
	}

	meters, err := s.meterSvc.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	result := &domain.BatchResult{}
	for _, meter := range meters {
		_, err := s.GenerateForMeter(ctx, meter.ID, period)
		switch {
		case err == nil:
			result.Success++
		case errors.Is(err, domain.ErrInvoiceExists):
			result.Skipped++
			s.metrics.RecordInvoiceGenerated(ctx, "skipped")
		default:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("meter %s: %v", meter.AccountNumber, err))
			s.metrics.RecordInvoiceGenerated(ctx, "failed")
			s.log.Warn("invoice generation failed",
				zap.Error(err),
				zap.String("account_number", meter.AccountNumber),
				zap.String("period", period),
			)
		}
	}

	s.log.Info("invoice generation run finished",
		zap.String("period", period),
		zap.Int("success", result.Success),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Invoice, error) {
	inv, err := s.invoices.FindOne(ctx, &domain.Invoice{ID: id})
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, domain.ErrInvoiceNotFound
	}
	return inv, nil
}

func (s *Service) ListByCustomer(ctx context.Context, customerID snowflake.ID, limit int) ([]*domain.Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.invoices.Find(ctx, &domain.Invoice{CustomerID: customerID},
		option.WithSortBy("period", true),
		option.WithLimit(limit),
	)
}

func (s *Service) Pay(ctx context.Context, invoiceID, payerID snowflake.ID, method string) (*domain.Invoice, error) {
	inv, err := s.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.CustomerID != payerID {
		return nil, domain.ErrForbidden
	}

	paid, err := s.payOne(ctx, invoiceID, method)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordInvoicePayment(ctx, "single")
	if paid.LateFee > 0 {
		s.metrics.RecordLateFee(ctx, paid.LateFee)
	}
	s.notifyPaid(ctx, paid)
	return paid, nil
}

func (s *Service) PayAll(ctx context.Context, payerID snowflake.ID, method string) (*domain.PayAllResult, error) {
	pending, err := s.invoices.Find(ctx, &domain.Invoice{CustomerID: payerID, Status: domain.StatusPending},
		option.WithSortBy("period", false),
	)
	if err != nil {
		return nil, err
	}

	result := &domain.PayAllResult{}
	for _, inv := range pending {
		paid, err := s.payOne(ctx, inv.ID, method)
		if errors.Is(err, domain.ErrInsufficientBalance) {
			// Oldest first; once the wallet runs dry nothing newer can
			// be paid either.
			break
		}
		if err != nil {
			return nil, err
		}

		result.Paid++
		result.Total += paid.Amount + paid.LateFee
		result.Invoices = append(result.Invoices, paid)

		s.metrics.RecordInvoicePayment(ctx, "bulk")
		if paid.LateFee > 0 {
			s.metrics.RecordLateFee(ctx, paid.LateFee)
		}
		s.notifyPaid(ctx, paid)
	}
	return result, nil
}

// payOne moves the money for one pending invoice: wallet debit,
// transaction record, settlement status and the unpaid-counter release,
// all in one transaction. The late fee is computed at payment time from
// how far past due the invoice is.
func (s *Service) payOne(ctx context.Context, invoiceID snowflake.ID, method string) (*domain.Invoice, error) {
	if method == "" {
		method = domain.MethodWallet
	}

	var paid *domain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inv domain.Invoice
		if err := db.ForUpdate(tx).Where("id = ?", invoiceID).First(&inv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrInvoiceNotFound
			}
			return err
		}
		switch inv.Status {
		case domain.StatusPending:
		case domain.StatusSettlement:
			return domain.ErrAlreadyPaid
		default:
			return domain.ErrInvalidStatus
		}

		now := s.clock.Now()
		daysLate := domain.DaysLate(inv.DueDate, now)
		lateFee := rating.ComputeLateFee(inv.Amount, daysLate)
		total := inv.Amount + lateFee

		var wallet walletdomain.Wallet
		if err := db.ForUpdate(tx).Where("owner_id = ?", inv.CustomerID).First(&wallet).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return walletdomain.ErrWalletNotFound
			}
			return err
		}
		if wallet.Balance < total {
			return domain.ErrInsufficientBalance
		}

		if err := tx.Model(&walletdomain.Wallet{}).
			Where("id = ?", wallet.ID).
			Updates(map[string]any{
				"balance":    gorm.Expr("balance - ?", total),
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		if err := s.transactions.WithTrx(tx).Create(ctx, &walletdomain.Transaction{
			ID:        s.genID.Generate(),
			PayerID:   inv.CustomerID,
			Amount:    total,
			Category:  walletdomain.CategoryInvoicePayment,
			Reference: inv.ID.String(),
			Metadata: map[string]any{
				"period":   inv.Period,
				"late_fee": lateFee,
				"method":   method,
			},
		}); err != nil {
			return err
		}

		if err := tx.Model(&domain.Invoice{}).
			Where("id = ?", inv.ID).
			Updates(map[string]any{
				"status":         domain.StatusSettlement,
				"late_fee":       lateFee,
				"overdue":        inv.Overdue || daysLate > 0,
				"paid_at":        now,
				"payment_method": method,
				"updated_at":     now,
			}).Error; err != nil {
			return err
		}

		if err := s.meterSvc.AdjustUnpaidConsumption(ctx, tx, inv.MeterAccountID, -inv.Consumption); err != nil {
			return err
		}

		inv.Status = domain.StatusSettlement
		inv.LateFee = lateFee
		inv.Overdue = inv.Overdue || daysLate > 0
		inv.PaidAt = &now
		inv.PaymentMethod = method
		paid = &inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

func (s *Service) ReverseStatus(ctx context.Context, invoiceID snowflake.ID, status string) (*domain.Invoice, error) {
	var updated *domain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inv domain.Invoice
		if err := db.ForUpdate(tx).Where("id = ?", invoiceID).First(&inv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrInvoiceNotFound
			}
			return err
		}
		if !domain.CanTransition(inv.Status, status) {
			return domain.ErrInvalidStatus
		}

		// Leaving settlement means the consumption is no longer paid
		// for; put it back on the meter.
		if inv.Status == domain.StatusSettlement {
			if err := s.meterSvc.AdjustUnpaidConsumption(ctx, tx, inv.MeterAccountID, inv.Consumption); err != nil {
				return err
			}
		}

		now := s.clock.Now()
		updates := map[string]any{"status": status, "updated_at": now}
		if status == domain.StatusPending {
			// Back to payable: the payment record no longer applies.
			updates["paid_at"] = nil
			updates["payment_method"] = ""
		}
		if err := tx.Model(&domain.Invoice{}).
			Where("id = ?", inv.ID).
			Updates(updates).Error; err != nil {
			return err
		}

		inv.Status = status
		inv.UpdatedAt = now
		if status == domain.StatusPending {
			inv.PaidAt = nil
			inv.PaymentMethod = ""
		}
		updated = &inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invoice status reversed",
		zap.Int64("invoice_id", int64(invoiceID)),
		zap.String("status", status),
	)
	return updated, nil
}

func (s *Service) SweepOverdue(ctx context.Context) (*domain.SweepResult, error) {
	now := s.clock.Now()
	due, err := s.invoices.Find(ctx, &domain.Invoice{},
		option.WithFilter("status = ? AND overdue = ? AND due_date < ?", domain.StatusPending, false, now),
	)
	if err != nil {
		return nil, err
	}

	result := &domain.SweepResult{}
	for _, inv := range due {
		if err := s.db.WithContext(ctx).Model(&domain.Invoice{}).
			Where("id = ? AND status = ?", inv.ID, domain.StatusPending).
			Updates(map[string]any{"overdue": true, "updated_at": now}).Error; err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("invoice %s: %v", inv.ID, err))
			continue
		}
		result.Flagged++

		if _, err := s.notifier.NotifyDaily(ctx, &notificationdomain.Notification{
			RecipientID: inv.CustomerID,
			Category:    notificationdomain.CategoryInvoiceOverdue,
			Title:       "Water bill overdue",
			Body: fmt.Sprintf("Your bill for %s of %s was due on %s. Late fees accrue until it is paid.",
				inv.Period, formatMoney(inv.Amount), inv.DueDate.Format("2006-01-02")),
		}); err != nil {
			s.log.Warn("overdue notification failed", zap.Error(err), zap.Int64("invoice_id", int64(inv.ID)))
		}
	}

	if result.Flagged > 0 {
		s.log.Info("overdue sweep finished", zap.Int("flagged", result.Flagged))
	}
	return result, nil
}

func (s *Service) RenderPDF(ctx context.Context, invoiceID, requesterID snowflake.ID) ([]byte, error) {
	inv, err := s.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if requesterID != 0 && inv.CustomerID != requesterID {
		return nil, domain.ErrForbidden
	}

	var accountNumber string
	if meter, err := s.meterSvc.GetByID(ctx, inv.MeterAccountID); err == nil {
		accountNumber = meter.AccountNumber
	}
	customerName := fmt.Sprintf("Customer %s", inv.CustomerID)
	if customer, err := s.customerSvc.GetByID(ctx, inv.CustomerID); err == nil {
		customerName = customer.Name
	}

	lines := []render.Line{
		{Description: fmt.Sprintf("Water usage (%d units)", inv.Consumption), Amount: formatMoney(inv.UsageCost)},
		{Description: "Base fee", Amount: formatMoney(inv.BaseFee)},
	}
	if inv.LateFee > 0 {
		lines = append(lines, render.Line{Description: "Late fee", Amount: formatMoney(inv.LateFee)})
	}

	return s.renderer.Render(ctx, render.Data{
		UtilityName:     "Tirta Water Utility",
		UtilityAddress:  "Jl. Sumber Air No. 1",
		InvoiceNumber:   inv.ID.String(),
		Period:          inv.Period,
		IssueDate:       inv.CreatedAt.Format("2006-01-02"),
		DueDate:         inv.DueDate.Format("2006-01-02"),
		Status:          inv.Status,
		CustomerName:    customerName,
		AccountNumber:   accountNumber,
		PreviousReading: inv.PreviousReading,
		CurrentReading:  inv.CurrentReading,
		Consumption:     inv.Consumption,
		Lines:           lines,
		Total:           formatMoney(inv.Amount + inv.LateFee),
	})
}

func (s *Service) notifyPaid(ctx context.Context, inv *domain.Invoice) {
	if err := s.notifier.Notify(ctx, &notificationdomain.Notification{
		RecipientID: inv.CustomerID,
		Category:    notificationdomain.CategoryInvoicePaid,
		Title:       fmt.Sprintf("Payment received for %s", inv.Period),
		Body:        fmt.Sprintf("We received %s for your %s water bill. Thank you.", formatMoney(inv.Amount+inv.LateFee), inv.Period),
	}); err != nil {
		s.log.Warn("payment notification failed", zap.Error(err), zap.Int64("invoice_id", int64(inv.ID)))
	}
}

func formatMoney(minor int64) string {
	return fmt.Sprintf("%.2f", float64(minor)/100)
}
