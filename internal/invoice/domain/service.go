package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// BatchResult summarizes one generation run over all active meters.
// Skipped counts meters whose invoice for the period already existed.
type BatchResult struct {
	Success int      `json:"success"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// PayAllResult summarizes a bulk payment of a customer's pending
// invoices, oldest first.
type PayAllResult struct {
	Paid     int        `json:"paid"`
	Total    int64      `json:"total"`
	Invoices []*Invoice `json:"invoices"`
}

// SweepResult reports how many pending invoices were newly flagged
// overdue.
type SweepResult struct {
	Flagged int      `json:"flagged"`
	Errors  []string `json:"errors,omitempty"`
}

type Service interface {
	// GenerateForMeter creates the invoice for one meter and period from
	// the meter's lifetime reading and the prior period's invoice.
	// Generation never touches the meter's unpaid counter.
	GenerateForMeter(ctx context.Context, meterID snowflake.ID, period string) (*Invoice, error)

	// GenerateForAllMeters runs GenerateForMeter over every active
	// meter. Existing invoices are skipped, per-meter failures are
	// collected, and the run itself only fails on infrastructure errors.
	GenerateForAllMeters(ctx context.Context, period string) (*BatchResult, error)

	GetByID(ctx context.Context, id snowflake.ID) (*Invoice, error)
	ListByCustomer(ctx context.Context, customerID snowflake.ID, limit int) ([]*Invoice, error)

	// Pay settles one pending invoice from the payer's wallet, adding
	// the accrued late fee when the invoice is past due, and clears the
	// invoice's consumption from the meter's unpaid counter. The method
	// is recorded on the invoice; empty defaults to MethodWallet.
	Pay(ctx context.Context, invoiceID, payerID snowflake.ID, method string) (*Invoice, error)

	// PayAll settles the payer's pending invoices oldest first and stops
	// at the first one the wallet cannot cover.
	PayAll(ctx context.Context, payerID snowflake.ID, method string) (*PayAllResult, error)

	// ReverseStatus applies an operator correction. Reversing out of
	// settlement puts the invoice's consumption back on the meter's
	// unpaid counter; reversing back to pending also clears the payment
	// record so the invoice is payable again.
	ReverseStatus(ctx context.Context, invoiceID snowflake.ID, status string) (*Invoice, error)

	// SweepOverdue flags pending invoices past their due date and
	// notifies their customers. The overdue flag never blocks payment.
	SweepOverdue(ctx context.Context) (*SweepResult, error)

	// RenderPDF produces the printable invoice document. Customers can
	// only render their own invoices.
	RenderPDF(ctx context.Context, invoiceID, requesterID snowflake.ID) ([]byte, error)
}
