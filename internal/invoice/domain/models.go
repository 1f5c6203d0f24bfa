package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrInvoiceExists       = errors.New("invoice_exists")
	ErrForbidden           = errors.New("forbidden")
	ErrAlreadyPaid         = errors.New("invoice_already_paid")
	ErrInvalidStatus       = errors.New("invalid_invoice_status")
	ErrInvalidPeriod       = errors.New("invalid_period")
	ErrNegativeConsumption = errors.New("invoice_negative_consumption")
	ErrInsufficientBalance = errors.New("insufficient_balance")
)

// Invoice lifecycle. Pending is the only state money can move out of.
// A settled invoice can be reversed into the gateway outcomes or back to
// Pending, which reopens it for payment.
const (
	StatusPending    = "pending"
	StatusSettlement = "settlement"
	StatusCancel     = "cancel"
	StatusExpire     = "expire"
	StatusRefund     = "refund"
	StatusChargeback = "chargeback"
	StatusFraud      = "fraud"
)

// Payment methods recorded on settlement.
const (
	MethodWallet  = "wallet"
	MethodGateway = "gateway"
)

// reversalTargets maps a current status to the statuses an operator may
// move it to. Leaving Settlement restores the meter's unpaid counter.
var reversalTargets = map[string][]string{
	StatusPending:    {StatusCancel, StatusExpire, StatusRefund, StatusChargeback, StatusFraud},
	StatusSettlement: {StatusPending, StatusRefund, StatusChargeback, StatusFraud},
}

// CanTransition reports whether an operator reversal from one status to
// another is allowed.
func CanTransition(from, to string) bool {
	for _, allowed := range reversalTargets[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Invoice bills one meter account for one calendar-month period. The
// (meter, period) pair is unique, which is what makes batch generation
// idempotent. Overdue is a flag, not a status: an overdue invoice is
// still pending and still payable.
type Invoice struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	MeterAccountID snowflake.ID `gorm:"not null;uniqueIndex:ux_invoices_meter_period" json:"meter_account_id"`
	CustomerID     snowflake.ID `gorm:"index;not null" json:"customer_id"`
	Period         string       `gorm:"size:7;not null;uniqueIndex:ux_invoices_meter_period" json:"period"`

	PreviousReading int64 `gorm:"not null" json:"previous_reading"`
	CurrentReading  int64 `gorm:"not null" json:"current_reading"`
	Consumption     int64 `gorm:"not null" json:"consumption"`

	UsageCost int64 `gorm:"not null" json:"usage_cost"`
	BaseFee   int64 `gorm:"not null" json:"base_fee"`
	Amount    int64 `gorm:"not null" json:"amount"`
	LateFee   int64 `gorm:"not null;default:0" json:"late_fee"`

	Status        string     `gorm:"size:16;index;not null" json:"status"`
	Overdue       bool       `gorm:"not null;default:false" json:"overdue"`
	DueDate       time.Time  `gorm:"index;not null" json:"due_date"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	PaymentMethod string     `gorm:"size:16" json:"payment_method,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Invoice) TableName() string {
	return "invoices"
}
