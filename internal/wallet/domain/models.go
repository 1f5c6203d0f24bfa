package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrWalletNotFound     = errors.New("wallet_not_found")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInsufficientTokens = errors.New("insufficient_tokens")
	ErrWalletExists       = errors.New("wallet_exists")
)

// Transaction categories. Every completed money movement writes exactly
// one record.
const (
	CategoryUsageSettlement        = "usage_settlement"
	CategoryUsageSettlementPartial = "usage_settlement_partial"
	CategoryInvoicePayment         = "invoice_payment"
	CategoryTokenConversion        = "token_conversion"
	CategoryTopUp                  = "topup"
)

// Wallet holds one principal's balances. Balances never go negative;
// cash moves only inside settlement transactions.
type Wallet struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	OwnerID      snowflake.ID `gorm:"uniqueIndex;not null" json:"owner_id"`
	Balance      int64        `gorm:"not null;default:0" json:"balance"`
	TokenBalance int64        `gorm:"not null;default:0" json:"token_balance"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// Transaction is the append-only audit record of a money movement.
type Transaction struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	PayerID   snowflake.ID      `gorm:"index;not null" json:"payer_id"`
	PayeeID   snowflake.ID      `gorm:"index" json:"payee_id"`
	Amount    int64             `gorm:"not null" json:"amount"`
	Category  string            `gorm:"size:48;index;not null" json:"category"`
	Reference string            `gorm:"size:128" json:"reference,omitempty"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}
