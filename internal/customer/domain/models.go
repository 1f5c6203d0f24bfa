package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrNotFound       = errors.New("customer_not_found")
	ErrInvalidRequest = errors.New("invalid_customer")
	ErrEmailExists    = errors.New("customer_email_exists")
)

// Customer owns meter accounts, wallets, and subscriptions.
type Customer struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"size:255;not null" json:"name"`
	Email     string       `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Phone     string       `gorm:"size:32" json:"phone,omitempty"`
	Address   string       `gorm:"size:512" json:"address,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (Customer) TableName() string {
	return "customers"
}
