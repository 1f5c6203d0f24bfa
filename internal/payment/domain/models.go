package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrGatewayUnavailable = errors.New("payment_gateway_unavailable")
	ErrInvalidOrderID     = errors.New("invalid_order_id")
	ErrCheckoutRejected   = errors.New("checkout_rejected")
)

// CheckoutRequest asks the hosted-checkout gateway to collect a payment.
type CheckoutRequest struct {
	OrderID     string
	Amount      int64
	CustomerID  snowflake.ID
	Description string
}

// CheckoutSession is the gateway's answer: where to send the customer
// and until when the session stays valid.
type CheckoutSession struct {
	OrderID     string    `json:"order_id"`
	Token       string    `json:"token"`
	RedirectURL string    `json:"redirect_url"`
	Amount      int64     `json:"amount"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Client talks to the external payment gateway. Implementations must be
// safe for concurrent use.
type Client interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}
