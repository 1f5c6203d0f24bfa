package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Gateway order IDs carry enough structure to route a settlement
// callback back to what was being paid: one invoice, or a customer's
// whole pending stack.
const (
	invoiceOrderPrefix = "BILLING-"
	multiOrderPrefix   = "BILLING-MULTI-"
)

// OrderRef is a parsed gateway order ID.
type OrderRef struct {
	Multi      bool
	InvoiceID  snowflake.ID
	CustomerID snowflake.ID
}

func BuildInvoiceOrderID(invoiceID snowflake.ID) string {
	return invoiceOrderPrefix + invoiceID.String()
}

func BuildMultiOrderID(customerID snowflake.ID, at time.Time) string {
	return fmt.Sprintf("%s%s-%d", multiOrderPrefix, customerID, at.Unix())
}

func ParseOrderID(orderID string) (*OrderRef, error) {
	if rest, ok := strings.CutPrefix(orderID, multiOrderPrefix); ok {
		parts := strings.SplitN(rest, "-", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, ErrInvalidOrderID
		}
		customerID, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, ErrInvalidOrderID
		}
		if _, err := strconv.ParseInt(parts[1], 10, 64); err != nil {
			return nil, ErrInvalidOrderID
		}
		return &OrderRef{Multi: true, CustomerID: snowflake.ID(customerID)}, nil
	}

	if rest, ok := strings.CutPrefix(orderID, invoiceOrderPrefix); ok {
		invoiceID, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return nil, ErrInvalidOrderID
		}
		return &OrderRef{InvoiceID: snowflake.ID(invoiceID)}, nil
	}

	return nil, ErrInvalidOrderID
}
