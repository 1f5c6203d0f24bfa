package domain

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderIDRoundTrip(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	invoiceID := node.Generate()
	ref, err := ParseOrderID(BuildInvoiceOrderID(invoiceID))
	require.NoError(t, err)
	assert.False(t, ref.Multi)
	assert.Equal(t, invoiceID, ref.InvoiceID)

	customerID := node.Generate()
	at := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	ref, err = ParseOrderID(BuildMultiOrderID(customerID, at))
	require.NoError(t, err)
	assert.True(t, ref.Multi)
	assert.Equal(t, customerID, ref.CustomerID)
}

func TestParseOrderIDRejectsGarbage(t *testing.T) {
	for _, bad := range []string{
		"",
		"ORDER-123",
		"BILLING-",
		"BILLING-abc",
		"BILLING-MULTI-",
		"BILLING-MULTI-123",
		"BILLING-MULTI-abc-456",
		"BILLING-MULTI-123-abc",
	} {
		_, err := ParseOrderID(bad)
		assert.ErrorIs(t, err, ErrInvalidOrderID, bad)
	}
}
