package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	parsed, err := ParsePeriod("2026-03")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), parsed)

	for _, bad := range []string{"", "2026", "2026-3", "03-2026", "2026-13", "2026-03-01"} {
		_, err := ParsePeriod(bad)
		assert.ErrorIs(t, err, ErrInvalidPeriod, bad)
	}
}

func TestPreviousPeriod(t *testing.T) {
	prev, err := PreviousPeriod("2026-03")
	require.NoError(t, err)
	assert.Equal(t, "2026-02", prev)

	prev, err = PreviousPeriod("2026-01")
	require.NoError(t, err)
	assert.Equal(t, "2025-12", prev)
}

func TestDueDateFor(t *testing.T) {
	due, err := DueDateFor("2026-03", 25)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 25, 23, 59, 59, 0, time.UTC), due)

	// December bills fall due in January of the next year.
	due, err = DueDateFor("2026-12", 25)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2027, 1, 25, 23, 59, 59, 0, time.UTC), due)
}

func TestDaysLate(t *testing.T) {
	due := time.Date(2026, 4, 25, 23, 59, 59, 0, time.UTC)

	assert.Equal(t, 0, DaysLate(due, due.Add(-time.Hour)))
	assert.Equal(t, 0, DaysLate(due, due))
	assert.Equal(t, 1, DaysLate(due, due.Add(time.Second)))
	assert.Equal(t, 1, DaysLate(due, due.Add(23*time.Hour)))
	assert.Equal(t, 2, DaysLate(due, due.Add(25*time.Hour)))
	assert.Equal(t, 31, DaysLate(due, due.Add(30*24*time.Hour+time.Minute)))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusCancel))
	assert.True(t, CanTransition(StatusPending, StatusExpire))
	assert.True(t, CanTransition(StatusPending, StatusFraud))
	assert.True(t, CanTransition(StatusSettlement, StatusRefund))
	assert.True(t, CanTransition(StatusSettlement, StatusChargeback))
	assert.True(t, CanTransition(StatusSettlement, StatusFraud))

	assert.False(t, CanTransition(StatusPending, StatusSettlement)) // only payment settles
	assert.False(t, CanTransition(StatusSettlement, StatusCancel))
	assert.False(t, CanTransition(StatusCancel, StatusPending))
	assert.False(t, CanTransition(StatusRefund, StatusSettlement))
}
