package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ts(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return t
}

func TestCadenceDaily(t *testing.T) {
	tests := []struct {
		name string
		last string
		now  string
		due  bool
	}{
		{"same day", "2026-03-10T08:00:00Z", "2026-03-10T23:59:00Z", false},
		{"next day", "2026-03-10T23:59:00Z", "2026-03-11T00:01:00Z", true},
		{"same day number, different month", "2026-03-10T08:00:00Z", "2026-04-10T08:00:00Z", true},
		{"year boundary", "2025-12-31T23:00:00Z", "2026-01-01T01:00:00Z", true},
		{"same day and month, different year", "2025-03-10T08:00:00Z", "2026-03-10T08:00:00Z", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.due, CadenceDaily.IsDue(ts(tt.last), ts(tt.now)))
		})
	}
}

func TestCadenceWeekly(t *testing.T) {
	last := ts("2026-03-01T12:00:00Z")
	assert.False(t, CadenceWeekly.IsDue(last, last.Add(6*24*time.Hour)))
	assert.False(t, CadenceWeekly.IsDue(last, last.Add(7*24*time.Hour-time.Second)))
	assert.True(t, CadenceWeekly.IsDue(last, last.Add(7*24*time.Hour)))
	assert.True(t, CadenceWeekly.IsDue(last, last.Add(30*24*time.Hour)))
}

func TestCadenceMonthly(t *testing.T) {
	assert.False(t, CadenceMonthly.IsDue(ts("2026-03-01T00:00:00Z"), ts("2026-03-31T23:59:00Z")))
	assert.True(t, CadenceMonthly.IsDue(ts("2026-03-31T23:59:00Z"), ts("2026-04-01T00:00:00Z")))
	assert.True(t, CadenceMonthly.IsDue(ts("2025-03-15T00:00:00Z"), ts("2026-03-15T00:00:00Z")))
}

func TestCadenceYearly(t *testing.T) {
	assert.False(t, CadenceYearly.IsDue(ts("2026-01-01T00:00:00Z"), ts("2026-12-31T23:59:00Z")))
	assert.True(t, CadenceYearly.IsDue(ts("2026-12-31T23:59:00Z"), ts("2027-01-01T00:00:00Z")))
}

func TestCadenceNeverSettledIsDue(t *testing.T) {
	for _, c := range []Cadence{CadenceDaily, CadenceWeekly, CadenceMonthly, CadenceYearly} {
		assert.True(t, c.IsDue(time.Time{}, ts("2026-03-10T08:00:00Z")), string(c))
	}
}

func TestCadenceValid(t *testing.T) {
	assert.True(t, CadenceMonthly.Valid())
	assert.False(t, Cadence("fortnightly").Valid())
}
