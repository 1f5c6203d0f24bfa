package domain

import "time"

// Cadence is a billing interval strategy. Daily, monthly and yearly fire
// on calendar boundaries; weekly fires on elapsed time. The mix is part
// of the product contract and must not be "fixed" to one style.
type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
	CadenceYearly  Cadence = "yearly"
)

func (c Cadence) Valid() bool {
	switch c {
	case CadenceDaily, CadenceWeekly, CadenceMonthly, CadenceYearly:
		return true
	default:
		return false
	}
}

// IsDue reports whether a settlement boundary has passed since last.
// A zero last means never settled, which is always due.
//
// The daily rule compares day-of-month OR month rather than full dates:
// two timestamps on the same day number in different months are also
// due. That quirk is intentional and relied on by billing history.
func (c Cadence) IsDue(last, now time.Time) bool {
	if last.IsZero() {
		return true
	}
	last = last.UTC()
	now = now.UTC()

	switch c {
	case CadenceDaily:
		return last.Day() != now.Day() || last.Month() != now.Month()
	case CadenceWeekly:
		return now.Sub(last) >= 7*24*time.Hour
	case CadenceMonthly:
		return last.Month() != now.Month() || last.Year() != now.Year()
	case CadenceYearly:
		return last.Year() != now.Year()
	default:
		return false
	}
}
