package domain

import "time"

// PeriodLayout is the billing period format, a calendar month.
const PeriodLayout = "2006-01"

// ParsePeriod validates a period string and returns the first instant of
// that month in UTC.
func ParsePeriod(period string) (time.Time, error) {
	t, err := time.Parse(PeriodLayout, period)
	if err != nil {
		return time.Time{}, ErrInvalidPeriod
	}
	return t.UTC(), nil
}

// PeriodOf formats the billing period containing t.
func PeriodOf(t time.Time) string {
	return t.UTC().Format(PeriodLayout)
}

// PreviousPeriod returns the period immediately before the given one.
func PreviousPeriod(period string) (string, error) {
	t, err := ParsePeriod(period)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, -1, 0).Format(PeriodLayout), nil
}

// DueDateFor computes when an invoice for the period falls due: the
// configured day of the month following the billing period, end of day
// UTC so a payment on the due date itself is never late.
func DueDateFor(period string, dueDayOfMonth int) (time.Time, error) {
	t, err := ParsePeriod(period)
	if err != nil {
		return time.Time{}, err
	}
	next := t.AddDate(0, 1, 0)
	return time.Date(next.Year(), next.Month(), dueDayOfMonth, 23, 59, 59, 0, time.UTC), nil
}

// DaysLate counts whole late days, where any time past the due instant
// starts day one. Zero means on time.
func DaysLate(due, now time.Time) int {
	if !now.After(due) {
		return 0
	}
	return int(now.Sub(due)/(24*time.Hour)) + 1
}
