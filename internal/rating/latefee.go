package rating

// Late-payment penalty policy, fixed by tariff regulation.
const (
	lateFeeRateBps  int64 = 200 // 2% of principal per month overdue
	lateFeeMonthLen       = 30  // days
)

// ComputeLateFee returns the penalty owed on a principal that is
// daysLate past due. Months are counted with a 30-day approximation,
// rounded up, and the fee is rounded to the nearest minor unit. The
// result must agree between the single-invoice and the multi-invoice
// payment paths, so both call through here.
func ComputeLateFee(principal int64, daysLate int) int64 {
	if daysLate <= 0 || principal <= 0 {
		return 0
	}

	monthsLate := int64((daysLate + lateFeeMonthLen - 1) / lateFeeMonthLen)
	return (principal*monthsLate*lateFeeRateBps + 5000) / 10000
}
