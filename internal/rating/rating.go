package rating

// UsageThreshold is the consumption level, in units, above which the
// higher tariff price applies.
const UsageThreshold int64 = 10

// Tier is the pricing definition applied to one meter account. All
// amounts are integral minor units.
type Tier struct {
	PriceBelowThreshold int64
	PriceAboveThreshold int64
	BaseFee             int64
}

// Breakdown is the cost decomposition of one billing period.
type Breakdown struct {
	UsageCost int64
	BaseFee   int64
	Total     int64
}

// ComputeUsageCost prices a consumption quantity against a tariff tier.
// The first UsageThreshold units are charged at the below-threshold
// price, the remainder at the above-threshold price. Quantity must be
// validated non-negative by the caller; this function does not clamp.
func ComputeUsageCost(quantity int64, tier Tier) Breakdown {
	var usageCost int64
	if quantity <= UsageThreshold {
		usageCost = quantity * tier.PriceBelowThreshold
	} else {
		usageCost = UsageThreshold*tier.PriceBelowThreshold + (quantity-UsageThreshold)*tier.PriceAboveThreshold
	}

	return Breakdown{
		UsageCost: usageCost,
		BaseFee:   tier.BaseFee,
		Total:     usageCost + tier.BaseFee,
	}
}
