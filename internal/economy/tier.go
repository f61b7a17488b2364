package economy

import "github.com/shopspring/decimal"

type Tier string

const (
	TierCommon    Tier = "common"
	TierUncommon  Tier = "uncommon"
	TierRare      Tier = "rare"
	TierEpic      Tier = "epic"
	TierLegendary Tier = "legendary"
	TierMythic    Tier = "mythic"
)

// Thresholds are checked highest first.
var tierThresholds = []struct {
	min  decimal.Decimal
	tier Tier
}{
	{decimal.NewFromInt(100_000_000_000), TierMythic},
	{decimal.NewFromInt(1_000_000_000), TierLegendary},
	{decimal.NewFromInt(10_000_000), TierEpic},
	{decimal.NewFromInt(100_000), TierRare},
	{decimal.NewFromInt(1_000), TierUncommon},
}

// TierFor classifies an upgrade by its base cost. Display only; pricing
// never looks at the tier.
func TierFor(baseCost decimal.Decimal) Tier {
	for _, th := range tierThresholds {
		if baseCost.GreaterThanOrEqual(th.min) {
			return th.tier
		}
	}
	return TierCommon
}
