package economy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Price returns the cost of buying the next unit when count are owned:
// baseCost * costMultiplier^count.
func Price(def *UpgradeDefinition, count uint64) (decimal.Decimal, error) {
	if err := checkCurve(def); err != nil {
		return decimal.Zero, err
	}
	return roundCurrency(def.BaseCost.Mul(power(def.CostMultiplier, count))), nil
}

// UnitIncome returns the per-second income of a single unit when count are
// owned: baseIncome * incomeMultiplier^count.
func UnitIncome(def *UpgradeDefinition, count uint64) (decimal.Decimal, error) {
	if err := checkCurve(def); err != nil {
		return decimal.Zero, err
	}
	return roundCurrency(def.BaseIncome.Mul(power(def.IncomeMultiplier, count))), nil
}

// Contribution is what count units of def add to perSecond.
func Contribution(def *UpgradeDefinition, count uint64) (decimal.Decimal, error) {
	if count == 0 {
		return decimal.Zero, checkCurve(def)
	}
	unit, err := UnitIncome(def, count)
	if err != nil {
		return decimal.Zero, err
	}
	return roundCurrency(unit.Mul(decimal.NewFromInt(int64(count)))), nil
}

// QuoteBulk returns the total price of buying n more units starting from
// count, in purchase order.
func QuoteBulk(def *UpgradeDefinition, count, n uint64) (decimal.Decimal, error) {
	total := decimal.Zero
	for i := uint64(0); i < n; i++ {
		p, err := Price(def, count+i)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(p)
	}
	return total, nil
}

func power(base decimal.Decimal, exp uint64) decimal.Decimal {
	if exp == 0 {
		return one
	}
	return base.Pow(decimal.NewFromInt(int64(exp)))
}

func checkCurve(def *UpgradeDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: nil definition", ErrInvalidCurve)
	}
	switch {
	case !def.BaseCost.IsPositive():
		return fmt.Errorf("%w: %s base cost %s must be > 0", ErrInvalidCurve, def.ID, def.BaseCost)
	case def.CostMultiplier.LessThanOrEqual(one):
		return fmt.Errorf("%w: %s cost multiplier %s must be > 1", ErrInvalidCurve, def.ID, def.CostMultiplier)
	case def.BaseIncome.IsNegative():
		return fmt.Errorf("%w: %s base income %s must be >= 0", ErrInvalidCurve, def.ID, def.BaseIncome)
	case def.IncomeMultiplier.LessThan(one):
		return fmt.Errorf("%w: %s income multiplier %s must be >= 1", ErrInvalidCurve, def.ID, def.IncomeMultiplier)
	case finerThanCurrency(def.BaseCost):
		return fmt.Errorf("%w: %s base cost %s has more than %d decimal places", ErrInvalidCurve, def.ID, def.BaseCost, CurrencyPlaces)
	case finerThanCurrency(def.BaseIncome):
		return fmt.Errorf("%w: %s base income %s has more than %d decimal places", ErrInvalidCurve, def.ID, def.BaseIncome, CurrencyPlaces)
	case def.BaseCost.Mul(def.CostMultiplier.Sub(one)).LessThan(microCoin):
		// Consecutive prices must differ by at least one micro-coin or
		// rounding makes them equal.
		return fmt.Errorf("%w: %s first price step is below %s", ErrInvalidCurve, def.ID, microCoin)
	case def.BaseIncome.IsPositive() && def.IncomeMultiplier.GreaterThan(one) &&
		def.BaseIncome.Mul(def.IncomeMultiplier.Sub(one)).LessThan(microCoin):
		return fmt.Errorf("%w: %s first income step is below %s", ErrInvalidCurve, def.ID, microCoin)
	}
	return nil
}

var microCoin = decimal.New(1, -CurrencyPlaces)

func finerThanCurrency(d decimal.Decimal) bool {
	return !d.Equal(d.Truncate(CurrencyPlaces))
}

// maxCount bounds counts that arrive from seeds so exponents stay int64.
const maxCount = uint64(math.MaxInt32)
