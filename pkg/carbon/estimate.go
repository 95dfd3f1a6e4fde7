package carbon

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// AgeYears returns the whole years elapsed between planting and now, never
// less than one.
func AgeYears(plantedAt, now time.Time) int64 {
	plantedAt, now = plantedAt.UTC(), now.UTC()
	years := int64(now.Year() - plantedAt.Year())
	anniversary := plantedAt.AddDate(int(years), 0, 0)
	if now.Before(anniversary) {
		years--
	}
	if years < 1 {
		return 1
	}
	return years
}

// PerTree estimates the kg of CO2 absorbed by one tree. A nil factor counts as 1.
func PerTree(baseRate decimal.Decimal, ageYears int64, factor *decimal.Decimal) decimal.Decimal {
	if ageYears < 1 {
		ageYears = 1
	}
	env := factorNeutral
	if factor != nil {
		env = *factor
	}
	return baseRate.Mul(decimal.NewFromInt(ageYears)).Mul(env)
}

// ForTrees scales a per-tree estimate to a tree count. Negative counts yield zero.
func ForTrees(perTree decimal.Decimal, trees int64) decimal.Decimal {
	if trees <= 0 {
		return decimal.Zero
	}
	return perTree.Mul(decimal.NewFromInt(trees))
}

// Estimate bundles an on-demand absorption estimate.
type Estimate struct {
	AgeYears  int64
	Factor    decimal.Decimal
	PerTree   decimal.Decimal
	TreeCount int64
	Total     decimal.Decimal
}

// Preview computes an estimate without touching any state.
func Preview(baseRate decimal.Decimal, plantedAt, now time.Time, factor *decimal.Decimal, trees int64) Estimate {
	age := AgeYears(plantedAt, now)
	perTree := PerTree(baseRate, age, factor)
	env := factorNeutral
	if factor != nil {
		env = *factor
	}
	return Estimate{
		AgeYears:  age,
		Factor:    env,
		PerTree:   perTree,
		TreeCount: trees,
		Total:     ForTrees(perTree, trees),
	}
}

// CreditsForTons converts verified tons of CO2 into whole credits, one per ton.
func CreditsForTons(verifiedTons decimal.Decimal) int64 {
	if verifiedTons.IsNegative() {
		return 0
	}
	return verifiedTons.Floor().IntPart()
}

// AllocatedCredits returns floor(issued * percentage / 100).
func AllocatedCredits(issued int64, percentage decimal.Decimal) int64 {
	if issued <= 0 || !percentage.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(issued).Mul(percentage).Div(hundred).Floor().IntPart()
}

// ProportionalShare returns floor(amount * part / whole), used to split an
// allocation when only part of an ownership moves.
func ProportionalShare(amount int64, part, whole decimal.Decimal) int64 {
	if amount <= 0 || !part.IsPositive() || !whole.IsPositive() {
		return 0
	}
	if part.GreaterThanOrEqual(whole) {
		return amount
	}
	return decimal.NewFromInt(amount).Mul(part).Div(whole).Floor().IntPart()
}
