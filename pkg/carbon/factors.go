// Package carbon holds the side-effect free carbon math: environmental
// factors, per-tree absorption estimates and credit conversions.
package carbon

import "github.com/shopspring/decimal"

var (
	rainfallHighMM = decimal.NewFromInt(150)
	rainfallLowMM  = decimal.NewFromInt(50)

	temperatureMinC = decimal.NewFromInt(20)
	temperatureMaxC = decimal.NewFromInt(30)

	soilPHMin = decimal.RequireFromString("6.0")
	soilPHMax = decimal.RequireFromString("7.5")

	factorWet     = decimal.RequireFromString("1.2")
	factorDry     = decimal.RequireFromString("0.8")
	factorGood    = decimal.RequireFromString("1.1")
	factorPoor    = decimal.RequireFromString("0.9")
	factorNeutral = decimal.NewFromInt(1)
)

// FactorPrecision is the number of decimals kept on the overall factor.
const FactorPrecision = 3

// Measurements are the raw environmental readings for a farm and period.
// Nil fields were not measured.
type Measurements struct {
	RainfallMM   *decimal.Decimal
	TemperatureC *decimal.Decimal
	SoilPH       *decimal.Decimal
}

type Factors struct {
	Rainfall    decimal.Decimal
	Temperature decimal.Decimal
	Soil        decimal.Decimal
	Overall     decimal.Decimal
}

func RainfallFactor(mm *decimal.Decimal) decimal.Decimal {
	switch {
	case mm == nil:
		return factorNeutral
	case mm.GreaterThan(rainfallHighMM):
		return factorWet
	case mm.LessThan(rainfallLowMM):
		return factorDry
	default:
		return factorNeutral
	}
}

func TemperatureFactor(celsius *decimal.Decimal) decimal.Decimal {
	if celsius == nil {
		return factorNeutral
	}
	return inRange(*celsius, temperatureMinC, temperatureMaxC)
}

func SoilFactor(ph *decimal.Decimal) decimal.Decimal {
	if ph == nil {
		return factorNeutral
	}
	return inRange(*ph, soilPHMin, soilPHMax)
}

func inRange(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.GreaterThanOrEqual(lo) && v.LessThanOrEqual(hi) {
		return factorGood
	}
	return factorPoor
}

// ComputeFactors derives the three sub-factors and their product rounded
// half-up to FactorPrecision decimals.
func ComputeFactors(m Measurements) Factors {
	f := Factors{
		Rainfall:    RainfallFactor(m.RainfallMM),
		Temperature: TemperatureFactor(m.TemperatureC),
		Soil:        SoilFactor(m.SoilPH),
	}
	f.Overall = f.Rainfall.Mul(f.Temperature).Mul(f.Soil).Round(FactorPrecision)
	return f
}
