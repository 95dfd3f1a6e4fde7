package carbon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(t *testing.T, s string) *decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return &d
}

func TestSubFactors(t *testing.T) {
	cases := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"rainfall wet", RainfallFactor(dec(t, "150.01")), "1.2"},
		{"rainfall boundary high", RainfallFactor(dec(t, "150")), "1"},
		{"rainfall boundary low", RainfallFactor(dec(t, "50")), "1"},
		{"rainfall dry", RainfallFactor(dec(t, "49.9")), "0.8"},
		{"rainfall missing", RainfallFactor(nil), "1"},
		{"temperature low edge", TemperatureFactor(dec(t, "20")), "1.1"},
		{"temperature high edge", TemperatureFactor(dec(t, "30")), "1.1"},
		{"temperature hot", TemperatureFactor(dec(t, "30.1")), "0.9"},
		{"temperature missing", TemperatureFactor(nil), "1"},
		{"soil low edge", SoilFactor(dec(t, "6.0")), "1.1"},
		{"soil high edge", SoilFactor(dec(t, "7.5")), "1.1"},
		{"soil acidic", SoilFactor(dec(t, "5.9")), "0.9"},
		{"soil missing", SoilFactor(nil), "1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.got.Equal(decimal.RequireFromString(tc.want)), "got %s want %s", tc.got, tc.want)
		})
	}
}

func TestComputeFactorsOverallIsRoundedProduct(t *testing.T) {
	rain := []*decimal.Decimal{nil, dec(t, "20"), dec(t, "100"), dec(t, "200")}
	temp := []*decimal.Decimal{nil, dec(t, "10"), dec(t, "25")}
	ph := []*decimal.Decimal{nil, dec(t, "4.5"), dec(t, "6.8")}

	for _, r := range rain {
		for _, tc := range temp {
			for _, p := range ph {
				f := ComputeFactors(Measurements{RainfallMM: r, TemperatureC: tc, SoilPH: p})
				want := f.Rainfall.Mul(f.Temperature).Mul(f.Soil).Round(3)
				assert.True(t, f.Overall.Equal(want), "overall %s want %s", f.Overall, want)
			}
		}
	}

	best := ComputeFactors(Measurements{RainfallMM: dec(t, "200"), TemperatureC: dec(t, "25"), SoilPH: dec(t, "6.8")})
	assert.Equal(t, "1.452", best.Overall.StringFixed(3))

	worst := ComputeFactors(Measurements{RainfallMM: dec(t, "10"), TemperatureC: dec(t, "5"), SoilPH: dec(t, "9")})
	assert.Equal(t, "0.648", worst.Overall.StringFixed(3))

	empty := ComputeFactors(Measurements{})
	assert.True(t, empty.Overall.Equal(decimal.NewFromInt(1)))
}

func TestAgeYears(t *testing.T) {
	planted := time.Date(2020, time.June, 15, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, int64(1), AgeYears(planted, planted.AddDate(0, 3, 0)), "young batches count as one year")
	assert.Equal(t, int64(4), AgeYears(planted, time.Date(2025, time.June, 14, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, int64(5), AgeYears(planted, time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, int64(1), AgeYears(planted, planted.AddDate(-1, 0, 0)), "future planting still yields one")
}

func TestPerTreeScenario(t *testing.T) {
	got := PerTree(decimal.RequireFromString("10.0"), 5, dec(t, "1.21"))
	assert.Equal(t, "60.5", got.String())

	noFactor := PerTree(decimal.RequireFromString("10.0"), 5, nil)
	assert.Equal(t, "50", noFactor.String())
}

func TestPreviewUsesTreeCount(t *testing.T) {
	planted := time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	est := Preview(decimal.RequireFromString("10"), planted, now, dec(t, "1.21"), 4)
	assert.Equal(t, int64(5), est.AgeYears)
	assert.Equal(t, "60.5", est.PerTree.String())
	assert.Equal(t, "242", est.Total.String())

	assert.True(t, ForTrees(est.PerTree, -3).IsZero())
}

func TestCreditsForTons(t *testing.T) {
	assert.Equal(t, int64(1000), CreditsForTons(decimal.RequireFromString("1000.99")))
	assert.Equal(t, int64(0), CreditsForTons(decimal.RequireFromString("0.4")))
	assert.Equal(t, int64(0), CreditsForTons(decimal.RequireFromString("-3")))
}

func TestAllocatedCredits(t *testing.T) {
	assert.Equal(t, int64(333), AllocatedCredits(1000, decimal.RequireFromString("33.33")))
	assert.Equal(t, int64(1000), AllocatedCredits(1000, decimal.NewFromInt(100)))
	assert.Equal(t, int64(0), AllocatedCredits(1000, decimal.Zero))
	assert.Equal(t, int64(2), AllocatedCredits(7, decimal.NewFromInt(40)))
}

func TestProportionalShare(t *testing.T) {
	assert.Equal(t, int64(50), ProportionalShare(200, decimal.NewFromInt(10), decimal.NewFromInt(40)))
	assert.Equal(t, int64(33), ProportionalShare(100, decimal.NewFromInt(1), decimal.NewFromInt(3)))
	assert.Equal(t, int64(100), ProportionalShare(100, decimal.NewFromInt(50), decimal.NewFromInt(50)))
	assert.Equal(t, int64(0), ProportionalShare(100, decimal.Zero, decimal.NewFromInt(50)))
}
