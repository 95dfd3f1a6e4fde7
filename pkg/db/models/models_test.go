package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
)

func TestContractCanRenew(t *testing.T) {
	two := 2
	c := Contract{AutoRenewal: true, MaxRenewals: &two, RenewalCount: 2}
	assert.False(t, c.CanRenew())

	c.RenewalCount = 1
	assert.True(t, c.CanRenew())

	c.MaxRenewals = nil
	c.RenewalCount = 50
	assert.True(t, c.CanRenew())

	c.AutoRenewal = false
	assert.False(t, c.CanRenew())
}

func TestContractNoticeWindow(t *testing.T) {
	end := time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC)
	c := Contract{EndDate: end, RenewalNoticeDays: 30}

	assert.False(t, c.InNoticeWindow(end.AddDate(0, 0, -31)))
	assert.True(t, c.InNoticeWindow(end.AddDate(0, 0, -30)))
	assert.True(t, c.InNoticeWindow(end.Add(-time.Hour)))
	assert.False(t, c.InNoticeWindow(end))
	assert.True(t, c.IsPastEnd(end))
}

func TestOwnershipIsActive(t *testing.T) {
	now := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	o := Ownership{Status: enums.OwnershipStatusActive, EndDate: now.AddDate(0, 1, 0)}
	assert.True(t, o.IsActive(now))
	assert.False(t, o.IsActive(now.AddDate(0, 2, 0)))

	o.Status = enums.OwnershipStatusPending
	assert.False(t, o.IsActive(now))
}

func TestEnvironmentFactorRecompute(t *testing.T) {
	rain := decimal.NewFromInt(200)
	temp := decimal.NewFromInt(25)
	e := EnvironmentFactor{RainfallMM: &rain, TemperatureC: &temp}
	require.NoError(t, e.BeforeSave(nil))

	assert.Equal(t, "1.2", e.RainfallFactor.String())
	assert.Equal(t, "1.1", e.TemperatureFactor.String())
	assert.Equal(t, "1", e.SoilFactor.String())
	assert.Equal(t, "1.32", e.OverallFactor.String())
}

func TestCreditTransactionTotalAmount(t *testing.T) {
	tx := CreditTransaction{Quantity: 3, UnitPrice: decimal.RequireFromString("12.50"), TotalAmount: decimal.NewFromInt(1)}
	require.NoError(t, tx.BeforeSave(nil))
	assert.Equal(t, "37.5", tx.TotalAmount.String())
}

func TestPhaseSurplusAndDeficit(t *testing.T) {
	p := ProjectPhase{
		TargetCO2:  decimal.NewFromInt(100),
		DirectCO2:  decimal.NewFromInt(80),
		ReserveCO2: decimal.NewFromInt(10),
	}
	assert.Equal(t, "10", p.Deficit().String())
	assert.True(t, p.Surplus().IsZero())

	p.DirectCO2 = decimal.NewFromInt(130)
	assert.Equal(t, "40", p.Surplus().String())
	assert.True(t, p.Deficit().IsZero())
}

func TestReserveAndCreditExpiry(t *testing.T) {
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)

	r := CarbonReserve{Status: enums.ReserveStatusAvailable, ExpiresAt: &past}
	assert.True(t, r.IsExpired(now))
	r.ExpiresAt = nil
	assert.False(t, r.IsExpired(now))

	c := CarbonCredit{Status: enums.CreditStatusExpired}
	assert.True(t, c.IsExpired(now))
}

func TestCarbonCreditBalanced(t *testing.T) {
	c := CarbonCredit{CreditsIssued: 10, CreditsAvailable: 4, CreditsSold: 3, CreditsRetired: 3}
	assert.True(t, c.Balanced())
	c.CreditsAvailable = 5
	assert.False(t, c.Balanced())
}

func TestTreeBatchSurvivalRatio(t *testing.T) {
	b := TreeBatch{PlantedCount: 100, AliveCount: 75}
	assert.Equal(t, "0.75", b.SurvivalRatio().String())
	assert.Equal(t, "1", (&TreeBatch{}).SurvivalRatio().String())
}
