package absorption

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/internal/notifications"
	"github.com/angelmondragon/forestcarbon-backend/pkg/carbon"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/dbtest"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
)

type recordingNotifier struct {
	sent []notifications.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notifications.Notification) {
	r.sent = append(r.sent, n)
}

type fixture struct {
	svc     *service
	conn    *gorm.DB
	client  *db.Client
	notes   *recordingNotifier
	farm    *models.Farm
	species *models.TreeSpecies
	now     time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	conn, client := dbtest.Open(t)

	farm := &models.Farm{Name: "Finca Verde", Address: "San Jose"}
	require.NoError(t, conn.Create(farm).Error)
	species := &models.TreeSpecies{Name: "Cedar", BaseAbsorptionRate: decimal.RequireFromString("10.0")}
	require.NoError(t, conn.Create(species).Error)

	notes := &recordingNotifier{}
	svc, err := NewService(NewRepository(conn), client, notes, 0.8)
	require.NoError(t, err)

	f := &fixture{
		svc:     svc.(*service),
		conn:    conn,
		client:  client,
		notes:   notes,
		farm:    farm,
		species: species,
		now:     time.Date(2025, time.June, 15, 8, 0, 0, 0, time.UTC),
	}
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) seedFactor(t *testing.T) {
	t.Helper()
	rain, temp, ph := decimal.NewFromInt(100), decimal.NewFromInt(25), decimal.RequireFromString("6.8")
	factor := &models.EnvironmentFactor{
		FarmID:       f.farm.ID,
		PeriodStart:  f.now.AddDate(0, -1, 0),
		PeriodEnd:    f.now,
		RainfallMM:   &rain,
		TemperatureC: &temp,
		SoilPH:       &ph,
		Source:       "manual",
	}
	require.NoError(t, f.conn.Create(factor).Error)
	require.Equal(t, "1.210", factor.OverallFactor.StringFixed(3))
}

func (f *fixture) plant(t *testing.T, count int64) *models.TreeBatch {
	t.Helper()
	batch, err := f.svc.Plant(context.Background(), PlantInput{
		FarmID:    f.farm.ID,
		SpeciesID: f.species.ID,
		PlantedAt: time.Date(2020, time.June, 1, 0, 0, 0, 0, time.UTC),
		Count:     count,
	})
	require.NoError(t, err)
	return batch
}

func TestPlantValidatesReferences(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	planted := time.Date(2020, time.June, 1, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.Plant(ctx, PlantInput{FarmID: uuid.New(), SpeciesID: f.species.ID, PlantedAt: planted, Count: 5})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.svc.Plant(ctx, PlantInput{FarmID: f.farm.ID, SpeciesID: uuid.New(), PlantedAt: planted, Count: 5})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.svc.Plant(ctx, PlantInput{FarmID: f.farm.ID, SpeciesID: f.species.ID, PlantedAt: planted, Count: 0})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Plant(ctx, PlantInput{FarmID: f.farm.ID, SpeciesID: f.species.ID, PlantedAt: f.now.Add(time.Hour), Count: 5})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	batch := f.plant(t, 12)
	assert.Equal(t, int64(12), batch.PlantedCount)
	assert.Equal(t, int64(12), batch.AliveCount)
	assert.Equal(t, int64(12), batch.AvailableCount)
	assert.True(t, batch.AbsorbedCO2.IsZero())
}

func TestRecordMortalityCapsAvailable(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	batch := f.plant(t, 10)

	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := f.svc.TakeTrees(ctx, tx, batch.ID, 7)
		return err
	}))

	updated, err := f.svc.RecordMortality(ctx, batch.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(8), updated.AliveCount)
	assert.Equal(t, int64(3), updated.AvailableCount)

	updated, err = f.svc.RecordMortality(ctx, batch.ID, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.AliveCount)
	assert.Equal(t, int64(2), updated.AvailableCount)

	_, err = f.svc.RecordMortality(ctx, batch.ID, 3)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestRecomputeIsMonotonicAndAlertsOncePerDay(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedFactor(t)
	batch := f.plant(t, 10)

	res, err := f.svc.Recompute(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, res.Batch.AbsorbedCO2.Equal(decimal.RequireFromString("605")), "got %s", res.Batch.AbsorbedCO2)
	assert.False(t, res.Alerted)

	_, err = f.svc.RecordMortality(ctx, batch.ID, 4)
	require.NoError(t, err)

	res, err = f.svc.Recompute(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, res.Batch.AbsorbedCO2.Equal(decimal.RequireFromString("605")), "absorbed total must not drop")
	assert.True(t, res.Alerted)
	require.Len(t, f.notes.sent, 1)
	assert.Equal(t, enums.NotificationTypeHealthAlert, f.notes.sent[0].Type)
	assert.Equal(t, batch.ID, f.notes.sent[0].EntityID)

	f.now = f.now.Add(3 * time.Hour)
	res, err = f.svc.Recompute(ctx, batch.ID)
	require.NoError(t, err)
	assert.False(t, res.Alerted, "one alert per day")

	f.now = f.now.Add(24 * time.Hour)
	res, err = f.svc.Recompute(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, res.Alerted)
	assert.Len(t, f.notes.sent, 2)

	stored, err := f.svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, stored.AbsorbedCO2.Equal(decimal.RequireFromString("605")))
	require.NotNil(t, stored.LastCalculatedAt)
}

func TestEstimateForSaleUsesAvailableTrees(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedFactor(t)
	batch := f.plant(t, 10)

	var taken *carbon.Estimate
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		taken, err = f.svc.TakeTrees(ctx, tx, batch.ID, 6)
		return err
	}))
	assert.Equal(t, "60.5", taken.PerTree.String())
	assert.True(t, taken.Total.Equal(decimal.RequireFromString("363")))

	est, err := f.svc.EstimateForSale(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), est.TreeCount)
	assert.True(t, est.Total.Equal(decimal.RequireFromString("242")), "got %s", est.Total)
}

func TestTakeTreesRejectsOverdraw(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	batch := f.plant(t, 3)

	err := f.client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := f.svc.TakeTrees(ctx, tx, batch.ID, 4)
		return err
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance))

	_, err = f.svc.TakeTrees(ctx, nil, batch.ID, 1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestPreviewWithoutFarmUsesNeutralFactor(t *testing.T) {
	f := setup(t)

	est, err := f.svc.Preview(context.Background(), PreviewInput{
		SpeciesID: f.species.ID,
		PlantedAt: time.Date(2020, time.June, 1, 0, 0, 0, 0, time.UTC),
		TreeCount: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), est.AgeYears)
	assert.Equal(t, "50", est.PerTree.String())
	assert.Equal(t, "100", est.Total.String())
}

func TestLiveBatchIDsSkipsDeadBatches(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alive := f.plant(t, 5)
	dead := f.plant(t, 2)
	_, err := f.svc.RecordMortality(ctx, dead.ID, 2)
	require.NoError(t, err)

	ids, err := f.svc.LiveBatchIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{alive.ID}, ids)
}
