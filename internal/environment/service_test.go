package environment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/forestcarbon-backend/internal/farms"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/dbtest"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
	"github.com/angelmondragon/forestcarbon-backend/pkg/weather"
)

type stubProvider struct {
	reading  *weather.Reading
	err      error
	from, to time.Time
}

func (s *stubProvider) Fetch(_ context.Context, _, _ float64, from, to time.Time) (*weather.Reading, error) {
	s.from, s.to = from, to
	return s.reading, s.err
}

type fixture struct {
	svc   Service
	farms farms.Service
	farm  *models.Farm
}

func setup(t *testing.T, provider weatherProvider) fixture {
	t.Helper()
	conn, _ := dbtest.Open(t)
	farmSvc, err := farms.NewService(farms.NewRepository(conn), nil)
	require.NoError(t, err)

	lat, lng := 9.93, -84.08
	farm, err := farmSvc.Create(context.Background(), farms.CreateInput{
		Name:      "Finca Verde",
		Address:   "San Jose",
		Latitude:  &lat,
		Longitude: &lng,
	})
	require.NoError(t, err)

	svc, err := NewService(NewRepository(conn), farmSvc, provider, 0)
	require.NoError(t, err)
	return fixture{svc: svc, farms: farmSvc, farm: farm}
}

func d(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func TestRecordComputesFactors(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

	rec, err := f.svc.Record(ctx, RecordInput{
		FarmID:       f.farm.ID,
		PeriodStart:  start,
		PeriodEnd:    start.AddDate(0, 1, 0),
		RainfallMM:   d("200"),
		TemperatureC: d("25"),
		SoilPH:       d("6.8"),
	})
	require.NoError(t, err)
	assert.Equal(t, SourceManual, rec.Source)
	assert.Equal(t, "1.452", rec.OverallFactor.StringFixed(3))

	current, err := f.svc.CurrentFactor(ctx, f.farm.ID)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "1.452", current.StringFixed(3))
}

func TestRecordRejectsInvalidInput(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.Record(ctx, RecordInput{FarmID: f.farm.ID, PeriodStart: start, PeriodEnd: start})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "period end must follow start: %v", err)

	_, err = f.svc.Record(ctx, RecordInput{FarmID: f.farm.ID, PeriodStart: start, PeriodEnd: start.AddDate(0, 0, 1), SoilPH: d("15")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Record(ctx, RecordInput{FarmID: uuid.New(), PeriodStart: start, PeriodEnd: start.AddDate(0, 0, 1)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestUpdateRecomputesFactors(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

	rec, err := f.svc.Record(ctx, RecordInput{FarmID: f.farm.ID, PeriodStart: start, PeriodEnd: start.AddDate(0, 1, 0), RainfallMM: d("20")})
	require.NoError(t, err)
	assert.Equal(t, "0.800", rec.OverallFactor.StringFixed(3))

	updated, err := f.svc.Update(ctx, rec.ID, UpdateInput{RainfallMM: d("100")})
	require.NoError(t, err)
	assert.Equal(t, "1.000", updated.OverallFactor.StringFixed(3))

	latest, err := f.svc.Latest(ctx, f.farm.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.000", latest.OverallFactor.StringFixed(3))
}

func TestCurrentFactorNilWithoutRecords(t *testing.T) {
	f := setup(t, nil)

	current, err := f.svc.CurrentFactor(context.Background(), f.farm.ID)
	require.NoError(t, err)
	assert.Nil(t, current)

	_, err = f.svc.Latest(context.Background(), f.farm.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRefreshStoresWeatherReading(t *testing.T) {
	now := time.Date(2025, time.March, 31, 12, 0, 0, 0, time.UTC)
	provider := &stubProvider{reading: &weather.Reading{
		RainfallMM:   d("180"),
		TemperatureC: d("24"),
		PeriodStart:  now.Add(-30 * 24 * time.Hour),
		PeriodEnd:    now,
	}}
	f := setup(t, provider)
	f.svc.(*service).now = func() time.Time { return now }

	rec, err := f.svc.Refresh(context.Background(), f.farm)
	require.NoError(t, err)
	assert.Equal(t, SourceWeather, rec.Source)
	assert.Equal(t, "1.320", rec.OverallFactor.StringFixed(3))
	assert.Equal(t, now, provider.to)
	assert.Equal(t, now.Add(-30*24*time.Hour), provider.from)
}

func TestRefreshRequiresProviderAndCoordinates(t *testing.T) {
	f := setup(t, nil)
	_, err := f.svc.Refresh(context.Background(), f.farm)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	g := setup(t, &stubProvider{})
	_, err = g.svc.Refresh(context.Background(), &models.Farm{ID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
