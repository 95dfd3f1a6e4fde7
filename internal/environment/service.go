package environment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
	"github.com/angelmondragon/forestcarbon-backend/pkg/validate"
	"github.com/angelmondragon/forestcarbon-backend/pkg/weather"
)

const (
	SourceManual  = "manual"
	SourceWeather = "weather"
)

type farmLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Farm, error)
}

type weatherProvider interface {
	Fetch(ctx context.Context, lat, lng float64, from, to time.Time) (*weather.Reading, error)
}

// Service records environmental measurements and exposes the derived factor.
type Service interface {
	Record(ctx context.Context, input RecordInput) (*models.EnvironmentFactor, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.EnvironmentFactor, error)
	Latest(ctx context.Context, farmID uuid.UUID) (*models.EnvironmentFactor, error)
	History(ctx context.Context, farmID uuid.UUID) ([]models.EnvironmentFactor, error)
	CurrentFactor(ctx context.Context, farmID uuid.UUID) (*decimal.Decimal, error)
	Refresh(ctx context.Context, farm *models.Farm) (*models.EnvironmentFactor, error)
}

// RecordInput carries raw measurements for a farm and period. Missing
// measurements produce a neutral sub-factor.
type RecordInput struct {
	FarmID       uuid.UUID        `json:"farm_id" validate:"required"`
	PeriodStart  time.Time        `json:"period_start" validate:"required"`
	PeriodEnd    time.Time        `json:"period_end" validate:"required,gtfield=PeriodStart"`
	RainfallMM   *decimal.Decimal `json:"rainfall_mm"`
	TemperatureC *decimal.Decimal `json:"temperature_c"`
	SoilPH       *decimal.Decimal `json:"soil_ph"`
	Source       string           `json:"source"`
}

// UpdateInput replaces the raw measurements of a record. Nil fields clear the
// stored measurement.
type UpdateInput struct {
	RainfallMM   *decimal.Decimal `json:"rainfall_mm"`
	TemperatureC *decimal.Decimal `json:"temperature_c"`
	SoilPH       *decimal.Decimal `json:"soil_ph"`
}

type service struct {
	repo     Repository
	farms    farmLookup
	provider weatherProvider
	lookback time.Duration
	now      func() time.Time
}

// NewService wires the environment service. The weather provider is optional;
// Refresh fails with DEPENDENCY_ERROR without one.
func NewService(repo Repository, farms farmLookup, provider weatherProvider, lookback time.Duration) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("environment repository required")
	}
	if farms == nil {
		return nil, fmt.Errorf("farm lookup required")
	}
	if lookback <= 0 {
		lookback = 30 * 24 * time.Hour
	}
	return &service{
		repo:     repo,
		farms:    farms,
		provider: provider,
		lookback: lookback,
		now:      time.Now,
	}, nil
}

func (s *service) Record(ctx context.Context, input RecordInput) (*models.EnvironmentFactor, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	if err := validateMeasurements(input.RainfallMM, input.SoilPH); err != nil {
		return nil, err
	}
	if _, err := s.farms.Get(ctx, input.FarmID); err != nil {
		return nil, err
	}
	source := input.Source
	if source == "" {
		source = SourceManual
	}

	factor, err := s.repo.Create(ctx, &models.EnvironmentFactor{
		FarmID:       input.FarmID,
		PeriodStart:  input.PeriodStart.UTC(),
		PeriodEnd:    input.PeriodEnd.UTC(),
		RainfallMM:   input.RainfallMM,
		TemperatureC: input.TemperatureC,
		SoilPH:       input.SoilPH,
		Source:       source,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create environment factor")
	}
	return factor, nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.EnvironmentFactor, error) {
	if err := validateMeasurements(input.RainfallMM, input.SoilPH); err != nil {
		return nil, err
	}
	factor, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, db.MapNotFound(err, "environment factor")
	}
	factor.RainfallMM = input.RainfallMM
	factor.TemperatureC = input.TemperatureC
	factor.SoilPH = input.SoilPH
	if err := s.repo.Save(ctx, factor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update environment factor")
	}
	return factor, nil
}

func (s *service) Latest(ctx context.Context, farmID uuid.UUID) (*models.EnvironmentFactor, error) {
	factor, err := s.repo.LatestForFarm(ctx, farmID)
	if err != nil {
		return nil, db.MapNotFound(err, "environment factor")
	}
	return factor, nil
}

func (s *service) History(ctx context.Context, farmID uuid.UUID) ([]models.EnvironmentFactor, error) {
	rows, err := s.repo.ListForFarm(ctx, farmID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list environment factors")
	}
	return rows, nil
}

// CurrentFactor returns the overall factor of the farm's latest record, or
// nil when the farm has no measurements yet.
func (s *service) CurrentFactor(ctx context.Context, farmID uuid.UUID) (*decimal.Decimal, error) {
	factor, err := s.repo.LatestForFarm(ctx, farmID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load environment factor")
	}
	overall := factor.OverallFactor
	return &overall, nil
}

// Refresh pulls the last lookback window of measurements for a located farm
// and stores them as a new record.
func (s *service) Refresh(ctx context.Context, farm *models.Farm) (*models.EnvironmentFactor, error) {
	if s.provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "weather provider not configured")
	}
	if farm == nil || !farm.HasCoordinates() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "farm has no coordinates")
	}
	end := s.now().UTC()
	start := end.Add(-s.lookback)

	reading, err := s.provider.Fetch(ctx, *farm.Latitude, *farm.Longitude, start, end)
	if err != nil {
		return nil, err
	}
	return s.Record(ctx, RecordInput{
		FarmID:       farm.ID,
		PeriodStart:  reading.PeriodStart,
		PeriodEnd:    reading.PeriodEnd,
		RainfallMM:   reading.RainfallMM,
		TemperatureC: reading.TemperatureC,
		SoilPH:       reading.SoilPH,
		Source:       SourceWeather,
	})
}

var maxSoilPH = decimal.NewFromInt(14)

func validateMeasurements(rainfall, soilPH *decimal.Decimal) error {
	details := map[string]string{}
	if rainfall != nil && rainfall.IsNegative() {
		details["rainfall_mm"] = "must be greater than or equal to 0"
	}
	if soilPH != nil && (soilPH.IsNegative() || soilPH.GreaterThan(maxSoilPH)) {
		details["soil_ph"] = "must be between 0 and 14"
	}
	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return nil
}
