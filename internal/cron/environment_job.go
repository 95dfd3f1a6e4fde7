package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	"github.com/angelmondragon/forestcarbon-backend/pkg/logger"
	"github.com/angelmondragon/forestcarbon-backend/pkg/metrics"
)

const EnvironmentRefreshJobName = "environment-refresh"

type farmLocator interface {
	List(ctx context.Context) ([]models.Farm, error)
	Locate(ctx context.Context, id uuid.UUID) (*models.Farm, error)
}

type environmentRefresher interface {
	Refresh(ctx context.Context, farm *models.Farm) (*models.EnvironmentFactor, error)
}

// EnvironmentJobParams configure the environment factor refresh.
type EnvironmentJobParams struct {
	Logger      *logger.Logger
	Metrics     *metrics.CronJobMetrics
	Farms       farmLocator
	Environment environmentRefresher
}

type environmentJob struct {
	logg        *logger.Logger
	metrics     *metrics.CronJobMetrics
	farms       farmLocator
	environment environmentRefresher
}

// NewEnvironmentRefreshJob records fresh weather and soil measurements per
// farm. Farms without coordinates are geocoded first. Provider failures are
// logged and skipped; the farm keeps its last factor.
func NewEnvironmentRefreshJob(params EnvironmentJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Farms == nil {
		return nil, fmt.Errorf("farm service required")
	}
	if params.Environment == nil {
		return nil, fmt.Errorf("environment service required")
	}
	return &environmentJob{
		logg:        params.Logger,
		metrics:     params.Metrics,
		farms:       params.Farms,
		environment: params.Environment,
	}, nil
}

func (j *environmentJob) Name() string { return EnvironmentRefreshJobName }

func (j *environmentJob) Run(ctx context.Context) error {
	farms, err := j.farms.List(ctx)
	if err != nil {
		return fmt.Errorf("list farms: %w", err)
	}

	var refreshed, skipped int
	for i := range farms {
		farm := &farms[i]
		farmCtx := j.logg.WithFarmID(ctx, farm.ID.String())
		if !farm.HasCoordinates() {
			located, err := j.farms.Locate(farmCtx, farm.ID)
			if err != nil {
				j.logg.Warn(farmCtx, "geocoding failed, skipping farm: "+err.Error())
				skipped++
				continue
			}
			farm = located
		}
		if _, err := j.environment.Refresh(farmCtx, farm); err != nil {
			j.logg.Warn(farmCtx, "environment refresh failed, skipping farm: "+err.Error())
			skipped++
			continue
		}
		refreshed++
	}

	j.metrics.AddItems(EnvironmentRefreshJobName, "refreshed", refreshed)
	j.metrics.AddItems(EnvironmentRefreshJobName, "skipped", skipped)
	ctx = j.logg.WithFields(ctx, map[string]any{"farms": len(farms), "refreshed": refreshed, "skipped": skipped})
	j.logg.Info(ctx, "environment refresh finished")
	return nil
}
