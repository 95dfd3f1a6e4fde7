package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/forestcarbon-backend/internal/absorption"
	"github.com/angelmondragon/forestcarbon-backend/pkg/logger"
	"github.com/angelmondragon/forestcarbon-backend/pkg/metrics"
)

const AbsorptionRecomputeJobName = "absorption-recompute"

type batchRecomputer interface {
	LiveBatchIDs(ctx context.Context) ([]uuid.UUID, error)
	Recompute(ctx context.Context, id uuid.UUID) (*absorption.RecomputeResult, error)
}

// AbsorptionJobParams configure the nightly absorption recompute.
type AbsorptionJobParams struct {
	Logger     *logger.Logger
	Metrics    *metrics.CronJobMetrics
	Absorption batchRecomputer
}

type absorptionJob struct {
	logg    *logger.Logger
	metrics *metrics.CronJobMetrics
	batches batchRecomputer
}

// NewAbsorptionRecomputeJob refreshes the absorbed CO2 of every batch with
// living trees and raises health alerts through the absorption service.
func NewAbsorptionRecomputeJob(params AbsorptionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Absorption == nil {
		return nil, fmt.Errorf("absorption service required")
	}
	return &absorptionJob{logg: params.Logger, metrics: params.Metrics, batches: params.Absorption}, nil
}

func (j *absorptionJob) Name() string { return AbsorptionRecomputeJobName }

func (j *absorptionJob) Run(ctx context.Context) error {
	ids, err := j.batches.LiveBatchIDs(ctx)
	if err != nil {
		return fmt.Errorf("list live batches: %w", err)
	}

	var (
		errs      error
		increased int
		alerted   int
		failed    int
	)
	for _, id := range ids {
		res, err := j.batches.Recompute(ctx, id)
		if err != nil {
			failed++
			errs = multierr.Append(errs, fmt.Errorf("batch %s: %w", id, err))
			continue
		}
		if res.Batch.AbsorbedCO2.GreaterThan(res.Previous) {
			increased++
		}
		if res.Alerted {
			alerted++
		}
	}

	j.metrics.AddItems(AbsorptionRecomputeJobName, "increased", increased)
	j.metrics.AddItems(AbsorptionRecomputeJobName, "alerted", alerted)
	j.metrics.AddItems(AbsorptionRecomputeJobName, "failed", failed)
	ctx = j.logg.WithFields(ctx, map[string]any{
		"scanned":   len(ids),
		"increased": increased,
		"alerted":   alerted,
		"failed":    failed,
	})
	j.logg.Info(ctx, "absorption recompute finished")
	return errs
}
