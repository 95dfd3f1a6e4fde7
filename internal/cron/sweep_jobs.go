package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/forestcarbon-backend/internal/contracts"
	"github.com/angelmondragon/forestcarbon-backend/internal/credits"
	"github.com/angelmondragon/forestcarbon-backend/internal/ownerships"
	"github.com/angelmondragon/forestcarbon-backend/internal/reserves"
	"github.com/angelmondragon/forestcarbon-backend/pkg/logger"
	"github.com/angelmondragon/forestcarbon-backend/pkg/metrics"
)

const (
	ReserveExpiryJobName     = "reserve-expiry"
	CreditExpiryJobName      = "credit-expiry"
	OwnershipExpiryJobName   = "ownership-expiry"
	ContractLifecycleJobName = "contract-lifecycle"
)

// SweepJobParams configure the date-driven expiry sweeps.
type SweepJobParams struct {
	Logger  *logger.Logger
	Metrics *metrics.CronJobMetrics
}

type reserveSweeper interface {
	SweepExpired(ctx context.Context) (reserves.SweepResult, error)
}

type creditSweeper interface {
	SweepExpired(ctx context.Context) (credits.SweepResult, error)
}

type ownershipSweeper interface {
	SweepExpired(ctx context.Context) (ownerships.SweepResult, error)
}

type lifecycleSweeper interface {
	SweepLifecycle(ctx context.Context) (contracts.LifecycleResult, error)
}

// sweepOutcome is a sweep result flattened to outcome counters.
type sweepOutcome struct {
	scanned int
	counts  map[string]int
}

type sweepJob struct {
	name    string
	logg    *logger.Logger
	metrics *metrics.CronJobMetrics
	sweep   func(ctx context.Context) (sweepOutcome, error)
}

func newSweepJob(name string, params SweepJobParams, sweep func(ctx context.Context) (sweepOutcome, error)) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &sweepJob{name: name, logg: params.Logger, metrics: params.Metrics, sweep: sweep}, nil
}

// NewReserveExpiryJob expires AVAILABLE reserves past their expiry.
func NewReserveExpiryJob(params SweepJobParams, svc reserveSweeper) (Job, error) {
	if svc == nil {
		return nil, fmt.Errorf("reserve service required")
	}
	return newSweepJob(ReserveExpiryJobName, params, func(ctx context.Context) (sweepOutcome, error) {
		res, err := svc.SweepExpired(ctx)
		return sweepOutcome{scanned: res.Scanned, counts: map[string]int{"expired": res.Expired, "failed": res.Failed}}, err
	})
}

// NewCreditExpiryJob expires unretired credits past their lifetime.
func NewCreditExpiryJob(params SweepJobParams, svc creditSweeper) (Job, error) {
	if svc == nil {
		return nil, fmt.Errorf("credit service required")
	}
	return newSweepJob(CreditExpiryJobName, params, func(ctx context.Context) (sweepOutcome, error) {
		res, err := svc.SweepExpired(ctx)
		for _, id := range res.ExpiredIDs {
			params.Logger.Info(params.Logger.WithCreditID(ctx, id.String()), "credit expired")
		}
		return sweepOutcome{scanned: res.Scanned, counts: map[string]int{"expired": res.Expired, "failed": res.Failed}}, err
	})
}

// NewOwnershipExpiryJob expires ACTIVE ownerships past their end date.
func NewOwnershipExpiryJob(params SweepJobParams, svc ownershipSweeper) (Job, error) {
	if svc == nil {
		return nil, fmt.Errorf("ownership service required")
	}
	return newSweepJob(OwnershipExpiryJobName, params, func(ctx context.Context) (sweepOutcome, error) {
		res, err := svc.SweepExpired(ctx)
		return sweepOutcome{scanned: res.Scanned, counts: map[string]int{"expired": res.Expired, "failed": res.Failed}}, err
	})
}

// NewContractLifecycleJob flags, renews and expires running contracts.
func NewContractLifecycleJob(params SweepJobParams, svc lifecycleSweeper) (Job, error) {
	if svc == nil {
		return nil, fmt.Errorf("contract service required")
	}
	return newSweepJob(ContractLifecycleJobName, params, func(ctx context.Context) (sweepOutcome, error) {
		res, err := svc.SweepLifecycle(ctx)
		return sweepOutcome{scanned: res.Scanned, counts: map[string]int{
			"expiring_soon": res.MarkedExpiring,
			"expired":       res.Expired,
			"renewed":       res.Renewed,
			"failed":        res.Failed,
		}}, err
	})
}

func (j *sweepJob) Name() string { return j.name }

func (j *sweepJob) Run(ctx context.Context) error {
	out, err := j.sweep(ctx)
	fields := map[string]any{"scanned": out.scanned}
	for outcome, n := range out.counts {
		fields[outcome] = n
		j.metrics.AddItems(j.name, outcome, n)
	}
	ctx = j.logg.WithFields(ctx, fields)
	if err != nil {
		return fmt.Errorf("%s sweep: %w", j.name, err)
	}
	if out.scanned > 0 {
		j.logg.Info(ctx, "sweep finished")
	}
	return nil
}
