package absorption

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/internal/notifications"
	"github.com/angelmondragon/forestcarbon-backend/pkg/carbon"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
	"github.com/angelmondragon/forestcarbon-backend/pkg/validate"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type notifier interface {
	Notify(ctx context.Context, n notifications.Notification)
}

// Service tracks tree batches and the CO2 they absorb.
type Service interface {
	Plant(ctx context.Context, input PlantInput) (*models.TreeBatch, error)
	Get(ctx context.Context, id uuid.UUID) (*models.TreeBatch, error)
	ListByFarm(ctx context.Context, farmID uuid.UUID) ([]models.TreeBatch, error)
	RecordMortality(ctx context.Context, id uuid.UUID, dead int64) (*models.TreeBatch, error)
	Recompute(ctx context.Context, id uuid.UUID) (*RecomputeResult, error)
	LiveBatchIDs(ctx context.Context) ([]uuid.UUID, error)
	EstimateForSale(ctx context.Context, id uuid.UUID) (*carbon.Estimate, error)
	Preview(ctx context.Context, input PreviewInput) (*carbon.Estimate, error)
	TakeTrees(ctx context.Context, tx *gorm.DB, batchID uuid.UUID, count int64) (*carbon.Estimate, error)
}

// PlantInput registers a new batch.
type PlantInput struct {
	FarmID    uuid.UUID `json:"farm_id" validate:"required"`
	SpeciesID uuid.UUID `json:"species_id" validate:"required"`
	PlantedAt time.Time `json:"planted_at" validate:"required"`
	Count     int64     `json:"count" validate:"gt=0"`
}

// PreviewInput describes a hypothetical batch. FarmID is optional and only
// used to pick up the farm's environment factor.
type PreviewInput struct {
	SpeciesID uuid.UUID  `json:"species_id" validate:"required"`
	FarmID    *uuid.UUID `json:"farm_id"`
	PlantedAt time.Time  `json:"planted_at" validate:"required"`
	TreeCount int64      `json:"tree_count" validate:"gte=0"`
}

// RecomputeResult reports the outcome of a single batch recompute.
type RecomputeResult struct {
	Batch    *models.TreeBatch
	Previous decimal.Decimal
	Alerted  bool
}

type service struct {
	repo     Repository
	tx       txRunner
	notify   notifier
	survival decimal.Decimal
	now      func() time.Time
}

// NewService wires the absorption service. Batches whose survival ratio
// falls below survivalThreshold raise a health alert on recompute.
func NewService(repo Repository, tx txRunner, notify notifier, survivalThreshold float64) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("tree batch repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{
		repo:     repo,
		tx:       tx,
		notify:   notify,
		survival: decimal.NewFromFloat(survivalThreshold),
		now:      time.Now,
	}, nil
}

func (s *service) Plant(ctx context.Context, input PlantInput) (*models.TreeBatch, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if input.PlantedAt.After(now) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "planted_at cannot be in the future")
	}

	var created *models.TreeBatch
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		exists, err := repo.FarmExists(ctx, input.FarmID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup farm")
		}
		if !exists {
			return pkgerrors.New(pkgerrors.CodeNotFound, "farm not found")
		}
		if _, err := repo.FindSpecies(ctx, input.SpeciesID); err != nil {
			return db.MapNotFound(err, "species")
		}

		created, err = repo.Create(ctx, &models.TreeBatch{
			FarmID:         input.FarmID,
			SpeciesID:      input.SpeciesID,
			PlantedAt:      input.PlantedAt.UTC(),
			PlantedCount:   input.Count,
			AliveCount:     input.Count,
			AvailableCount: input.Count,
			AbsorbedCO2:    decimal.Zero,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create tree batch")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.TreeBatch, error) {
	batch, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, db.MapNotFound(err, "tree batch")
	}
	return batch, nil
}

func (s *service) ListByFarm(ctx context.Context, farmID uuid.UUID) ([]models.TreeBatch, error) {
	rows, err := s.repo.ListByFarm(ctx, farmID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list tree batches")
	}
	return rows, nil
}

// RecordMortality removes dead trees from the alive count. The available
// count is capped at the new alive count.
func (s *service) RecordMortality(ctx context.Context, id uuid.UUID, dead int64) (*models.TreeBatch, error) {
	if dead <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dead count must be greater than 0")
	}

	var updated *models.TreeBatch
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		batch, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return db.MapNotFound(err, "tree batch")
		}
		if dead > batch.AliveCount {
			return pkgerrors.New(pkgerrors.CodeValidation, "dead count exceeds alive trees").
				WithDetails(map[string]any{"alive_count": batch.AliveCount, "dead": dead})
		}

		alive := batch.AliveCount - dead
		available := batch.AvailableCount
		if available > alive {
			available = alive
		}
		if err := repo.UpdateVersioned(ctx, batch, map[string]any{
			"alive_count":     alive,
			"available_count": available,
		}); err != nil {
			return err
		}
		batch.AliveCount = alive
		batch.AvailableCount = available
		batch.Version++
		updated = batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Recompute refreshes the accounting estimate of a batch from its alive
// trees. The stored total never decreases.
func (s *service) Recompute(ctx context.Context, id uuid.UUID) (*RecomputeResult, error) {
	now := s.now().UTC()
	var result *RecomputeResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		batch, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return db.MapNotFound(err, "tree batch")
		}
		est, err := s.estimate(ctx, repo, batch, batch.AliveCount, now)
		if err != nil {
			return err
		}

		previous := batch.AbsorbedCO2
		absorbed := decimal.Max(previous, est.Total)
		updates := map[string]any{
			"absorbed_co2":       absorbed,
			"last_calculated_at": now,
		}
		alert := s.needsHealthAlert(batch, now)
		if alert {
			updates["last_health_alert_at"] = now
		}
		if err := repo.UpdateVersioned(ctx, batch, updates); err != nil {
			return err
		}
		batch.AbsorbedCO2 = absorbed
		batch.LastCalculatedAt = &now
		if alert {
			batch.LastHealthAlertAt = &now
		}
		batch.Version++
		result = &RecomputeResult{Batch: batch, Previous: previous, Alerted: alert}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Alerted && s.notify != nil {
		s.notify.Notify(ctx, healthAlert(result.Batch))
	}
	return result, nil
}

func (s *service) LiveBatchIDs(ctx context.Context) ([]uuid.UUID, error) {
	ids, err := s.repo.ListLiveIDs(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list live tree batches")
	}
	return ids, nil
}

// EstimateForSale values the trees of a batch that are still available.
func (s *service) EstimateForSale(ctx context.Context, id uuid.UUID) (*carbon.Estimate, error) {
	batch, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, db.MapNotFound(err, "tree batch")
	}
	return s.estimate(ctx, s.repo, batch, batch.AvailableCount, s.now().UTC())
}

func (s *service) Preview(ctx context.Context, input PreviewInput) (*carbon.Estimate, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	species, err := s.repo.FindSpecies(ctx, input.SpeciesID)
	if err != nil {
		return nil, db.MapNotFound(err, "species")
	}
	var factor *decimal.Decimal
	if input.FarmID != nil {
		factor, err = s.repo.LatestFactor(ctx, *input.FarmID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load environment factor")
		}
	}
	est := carbon.Preview(species.BaseAbsorptionRate, input.PlantedAt, s.now().UTC(), factor, input.TreeCount)
	return &est, nil
}

// TakeTrees removes count trees from the available pool of a batch inside
// the caller's transaction and returns the estimate for the trees taken.
func (s *service) TakeTrees(ctx context.Context, tx *gorm.DB, batchID uuid.UUID, count int64) (*carbon.Estimate, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required to take trees")
	}
	if count <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tree count must be greater than 0")
	}
	repo := s.repo.WithTx(tx)
	batch, err := repo.FindByIDForUpdate(ctx, batchID)
	if err != nil {
		return nil, db.MapNotFound(err, "tree batch")
	}
	if count > batch.AvailableCount {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "not enough available trees").
			WithDetails(map[string]any{"available_count": batch.AvailableCount, "requested": count})
	}

	est, err := s.estimate(ctx, repo, batch, count, s.now().UTC())
	if err != nil {
		return nil, err
	}
	remaining := batch.AvailableCount - count
	if err := repo.UpdateVersioned(ctx, batch, map[string]any{"available_count": remaining}); err != nil {
		return nil, err
	}
	batch.AvailableCount = remaining
	batch.Version++
	return est, nil
}

func (s *service) estimate(ctx context.Context, repo Repository, batch *models.TreeBatch, trees int64, now time.Time) (*carbon.Estimate, error) {
	species, err := repo.FindSpecies(ctx, batch.SpeciesID)
	if err != nil {
		return nil, db.MapNotFound(err, "species")
	}
	factor, err := repo.LatestFactor(ctx, batch.FarmID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load environment factor")
	}
	est := carbon.Preview(species.BaseAbsorptionRate, batch.PlantedAt, now, factor, trees)
	return &est, nil
}

// needsHealthAlert reports whether the batch's survival ratio is below the
// threshold and no alert has been raised for it today.
func (s *service) needsHealthAlert(batch *models.TreeBatch, now time.Time) bool {
	if !s.survival.IsPositive() || batch.PlantedCount <= 0 {
		return false
	}
	if !batch.SurvivalRatio().LessThan(s.survival) {
		return false
	}
	if batch.LastHealthAlertAt == nil {
		return true
	}
	last := batch.LastHealthAlertAt.UTC()
	return last.Truncate(24 * time.Hour).Before(now.Truncate(24 * time.Hour))
}

func healthAlert(batch *models.TreeBatch) notifications.Notification {
	ratio := batch.SurvivalRatio()
	return notifications.Notification{
		Type:       enums.NotificationTypeHealthAlert,
		EntityType: "tree_batch",
		EntityID:   batch.ID,
		Title:      "Tree batch health alert",
		Message:    fmt.Sprintf("Survival ratio dropped to %s%% (%d of %d trees alive)", ratio.Mul(decimal.NewFromInt(100)).StringFixed(1), batch.AliveCount, batch.PlantedCount),
		Data: map[string]any{
			"farm_id":        batch.FarmID.String(),
			"alive_count":    batch.AliveCount,
			"planted_count":  batch.PlantedCount,
			"survival_ratio": ratio.StringFixed(3),
		},
	}
}
