package absorption

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
)

// Repository defines persistence operations for tree batches and the
// reference data their estimates depend on.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, batch *models.TreeBatch) (*models.TreeBatch, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.TreeBatch, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.TreeBatch, error)
	ListByFarm(ctx context.Context, farmID uuid.UUID) ([]models.TreeBatch, error)
	ListLiveIDs(ctx context.Context) ([]uuid.UUID, error)
	UpdateVersioned(ctx context.Context, batch *models.TreeBatch, updates map[string]any) error
	FindSpecies(ctx context.Context, id uuid.UUID) (*models.TreeSpecies, error)
	FarmExists(ctx context.Context, id uuid.UUID) (bool, error)
	LatestFactor(ctx context.Context, farmID uuid.UUID) (*decimal.Decimal, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a tree batch repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, batch *models.TreeBatch) (*models.TreeBatch, error) {
	if err := r.db.WithContext(ctx).Create(batch).Error; err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.TreeBatch, error) {
	var batch models.TreeBatch
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.TreeBatch, error) {
	var batch models.TreeBatch
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *repository) ListByFarm(ctx context.Context, farmID uuid.UUID) ([]models.TreeBatch, error) {
	var rows []models.TreeBatch
	err := r.db.WithContext(ctx).
		Where("farm_id = ?", farmID).
		Order("planted_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// ListLiveIDs returns batches with at least one living tree.
func (r *repository) ListLiveIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.TreeBatch{}).
		Where("alive_count > 0").
		Order("created_at ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *repository) UpdateVersioned(ctx context.Context, batch *models.TreeBatch, updates map[string]any) error {
	return db.UpdateVersioned(r.db.WithContext(ctx), &models.TreeBatch{}, batch.ID, batch.Version, updates)
}

func (r *repository) FindSpecies(ctx context.Context, id uuid.UUID) (*models.TreeSpecies, error) {
	var species models.TreeSpecies
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&species).Error; err != nil {
		return nil, err
	}
	return &species, nil
}

func (r *repository) FarmExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Farm{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// LatestFactor returns the overall factor of the farm's most recent
// environment record, or nil when none exists.
func (r *repository) LatestFactor(ctx context.Context, farmID uuid.UUID) (*decimal.Decimal, error) {
	var factor models.EnvironmentFactor
	err := r.db.WithContext(ctx).
		Where("farm_id = ?", farmID).
		Order("period_end DESC").
		Order("created_at DESC").
		First(&factor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	overall := factor.OverallFactor
	return &overall, nil
}
