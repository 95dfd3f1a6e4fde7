package environment

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
)

// Repository defines persistence operations for environment factors.
type Repository interface {
	Create(ctx context.Context, factor *models.EnvironmentFactor) (*models.EnvironmentFactor, error)
	Save(ctx context.Context, factor *models.EnvironmentFactor) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.EnvironmentFactor, error)
	LatestForFarm(ctx context.Context, farmID uuid.UUID) (*models.EnvironmentFactor, error)
	ListForFarm(ctx context.Context, farmID uuid.UUID) ([]models.EnvironmentFactor, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an environment factor repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, factor *models.EnvironmentFactor) (*models.EnvironmentFactor, error) {
	if err := r.db.WithContext(ctx).Create(factor).Error; err != nil {
		return nil, err
	}
	return factor, nil
}

// Save persists every column so the BeforeSave hook output is written.
func (r *repository) Save(ctx context.Context, factor *models.EnvironmentFactor) error {
	return r.db.WithContext(ctx).Save(factor).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.EnvironmentFactor, error) {
	var factor models.EnvironmentFactor
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&factor).Error; err != nil {
		return nil, err
	}
	return &factor, nil
}

func (r *repository) LatestForFarm(ctx context.Context, farmID uuid.UUID) (*models.EnvironmentFactor, error) {
	var factor models.EnvironmentFactor
	err := r.db.WithContext(ctx).
		Where("farm_id = ?", farmID).
		Order("period_end DESC").
		Order("created_at DESC").
		First(&factor).Error
	if err != nil {
		return nil, err
	}
	return &factor, nil
}

func (r *repository) ListForFarm(ctx context.Context, farmID uuid.UUID) ([]models.EnvironmentFactor, error) {
	var rows []models.EnvironmentFactor
	err := r.db.WithContext(ctx).
		Where("farm_id = ?", farmID).
		Order("period_end DESC").
		Find(&rows).Error
	return rows, err
}
