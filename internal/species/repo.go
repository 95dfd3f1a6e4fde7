package species

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
)

// Repository defines persistence operations for tree species.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, species *models.TreeSpecies) (*models.TreeSpecies, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.TreeSpecies, error)
	FindByName(ctx context.Context, name string) (*models.TreeSpecies, error)
	List(ctx context.Context) ([]models.TreeSpecies, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	CountBatches(ctx context.Context, speciesID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a species repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, species *models.TreeSpecies) (*models.TreeSpecies, error) {
	if err := r.db.WithContext(ctx).Create(species).Error; err != nil {
		return nil, err
	}
	return species, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.TreeSpecies, error) {
	var species models.TreeSpecies
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&species).Error; err != nil {
		return nil, err
	}
	return &species, nil
}

func (r *repository) FindByName(ctx context.Context, name string) (*models.TreeSpecies, error) {
	var species models.TreeSpecies
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&species).Error; err != nil {
		return nil, err
	}
	return &species, nil
}

func (r *repository) List(ctx context.Context) ([]models.TreeSpecies, error) {
	var rows []models.TreeSpecies
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).Model(&models.TreeSpecies{}).Where("id = ?", id).Updates(updates).Error
}

func (r *repository) CountBatches(ctx context.Context, speciesID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.TreeBatch{}).Where("species_id = ?", speciesID).Count(&count).Error
	return count, err
}
