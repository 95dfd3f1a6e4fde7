package farms

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
)

// Repository defines persistence operations for farms.
type Repository interface {
	Create(ctx context.Context, farm *models.Farm) (*models.Farm, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Farm, error)
	List(ctx context.Context) ([]models.Farm, error)
	UpdateCoordinates(ctx context.Context, id uuid.UUID, lat, lng float64, address string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a farm repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, farm *models.Farm) (*models.Farm, error) {
	if err := r.db.WithContext(ctx).Create(farm).Error; err != nil {
		return nil, err
	}
	return farm, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Farm, error) {
	var farm models.Farm
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&farm).Error; err != nil {
		return nil, err
	}
	return &farm, nil
}

func (r *repository) List(ctx context.Context) ([]models.Farm, error) {
	var rows []models.Farm
	if err := r.db.WithContext(ctx).Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) UpdateCoordinates(ctx context.Context, id uuid.UUID, lat, lng float64, address string) error {
	updates := map[string]any{"latitude": lat, "longitude": lng}
	if address != "" {
		updates["address"] = address
	}
	return r.db.WithContext(ctx).Model(&models.Farm{}).Where("id = ?", id).Updates(updates).Error
}
