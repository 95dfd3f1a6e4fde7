package reserves

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
)

// Repository defines persistence operations for the reserve pool.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, reserve *models.CarbonReserve) (*models.CarbonReserve, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.CarbonReserve, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.CarbonReserve, error)
	ListAvailable(ctx context.Context, now time.Time) ([]models.CarbonReserve, error)
	ListExpiredIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	UpdateVersioned(ctx context.Context, reserve *models.CarbonReserve, updates map[string]any) error
	CreateAllocation(ctx context.Context, allocation *models.CarbonReserveAllocation) error
	ListAllocations(ctx context.Context, reserveID uuid.UUID) ([]models.CarbonReserveAllocation, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a reserve repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, reserve *models.CarbonReserve) (*models.CarbonReserve, error) {
	if err := r.db.WithContext(ctx).Create(reserve).Error; err != nil {
		return nil, err
	}
	return reserve, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CarbonReserve, error) {
	var reserve models.CarbonReserve
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&reserve).Error; err != nil {
		return nil, err
	}
	return &reserve, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.CarbonReserve, error) {
	var reserve models.CarbonReserve
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&reserve).Error; err != nil {
		return nil, err
	}
	return &reserve, nil
}

// ListAvailable returns reserves that can still be drawn from at now, oldest
// expiry first.
func (r *repository) ListAvailable(ctx context.Context, now time.Time) ([]models.CarbonReserve, error) {
	var rows []models.CarbonReserve
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.ReserveStatusAvailable).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("expires_at ASC").
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// ListExpiredIDs returns AVAILABLE reserves whose expiry has passed.
func (r *repository) ListExpiredIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.CarbonReserve{}).
		Where("status = ?", enums.ReserveStatusAvailable).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Order("expires_at ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *repository) UpdateVersioned(ctx context.Context, reserve *models.CarbonReserve, updates map[string]any) error {
	return db.UpdateVersioned(r.db.WithContext(ctx), &models.CarbonReserve{}, reserve.ID, reserve.Version, updates)
}

func (r *repository) CreateAllocation(ctx context.Context, allocation *models.CarbonReserveAllocation) error {
	return r.db.WithContext(ctx).Create(allocation).Error
}

func (r *repository) ListAllocations(ctx context.Context, reserveID uuid.UUID) ([]models.CarbonReserveAllocation, error) {
	var rows []models.CarbonReserveAllocation
	err := r.db.WithContext(ctx).
		Where("reserve_id = ?", reserveID).
		Order("allocated_at ASC").
		Find(&rows).Error
	return rows, err
}
