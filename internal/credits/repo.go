package credits

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
	"github.com/angelmondragon/forestcarbon-backend/pkg/pagination"
)

// Repository defines persistence operations for credits and their allocations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, credit *models.CarbonCredit) (*models.CarbonCredit, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.CarbonCredit, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.CarbonCredit, error)
	ListAvailable(ctx context.Context, now time.Time, cursor *pagination.Cursor, limit int) ([]models.CarbonCredit, error)
	ListExpiredIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	UpdateVersioned(ctx context.Context, credit *models.CarbonCredit, updates map[string]any) error

	CreateAllocation(ctx context.Context, allocation *models.CreditAllocation) error
	FindAllocation(ctx context.Context, id uuid.UUID) (*models.CreditAllocation, error)
	FindAllocationForUpdate(ctx context.Context, id uuid.UUID) (*models.CreditAllocation, error)
	ListAllocations(ctx context.Context, creditID uuid.UUID) ([]models.CreditAllocation, error)
	ListAllocationsByOwnership(ctx context.Context, ownershipID uuid.UUID, status *enums.AllocationStatus) ([]models.CreditAllocation, error)
	SumAllocated(ctx context.Context, creditID uuid.UUID) (int64, error)
	SumOutstanding(ctx context.Context, creditID uuid.UUID) (int64, error)
	AllocationExists(ctx context.Context, creditID, ownershipID uuid.UUID) (bool, error)
	UpdateAllocationVersioned(ctx context.Context, allocation *models.CreditAllocation, updates map[string]any) error

	FindOwnership(ctx context.Context, id uuid.UUID) (*models.Ownership, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a credit repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, credit *models.CarbonCredit) (*models.CarbonCredit, error) {
	if err := r.db.WithContext(ctx).Create(credit).Error; err != nil {
		return nil, err
	}
	return credit, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CarbonCredit, error) {
	var credit models.CarbonCredit
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&credit).Error; err != nil {
		return nil, err
	}
	return &credit, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.CarbonCredit, error) {
	var credit models.CarbonCredit
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&credit).Error; err != nil {
		return nil, err
	}
	return &credit, nil
}

// ListAvailable returns sellable credits: AVAILABLE, with a positive balance
// and not past their expiry.
func (r *repository) ListAvailable(ctx context.Context, now time.Time, cursor *pagination.Cursor, limit int) ([]models.CarbonCredit, error) {
	var rows []models.CarbonCredit
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.CreditStatusAvailable).
		Where("credits_available > 0").
		Where("expires_at IS NULL OR expires_at > ?", now).
		Scopes(pagination.Scope(cursor, limit)).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListExpiredIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.CarbonCredit{}).
		Where("status IN ?", []enums.CreditStatus{enums.CreditStatusAvailable, enums.CreditStatusSoldOut}).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Order("expires_at ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *repository) UpdateVersioned(ctx context.Context, credit *models.CarbonCredit, updates map[string]any) error {
	return db.UpdateVersioned(r.db.WithContext(ctx), &models.CarbonCredit{}, credit.ID, credit.Version, updates)
}

func (r *repository) CreateAllocation(ctx context.Context, allocation *models.CreditAllocation) error {
	return r.db.WithContext(ctx).Create(allocation).Error
}

func (r *repository) FindAllocation(ctx context.Context, id uuid.UUID) (*models.CreditAllocation, error) {
	var allocation models.CreditAllocation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&allocation).Error; err != nil {
		return nil, err
	}
	return &allocation, nil
}

func (r *repository) FindAllocationForUpdate(ctx context.Context, id uuid.UUID) (*models.CreditAllocation, error) {
	var allocation models.CreditAllocation
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&allocation).Error; err != nil {
		return nil, err
	}
	return &allocation, nil
}

func (r *repository) ListAllocations(ctx context.Context, creditID uuid.UUID) ([]models.CreditAllocation, error) {
	var rows []models.CreditAllocation
	err := r.db.WithContext(ctx).
		Where("credit_id = ?", creditID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListAllocationsByOwnership(ctx context.Context, ownershipID uuid.UUID, status *enums.AllocationStatus) ([]models.CreditAllocation, error) {
	query := r.db.WithContext(ctx).Where("ownership_id = ?", ownershipID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	var rows []models.CreditAllocation
	err := db.ForUpdate(query).Order("created_at ASC").Find(&rows).Error
	return rows, err
}

func (r *repository) SumAllocated(ctx context.Context, creditID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.CreditAllocation{}).
		Where("credit_id = ?", creditID).
		Select("COALESCE(SUM(allocated_credits), 0)").
		Scan(&total).Error
	return total, err
}

// SumOutstanding totals allocations that still hold units back from the
// available balance.
func (r *repository) SumOutstanding(ctx context.Context, creditID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.CreditAllocation{}).
		Where("credit_id = ? AND status IN ?", creditID, []enums.AllocationStatus{
			enums.AllocationStatusAllocated,
			enums.AllocationStatusClaimed,
		}).
		Select("COALESCE(SUM(allocated_credits), 0)").
		Scan(&total).Error
	return total, err
}

func (r *repository) AllocationExists(ctx context.Context, creditID, ownershipID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.CreditAllocation{}).
		Where("credit_id = ? AND ownership_id = ?", creditID, ownershipID).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) UpdateAllocationVersioned(ctx context.Context, allocation *models.CreditAllocation, updates map[string]any) error {
	return db.UpdateVersioned(r.db.WithContext(ctx), &models.CreditAllocation{}, allocation.ID, allocation.Version, updates)
}

func (r *repository) FindOwnership(ctx context.Context, id uuid.UUID) (*models.Ownership, error) {
	var ownership models.Ownership
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&ownership).Error; err != nil {
		return nil, err
	}
	return &ownership, nil
}
