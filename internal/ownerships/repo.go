package ownerships

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
)

// Repository defines persistence operations for ownerships and their
// transfers.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, ownership *models.Ownership) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Ownership, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Ownership, error)
	ListByContract(ctx context.Context, contractID uuid.UUID) ([]models.Ownership, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Ownership, error)
	LockByContract(ctx context.Context, contractID uuid.UUID, statuses []enums.OwnershipStatus, ownerID *uuid.UUID) ([]models.Ownership, error)
	SumPercentage(ctx context.Context, contractID uuid.UUID, statuses []enums.OwnershipStatus) (decimal.Decimal, error)
	ListExpiredIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	UpdateVersioned(ctx context.Context, ownership *models.Ownership, updates map[string]any) error
	FindContract(ctx context.Context, contractID uuid.UUID) (*models.Contract, error)

	CreateTransfer(ctx context.Context, transfer *models.OwnershipTransfer) error
	FindTransferForUpdate(ctx context.Context, id uuid.UUID) (*models.OwnershipTransfer, error)
	ListTransfers(ctx context.Context, ownershipID uuid.UUID) ([]models.OwnershipTransfer, error)
	HasPendingTransfer(ctx context.Context, ownershipID uuid.UUID) (bool, error)
	UpdateTransfer(ctx context.Context, id uuid.UUID, updates map[string]any) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an ownership repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, ownership *models.Ownership) error {
	return r.db.WithContext(ctx).Create(ownership).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Ownership, error) {
	var ownership models.Ownership
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&ownership).Error; err != nil {
		return nil, err
	}
	return &ownership, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Ownership, error) {
	var ownership models.Ownership
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&ownership).Error; err != nil {
		return nil, err
	}
	return &ownership, nil
}

func (r *repository) ListByContract(ctx context.Context, contractID uuid.UUID) ([]models.Ownership, error) {
	var rows []models.Ownership
	err := r.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Ownership, error) {
	var rows []models.Ownership
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("end_date ASC").
		Find(&rows).Error
	return rows, err
}

// LockByContract row-locks the contract's ownerships in the given statuses,
// optionally narrowed to one owner.
func (r *repository) LockByContract(ctx context.Context, contractID uuid.UUID, statuses []enums.OwnershipStatus, ownerID *uuid.UUID) ([]models.Ownership, error) {
	q := db.ForUpdate(r.db.WithContext(ctx)).
		Where("contract_id = ?", contractID).
		Where("status IN ?", statuses)
	if ownerID != nil {
		q = q.Where("owner_id = ?", *ownerID)
	}
	var rows []models.Ownership
	err := q.Order("created_at ASC").Find(&rows).Error
	return rows, err
}

func (r *repository) SumPercentage(ctx context.Context, contractID uuid.UUID, statuses []enums.OwnershipStatus) (decimal.Decimal, error) {
	var rows []models.Ownership
	if err := r.db.WithContext(ctx).
		Select("percentage").
		Where("contract_id = ?", contractID).
		Where("status IN ?", statuses).
		Find(&rows).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.Percentage)
	}
	return total, nil
}

func (r *repository) ListExpiredIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Ownership{}).
		Where("status = ?", enums.OwnershipStatusActive).
		Where("end_date <= ?", now).
		Order("end_date ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *repository) UpdateVersioned(ctx context.Context, ownership *models.Ownership, updates map[string]any) error {
	return db.UpdateVersioned(r.db.WithContext(ctx), &models.Ownership{}, ownership.ID, ownership.Version, updates)
}

func (r *repository) FindContract(ctx context.Context, contractID uuid.UUID) (*models.Contract, error) {
	var contract models.Contract
	if err := r.db.WithContext(ctx).Where("id = ?", contractID).First(&contract).Error; err != nil {
		return nil, err
	}
	return &contract, nil
}

func (r *repository) CreateTransfer(ctx context.Context, transfer *models.OwnershipTransfer) error {
	return r.db.WithContext(ctx).Create(transfer).Error
}

func (r *repository) FindTransferForUpdate(ctx context.Context, id uuid.UUID) (*models.OwnershipTransfer, error) {
	var transfer models.OwnershipTransfer
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&transfer).Error; err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (r *repository) ListTransfers(ctx context.Context, ownershipID uuid.UUID) ([]models.OwnershipTransfer, error) {
	var rows []models.OwnershipTransfer
	err := r.db.WithContext(ctx).
		Where("ownership_id = ?", ownershipID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) HasPendingTransfer(ctx context.Context, ownershipID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OwnershipTransfer{}).
		Where("ownership_id = ? AND status = ?", ownershipID, enums.TransferStatusPending).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) UpdateTransfer(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).Model(&models.OwnershipTransfer{}).Where("id = ?", id).Updates(updates).Error
}
