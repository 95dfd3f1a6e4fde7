package contracts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
)

// Repository defines persistence operations for contracts, their renewals
// and counterparty transfers.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, contract *models.Contract) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Contract, error)
	ListRunningIDs(ctx context.Context) ([]uuid.UUID, error)
	UpdateVersioned(ctx context.Context, contract *models.Contract, updates map[string]any) error

	CreateRenewal(ctx context.Context, renewal *models.ContractRenewal) error
	FindRenewalForUpdate(ctx context.Context, id uuid.UUID) (*models.ContractRenewal, error)
	ListRenewals(ctx context.Context, contractID uuid.UUID) ([]models.ContractRenewal, error)
	HasPendingRenewal(ctx context.Context, contractID uuid.UUID) (bool, error)
	UpdateRenewal(ctx context.Context, id uuid.UUID, updates map[string]any) error
	RejectPendingRenewals(ctx context.Context, contractID uuid.UUID, reason string, at time.Time) (int64, error)

	CreateTransfer(ctx context.Context, transfer *models.ContractTransfer) error
	FindTransferForUpdate(ctx context.Context, id uuid.UUID) (*models.ContractTransfer, error)
	ListTransfers(ctx context.Context, contractID uuid.UUID) ([]models.ContractTransfer, error)
	HasPendingTransfer(ctx context.Context, contractID uuid.UUID) (bool, error)
	UpdateTransfer(ctx context.Context, id uuid.UUID, updates map[string]any) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a contract repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, contract *models.Contract) error {
	return r.db.WithContext(ctx).Create(contract).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	var contract models.Contract
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&contract).Error; err != nil {
		return nil, err
	}
	return &contract, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	var contract models.Contract
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&contract).Error; err != nil {
		return nil, err
	}
	return &contract, nil
}

func (r *repository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Contract, error) {
	var rows []models.Contract
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("start_date ASC").
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// ListRunningIDs returns ACTIVE and EXPIRING_SOON contracts, soonest end
// date first.
func (r *repository) ListRunningIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Contract{}).
		Where("status IN ?", []enums.ContractStatus{enums.ContractStatusActive, enums.ContractStatusExpiringSoon}).
		Order("end_date ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *repository) UpdateVersioned(ctx context.Context, contract *models.Contract, updates map[string]any) error {
	return db.UpdateVersioned(r.db.WithContext(ctx), &models.Contract{}, contract.ID, contract.Version, updates)
}

func (r *repository) CreateRenewal(ctx context.Context, renewal *models.ContractRenewal) error {
	return r.db.WithContext(ctx).Create(renewal).Error
}

func (r *repository) FindRenewalForUpdate(ctx context.Context, id uuid.UUID) (*models.ContractRenewal, error) {
	var renewal models.ContractRenewal
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&renewal).Error; err != nil {
		return nil, err
	}
	return &renewal, nil
}

func (r *repository) ListRenewals(ctx context.Context, contractID uuid.UUID) ([]models.ContractRenewal, error) {
	var rows []models.ContractRenewal
	err := r.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) HasPendingRenewal(ctx context.Context, contractID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ContractRenewal{}).
		Where("contract_id = ? AND status = ?", contractID, enums.RenewalStatusPending).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) UpdateRenewal(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).Model(&models.ContractRenewal{}).Where("id = ?", id).Updates(updates).Error
}

// RejectPendingRenewals closes every PENDING renewal of the contract without
// an approver.
func (r *repository) RejectPendingRenewals(ctx context.Context, contractID uuid.UUID, reason string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ContractRenewal{}).
		Where("contract_id = ? AND status = ?", contractID, enums.RenewalStatusPending).
		Updates(map[string]any{
			"status":     enums.RenewalStatusRejected,
			"decided_at": at,
			"reason":     reason,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) CreateTransfer(ctx context.Context, transfer *models.ContractTransfer) error {
	return r.db.WithContext(ctx).Create(transfer).Error
}

func (r *repository) FindTransferForUpdate(ctx context.Context, id uuid.UUID) (*models.ContractTransfer, error) {
	var transfer models.ContractTransfer
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&transfer).Error; err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (r *repository) ListTransfers(ctx context.Context, contractID uuid.UUID) ([]models.ContractTransfer, error) {
	var rows []models.ContractTransfer
	err := r.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) HasPendingTransfer(ctx context.Context, contractID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ContractTransfer{}).
		Where("contract_id = ? AND status = ?", contractID, enums.TransferStatusPending).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) UpdateTransfer(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).Model(&models.ContractTransfer{}).Where("id = ?", id).Updates(updates).Error
}
