package transactions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	"github.com/angelmondragon/forestcarbon-backend/pkg/pagination"
)

// Repository defines persistence operations for credit transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.CreditTransaction) error
	Save(ctx context.Context, txn *models.CreditTransaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.CreditTransaction, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.CreditTransaction, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.CreditTransaction, error)
	ListByCredit(ctx context.Context, creditID uuid.UUID) ([]models.CreditTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a transaction ledger repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.CreditTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

// Save writes every column so the total is recomputed by the model hook.
func (r *repository) Save(ctx context.Context, txn *models.CreditTransaction) error {
	return r.db.WithContext(ctx).Save(txn).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CreditTransaction, error) {
	var txn models.CreditTransaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.CreditTransaction, error) {
	var txn models.CreditTransaction
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) ListByBuyer(ctx context.Context, buyerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.CreditTransaction, error) {
	var rows []models.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Scopes(pagination.Scope(cursor, limit)).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListByCredit(ctx context.Context, creditID uuid.UUID) ([]models.CreditTransaction, error) {
	var rows []models.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("credit_id = ?", creditID).
		Order("purchased_at ASC").
		Find(&rows).Error
	return rows, err
}
