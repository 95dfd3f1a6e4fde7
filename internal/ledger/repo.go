package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
)

// Repository manages persistence for credit ledger events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.CreditLedgerEvent) error
	ListByCredit(ctx context.Context, creditID uuid.UUID) ([]models.CreditLedgerEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, event *models.CreditLedgerEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListByCredit(ctx context.Context, creditID uuid.UUID) ([]models.CreditLedgerEvent, error) {
	var events []models.CreditLedgerEvent
	if err := r.db.WithContext(ctx).
		Where("credit_id = ?", creditID).
		Order("occurred_at ASC").
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
