package transactions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
	"github.com/angelmondragon/forestcarbon-backend/pkg/pagination"
	"github.com/angelmondragon/forestcarbon-backend/pkg/validate"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CreditLedger moves credit balances inside the caller's transaction.
type CreditLedger interface {
	SellTx(ctx context.Context, tx *gorm.DB, creditID uuid.UUID, quantity int64) (*models.CarbonCredit, error)
	RetireSoldTx(ctx context.Context, tx *gorm.DB, creditID uuid.UUID, quantity int64) (*models.CarbonCredit, error)
}

// Service records credit purchases and their retirement.
type Service interface {
	Purchase(ctx context.Context, input PurchaseInput) (*models.CreditTransaction, error)
	Retire(ctx context.Context, transactionID uuid.UUID, reason string) (*models.CreditTransaction, error)
	Get(ctx context.Context, id uuid.UUID) (*models.CreditTransaction, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (*pagination.Page[models.CreditTransaction], error)
	ListByCredit(ctx context.Context, creditID uuid.UUID) ([]models.CreditTransaction, error)
}

// PurchaseInput buys quantity credits at unit price.
type PurchaseInput struct {
	CreditID  uuid.UUID       `json:"credit_id" validate:"required"`
	BuyerID   uuid.UUID       `json:"buyer_id" validate:"required"`
	Quantity  int64           `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
}

type service struct {
	repo    Repository
	tx      txRunner
	credits CreditLedger
	now     func() time.Time
}

// NewService wires the transaction ledger.
func NewService(repo Repository, tx txRunner, credits CreditLedger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("transaction repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if credits == nil {
		return nil, fmt.Errorf("credit ledger required")
	}
	return &service{repo: repo, tx: tx, credits: credits, now: time.Now}, nil
}

// Purchase sells the credits and records the transaction atomically.
func (s *service) Purchase(ctx context.Context, input PurchaseInput) (*models.CreditTransaction, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	var created *models.CreditTransaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.credits.SellTx(ctx, tx, input.CreditID, input.Quantity); err != nil {
			return err
		}
		created = &models.CreditTransaction{
			CreditID:    input.CreditID,
			BuyerID:     input.BuyerID,
			Quantity:    input.Quantity,
			UnitPrice:   input.UnitPrice,
			Status:      enums.TransactionStatusPurchased,
			PurchasedAt: s.now().UTC(),
		}
		if err := s.repo.WithTx(tx).Create(ctx, created); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record credit transaction")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Retire retires purchased credits, converting the sold units on the credit
// into retired ones.
func (s *service) Retire(ctx context.Context, transactionID uuid.UUID, reason string) (*models.CreditTransaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "retirement reason is required")
	}

	var updated *models.CreditTransaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		txn, err := repo.FindByIDForUpdate(ctx, transactionID)
		if err != nil {
			return db.MapNotFound(err, "credit transaction")
		}
		next, err := enums.TransactionMachine.Next(txn.Status, enums.TransactionEventRetire)
		if err != nil {
			return err
		}
		if _, err := s.credits.RetireSoldTx(ctx, tx, txn.CreditID, txn.Quantity); err != nil {
			return err
		}

		now := s.now().UTC()
		txn.Status = next
		txn.RetirementReason = &reason
		txn.RetiredAt = &now
		if err := repo.Save(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "retire credit transaction")
		}
		updated = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.CreditTransaction, error) {
	txn, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, db.MapNotFound(err, "credit transaction")
	}
	return txn, nil
}

func (s *service) ListByBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (*pagination.Page[models.CreditTransaction], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByBuyer(ctx, buyerID, cursor, params.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list buyer transactions")
	}
	page := pagination.Build(rows, params.Limit, func(t models.CreditTransaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
	})
	return &page, nil
}

func (s *service) ListByCredit(ctx context.Context, creditID uuid.UUID) ([]models.CreditTransaction, error) {
	rows, err := s.repo.ListByCredit(ctx, creditID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list credit transactions")
	}
	return rows, nil
}
