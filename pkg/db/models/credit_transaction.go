package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
)

// CreditTransaction is a purchase of credits by a buyer. TotalAmount is
// derived from UnitPrice and Quantity on every save.
type CreditTransaction struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	CreditID         uuid.UUID               `gorm:"column:credit_id;type:uuid;not null;index"`
	BuyerID          uuid.UUID               `gorm:"column:buyer_id;type:uuid;not null;index"`
	Quantity         int64                   `gorm:"column:quantity;not null"`
	UnitPrice        decimal.Decimal         `gorm:"column:unit_price;type:numeric(18,2);not null"`
	TotalAmount      decimal.Decimal         `gorm:"column:total_amount;type:numeric(20,2);not null"`
	Status           enums.TransactionStatus `gorm:"column:status;type:varchar(20);not null;default:'PURCHASED'"`
	RetirementReason *string                 `gorm:"column:retirement_reason"`
	PurchasedAt      time.Time               `gorm:"column:purchased_at;not null"`
	RetiredAt        *time.Time              `gorm:"column:retired_at"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

func (t *CreditTransaction) BeforeSave(tx *gorm.DB) error {
	t.TotalAmount = t.UnitPrice.Mul(decimal.NewFromInt(t.Quantity))
	return nil
}
