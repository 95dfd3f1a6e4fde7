package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
)

// CreditLedgerEvent is an append-only record of one balance movement on a
// carbon credit, with the balances the credit held right after it.
type CreditLedgerEvent struct {
	ID             uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	CreditID       uuid.UUID                   `gorm:"column:credit_id;type:uuid;not null;index"`
	Type           enums.CreditLedgerEventType `gorm:"column:type;type:varchar(20);not null"`
	Quantity       int64                       `gorm:"column:quantity;not null"`
	AvailableAfter int64                       `gorm:"column:available_after;not null"`
	SoldAfter      int64                       `gorm:"column:sold_after;not null"`
	RetiredAfter   int64                       `gorm:"column:retired_after;not null"`
	OccurredAt     time.Time                   `gorm:"column:occurred_at;not null"`
	CreatedAt      time.Time                   `gorm:"column:created_at;autoCreateTime"`
}

func (e *CreditLedgerEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
