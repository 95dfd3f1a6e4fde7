package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
)

// Ownership is a time-bounded right to a percentage of a contract's credits.
type Ownership struct {
	ID         uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	ContractID uuid.UUID             `gorm:"column:contract_id;type:uuid;not null;index"`
	OwnerID    uuid.UUID             `gorm:"column:owner_id;type:uuid;not null;index"`
	StartDate  time.Time             `gorm:"column:start_date;not null"`
	EndDate    time.Time             `gorm:"column:end_date;not null"`
	Percentage decimal.Decimal       `gorm:"column:percentage;type:numeric(5,2);not null"`
	Status     enums.OwnershipStatus `gorm:"column:status;type:varchar(20);not null;default:'PENDING'"`
	Version    int64                 `gorm:"column:version;not null;default:1"`
	CreatedAt  time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Ownership) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Version == 0 {
		o.Version = 1
	}
	return nil
}

// IsActive requires ACTIVE status and now before EndDate.
func (o *Ownership) IsActive(now time.Time) bool {
	return o.Status == enums.OwnershipStatusActive && now.Before(o.EndDate)
}

// OwnershipTransfer moves some or all of an ownership's percentage to a new owner.
type OwnershipTransfer struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OwnershipID       uuid.UUID            `gorm:"column:ownership_id;type:uuid;not null;index"`
	FromOwnerID       uuid.UUID            `gorm:"column:from_owner_id;type:uuid;not null"`
	ToOwnerID         uuid.UUID            `gorm:"column:to_owner_id;type:uuid;not null"`
	Percentage        decimal.Decimal      `gorm:"column:percentage;type:numeric(5,2);not null"`
	Status            enums.TransferStatus `gorm:"column:status;type:varchar(20);not null;default:'PENDING'"`
	RequestedBy       uuid.UUID            `gorm:"column:requested_by;type:uuid;not null"`
	DecidedBy         *uuid.UUID           `gorm:"column:decided_by;type:uuid"`
	DecidedAt         *time.Time           `gorm:"column:decided_at"`
	Reason            *string              `gorm:"column:reason"`
	ResultOwnershipID *uuid.UUID           `gorm:"column:result_ownership_id;type:uuid"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *OwnershipTransfer) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
