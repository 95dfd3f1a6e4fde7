package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
)

// CarbonReserve pools surplus carbon (kg). Amount is fixed at creation and
// RemainingAmount only decreases.
type CarbonReserve struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	SourcePhaseID   *uuid.UUID          `gorm:"column:source_phase_id;type:uuid"`
	Amount          decimal.Decimal     `gorm:"column:amount;type:numeric(18,3);not null"`
	RemainingAmount decimal.Decimal     `gorm:"column:remaining_amount;type:numeric(18,3);not null"`
	Status          enums.ReserveStatus `gorm:"column:status;type:varchar(20);not null;default:'AVAILABLE'"`
	ExpiresAt       *time.Time          `gorm:"column:expires_at"`
	Notes           string              `gorm:"column:notes"`
	Version         int64               `gorm:"column:version;not null;default:1"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *CarbonReserve) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Version == 0 {
		r.Version = 1
	}
	return nil
}

// IsExpired reports whether the reserve can no longer be drawn from at now.
func (r *CarbonReserve) IsExpired(now time.Time) bool {
	if r.Status == enums.ReserveStatusExpired {
		return true
	}
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// CarbonReserveAllocation is the immutable record of one grant from a reserve.
type CarbonReserveAllocation struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ReserveID       uuid.UUID       `gorm:"column:reserve_id;type:uuid;not null;index"`
	PhaseID         uuid.UUID       `gorm:"column:phase_id;type:uuid;not null;index"`
	RequestedAmount decimal.Decimal `gorm:"column:requested_amount;type:numeric(18,3);not null"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(18,3);not null"`
	AllocatedBy     uuid.UUID       `gorm:"column:allocated_by;type:uuid;not null"`
	AllocatedAt     time.Time       `gorm:"column:allocated_at;not null"`
}

func (a *CarbonReserveAllocation) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
