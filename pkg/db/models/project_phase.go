package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProjectPhase is a budgeted stage of a project. ActualCO2 is always
// DirectCO2 + ReserveCO2 (kg).
type ProjectPhase struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ProjectID  uuid.UUID       `gorm:"column:project_id;type:uuid;not null;index"`
	Name       string          `gorm:"column:name;not null"`
	StartDate  time.Time       `gorm:"column:start_date;not null"`
	EndDate    *time.Time      `gorm:"column:end_date"`
	TargetCO2  decimal.Decimal `gorm:"column:target_co2;type:numeric(18,3);not null"`
	DirectCO2  decimal.Decimal `gorm:"column:direct_co2;type:numeric(18,3);not null;default:0"`
	ReserveCO2 decimal.Decimal `gorm:"column:reserve_co2;type:numeric(18,3);not null;default:0"`
	ActualCO2  decimal.Decimal `gorm:"column:actual_co2;type:numeric(18,3);not null;default:0"`
	Version    int64           `gorm:"column:version;not null;default:1"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *ProjectPhase) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	p.ActualCO2 = p.DirectCO2.Add(p.ReserveCO2)
	return nil
}

func (p *ProjectPhase) Surplus() decimal.Decimal {
	diff := p.DirectCO2.Add(p.ReserveCO2).Sub(p.TargetCO2)
	if diff.IsPositive() {
		return diff
	}
	return decimal.Zero
}

func (p *ProjectPhase) Deficit() decimal.Decimal {
	diff := p.TargetCO2.Sub(p.DirectCO2.Add(p.ReserveCO2))
	if diff.IsPositive() {
		return diff
	}
	return decimal.Zero
}
