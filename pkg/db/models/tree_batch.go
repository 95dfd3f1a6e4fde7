package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TreeBatch is a group of trees of one species planted on a farm at the same
// date. AvailableCount never exceeds AliveCount, and AbsorbedCO2 (kg) never
// decreases.
type TreeBatch struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	FarmID            uuid.UUID       `gorm:"column:farm_id;type:uuid;not null;index"`
	SpeciesID         uuid.UUID       `gorm:"column:species_id;type:uuid;not null;index"`
	PlantedAt         time.Time       `gorm:"column:planted_at;not null"`
	PlantedCount      int64           `gorm:"column:planted_count;not null"`
	AliveCount        int64           `gorm:"column:alive_count;not null"`
	AvailableCount    int64           `gorm:"column:available_count;not null"`
	AbsorbedCO2       decimal.Decimal `gorm:"column:absorbed_co2;type:numeric(18,3);not null;default:0"`
	LastCalculatedAt  *time.Time      `gorm:"column:last_calculated_at"`
	LastHealthAlertAt *time.Time      `gorm:"column:last_health_alert_at"`
	Version           int64           `gorm:"column:version;not null;default:1"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (b *TreeBatch) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Version == 0 {
		b.Version = 1
	}
	return nil
}

// SurvivalRatio is alive over planted, or 1 for an empty batch.
func (b *TreeBatch) SurvivalRatio() decimal.Decimal {
	if b.PlantedCount <= 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(b.AliveCount).Div(decimal.NewFromInt(b.PlantedCount))
}

// PhaseTreeAssignment records trees moved from a batch into a project phase
// and the carbon credited to the phase for them.
type PhaseTreeAssignment struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	BatchID    uuid.UUID       `gorm:"column:batch_id;type:uuid;not null;index"`
	PhaseID    uuid.UUID       `gorm:"column:phase_id;type:uuid;not null;index"`
	TreeCount  int64           `gorm:"column:tree_count;not null"`
	CO2Amount  decimal.Decimal `gorm:"column:co2_amount;type:numeric(18,3);not null"`
	AssignedBy uuid.UUID       `gorm:"column:assigned_by;type:uuid;not null"`
	AssignedAt time.Time       `gorm:"column:assigned_at;not null"`
}

func (a *PhaseTreeAssignment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
