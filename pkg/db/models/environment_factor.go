package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/carbon"
)

// EnvironmentFactor stores raw measurements for a farm and period together
// with the derived factors. The factors are recomputed on every save.
type EnvironmentFactor struct {
	ID                uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	FarmID            uuid.UUID        `gorm:"column:farm_id;type:uuid;not null;index"`
	PeriodStart       time.Time        `gorm:"column:period_start;not null"`
	PeriodEnd         time.Time        `gorm:"column:period_end;not null"`
	RainfallMM        *decimal.Decimal `gorm:"column:rainfall_mm;type:numeric(10,2)"`
	TemperatureC      *decimal.Decimal `gorm:"column:temperature_c;type:numeric(6,2)"`
	SoilPH            *decimal.Decimal `gorm:"column:soil_ph;type:numeric(4,2)"`
	RainfallFactor    decimal.Decimal  `gorm:"column:rainfall_factor;type:numeric(6,3);not null"`
	TemperatureFactor decimal.Decimal  `gorm:"column:temperature_factor;type:numeric(6,3);not null"`
	SoilFactor        decimal.Decimal  `gorm:"column:soil_factor;type:numeric(6,3);not null"`
	OverallFactor     decimal.Decimal  `gorm:"column:overall_factor;type:numeric(6,3);not null"`
	Source            string           `gorm:"column:source;not null;default:'manual'"`
	CreatedAt         time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (e *EnvironmentFactor) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

func (e *EnvironmentFactor) BeforeSave(tx *gorm.DB) error {
	e.Recompute()
	return nil
}

// Recompute refreshes the derived factors from the raw measurements.
func (e *EnvironmentFactor) Recompute() {
	f := carbon.ComputeFactors(e.Measurements())
	e.RainfallFactor = f.Rainfall
	e.TemperatureFactor = f.Temperature
	e.SoilFactor = f.Soil
	e.OverallFactor = f.Overall
}

func (e *EnvironmentFactor) Measurements() carbon.Measurements {
	return carbon.Measurements{
		RainfallMM:   e.RainfallMM,
		TemperatureC: e.TemperatureC,
		SoilPH:       e.SoilPH,
	}
}
