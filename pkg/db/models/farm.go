package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Farm is a planting site. Coordinates are filled by geocoding when absent.
type Farm struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Name         string          `gorm:"column:name;not null"`
	Address      string          `gorm:"column:address;not null"`
	Latitude     *float64        `gorm:"column:latitude"`
	Longitude    *float64        `gorm:"column:longitude"`
	AreaHectares decimal.Decimal `gorm:"column:area_hectares;type:numeric(12,2);not null;default:0"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (f *Farm) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

// HasCoordinates reports whether the farm has been geocoded.
func (f *Farm) HasCoordinates() bool {
	return f.Latitude != nil && f.Longitude != nil
}
