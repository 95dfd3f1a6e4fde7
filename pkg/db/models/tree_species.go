package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TreeSpecies carries the base absorption rate in kg CO2 per tree per year.
type TreeSpecies struct {
	ID                 uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Name               string          `gorm:"column:name;not null;uniqueIndex:idx_tree_species_name"`
	ScientificName     string          `gorm:"column:scientific_name"`
	BaseAbsorptionRate decimal.Decimal `gorm:"column:base_absorption_rate;type:numeric(12,4);not null"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (TreeSpecies) TableName() string {
	return "tree_species"
}

func (s *TreeSpecies) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
