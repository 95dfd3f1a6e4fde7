package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
)

// CarbonCredit is the issuance for one project and report year.
// CreditsSold + CreditsRetired + CreditsAvailable == CreditsIssued.
type CarbonCredit struct {
	ID               uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	ProjectID        uuid.UUID          `gorm:"column:project_id;type:uuid;not null;uniqueIndex:idx_carbon_credits_project_year"`
	ReportYear       int                `gorm:"column:report_year;not null;uniqueIndex:idx_carbon_credits_project_year"`
	Standard         string             `gorm:"column:standard;not null"`
	VerifiedTons     decimal.Decimal    `gorm:"column:verified_tons;type:numeric(18,3);not null"`
	CreditsIssued    int64              `gorm:"column:credits_issued;not null"`
	CreditsAvailable int64              `gorm:"column:credits_available;not null"`
	CreditsSold      int64              `gorm:"column:credits_sold;not null;default:0"`
	CreditsRetired   int64              `gorm:"column:credits_retired;not null;default:0"`
	Status           enums.CreditStatus `gorm:"column:status;type:varchar(20);not null;default:'AVAILABLE'"`
	IssuedAt         time.Time          `gorm:"column:issued_at;not null"`
	ExpiresAt        *time.Time         `gorm:"column:expires_at"`
	Version          int64              `gorm:"column:version;not null;default:1"`
	CreatedAt        time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *CarbonCredit) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Version == 0 {
		c.Version = 1
	}
	return nil
}

// IsExpired reports whether the credit has lapsed at now.
func (c *CarbonCredit) IsExpired(now time.Time) bool {
	if c.Status == enums.CreditStatusExpired {
		return true
	}
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// Balanced reports whether the conservation identity holds.
func (c *CarbonCredit) Balanced() bool {
	return c.CreditsSold+c.CreditsRetired+c.CreditsAvailable == c.CreditsIssued &&
		c.CreditsAvailable >= 0 && c.CreditsSold >= 0 && c.CreditsRetired >= 0
}

// CreditAllocation assigns part of a credit's issued units to one ownership.
type CreditAllocation struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	CreditID         uuid.UUID              `gorm:"column:credit_id;type:uuid;not null;index"`
	OwnershipID      uuid.UUID              `gorm:"column:ownership_id;type:uuid;not null;index"`
	OwnerID          uuid.UUID              `gorm:"column:owner_id;type:uuid;not null"`
	Percentage       decimal.Decimal        `gorm:"column:percentage;type:numeric(5,2);not null"`
	AllocatedCredits int64                  `gorm:"column:allocated_credits;not null"`
	Status           enums.AllocationStatus `gorm:"column:status;type:varchar(20);not null;default:'ALLOCATED'"`
	ClaimedAt        *time.Time             `gorm:"column:claimed_at"`
	SoldAt           *time.Time             `gorm:"column:sold_at"`
	RetiredAt        *time.Time             `gorm:"column:retired_at"`
	Version          int64                  `gorm:"column:version;not null;default:1"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *CreditAllocation) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Version == 0 {
		a.Version = 1
	}
	return nil
}
