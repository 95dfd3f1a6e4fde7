package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
)

// Contract governs the relationship between a project and a counterparty.
type Contract struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	ProjectID         uuid.UUID            `gorm:"column:project_id;type:uuid;not null;index"`
	CounterpartyID    uuid.UUID            `gorm:"column:counterparty_id;type:uuid;not null;index"`
	Title             string               `gorm:"column:title;not null"`
	StartDate         time.Time            `gorm:"column:start_date;not null"`
	EndDate           time.Time            `gorm:"column:end_date;not null"`
	TermMonths        int                  `gorm:"column:term_months;not null"`
	AutoRenewal       bool                 `gorm:"column:auto_renewal;not null;default:false"`
	MaxRenewals       *int                 `gorm:"column:max_renewals"`
	RenewalCount      int                  `gorm:"column:renewal_count;not null;default:0"`
	RenewalNoticeDays int                  `gorm:"column:renewal_notice_days;not null;default:30"`
	Status            enums.ContractStatus `gorm:"column:status;type:varchar(20);not null;default:'DRAFT'"`
	ParentContractID  *uuid.UUID           `gorm:"column:parent_contract_id;type:uuid"`
	SubmittedAt       *time.Time           `gorm:"column:submitted_at"`
	ApprovedBy        *uuid.UUID           `gorm:"column:approved_by;type:uuid"`
	ApprovedAt        *time.Time           `gorm:"column:approved_at"`
	RejectionReason   *string              `gorm:"column:rejection_reason"`
	TerminationReason *string              `gorm:"column:termination_reason"`
	TerminatedAt      *time.Time           `gorm:"column:terminated_at"`
	Version           int64                `gorm:"column:version;not null;default:1"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Contract) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Version == 0 {
		c.Version = 1
	}
	return nil
}

// CanRenew reports whether automatic renewal is allowed for the contract.
func (c *Contract) CanRenew() bool {
	if !c.AutoRenewal {
		return false
	}
	return c.MaxRenewals == nil || c.RenewalCount < *c.MaxRenewals
}

// InNoticeWindow reports whether now falls within RenewalNoticeDays of EndDate.
func (c *Contract) InNoticeWindow(now time.Time) bool {
	noticeStart := c.EndDate.AddDate(0, 0, -c.RenewalNoticeDays)
	return !now.Before(noticeStart) && now.Before(c.EndDate)
}

func (c *Contract) IsPastEnd(now time.Time) bool {
	return !now.Before(c.EndDate)
}

// ContractRenewal is a request to extend a contract with a new term.
type ContractRenewal struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	ContractID        uuid.UUID           `gorm:"column:contract_id;type:uuid;not null;index"`
	RequestedBy       uuid.UUID           `gorm:"column:requested_by;type:uuid;not null"`
	NewEndDate        time.Time           `gorm:"column:new_end_date;not null"`
	Status            enums.RenewalStatus `gorm:"column:status;type:varchar(20);not null;default:'PENDING'"`
	Automatic         bool                `gorm:"column:automatic;not null;default:false"`
	DecidedBy         *uuid.UUID          `gorm:"column:decided_by;type:uuid"`
	DecidedAt         *time.Time          `gorm:"column:decided_at"`
	Reason            *string             `gorm:"column:reason"`
	RenewedContractID *uuid.UUID          `gorm:"column:renewed_contract_id;type:uuid"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *ContractRenewal) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// ContractTransfer moves a contract from one counterparty to another.
type ContractTransfer struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	ContractID  uuid.UUID            `gorm:"column:contract_id;type:uuid;not null;index"`
	FromPartyID uuid.UUID            `gorm:"column:from_party_id;type:uuid;not null"`
	ToPartyID   uuid.UUID            `gorm:"column:to_party_id;type:uuid;not null"`
	Status      enums.TransferStatus `gorm:"column:status;type:varchar(20);not null;default:'PENDING'"`
	RequestedBy uuid.UUID            `gorm:"column:requested_by;type:uuid;not null"`
	DecidedBy   *uuid.UUID           `gorm:"column:decided_by;type:uuid"`
	DecidedAt   *time.Time           `gorm:"column:decided_at"`
	Reason      *string              `gorm:"column:reason"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *ContractTransfer) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
