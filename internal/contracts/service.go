package contracts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/internal/notifications"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
	"github.com/angelmondragon/forestcarbon-backend/pkg/fsm"
	"github.com/angelmondragon/forestcarbon-backend/pkg/metrics"
	"github.com/angelmondragon/forestcarbon-backend/pkg/validate"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type notifier interface {
	Notify(ctx context.Context, n notifications.Notification)
}

// OwnershipCascade applies contract transitions to the contract's
// ownerships inside the caller's transaction.
type OwnershipCascade interface {
	ActivateForContract(ctx context.Context, tx *gorm.DB, contractID uuid.UUID) (int, error)
	TerminateForContract(ctx context.Context, tx *gorm.DB, contractID uuid.UUID) (int, error)
	ReassignForContract(ctx context.Context, tx *gorm.DB, contractID, fromOwnerID, toOwnerID uuid.UUID) (int, error)
}

// Service drives the contract lifecycle, renewals and counterparty transfers.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Contract, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Contract, error)
	Submit(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	Approve(ctx context.Context, id, approverID uuid.UUID) (*models.Contract, error)
	Reject(ctx context.Context, id uuid.UUID, reason string) (*models.Contract, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	Terminate(ctx context.Context, id uuid.UUID, reason string) (*models.Contract, error)
	Complete(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	CanRenew(ctx context.Context, id uuid.UUID) (bool, error)

	RequestRenewal(ctx context.Context, input RenewalInput) (*models.ContractRenewal, error)
	ApproveRenewal(ctx context.Context, renewalID, approverID uuid.UUID) (*RenewalResult, error)
	RejectRenewal(ctx context.Context, renewalID, actorID uuid.UUID, reason string) (*models.ContractRenewal, error)
	Renewals(ctx context.Context, contractID uuid.UUID) ([]models.ContractRenewal, error)

	RequestTransfer(ctx context.Context, input TransferInput) (*models.ContractTransfer, error)
	ApproveTransfer(ctx context.Context, transferID, approverID uuid.UUID) (*models.ContractTransfer, error)
	RejectTransfer(ctx context.Context, transferID, actorID uuid.UUID, reason string) (*models.ContractTransfer, error)
	CancelTransfer(ctx context.Context, transferID, actorID uuid.UUID) (*models.ContractTransfer, error)
	Transfers(ctx context.Context, contractID uuid.UUID) ([]models.ContractTransfer, error)

	SweepLifecycle(ctx context.Context) (LifecycleResult, error)
}

// Defaults fills contract terms the caller leaves out.
type Defaults struct {
	TermMonths        int
	RenewalNoticeDays int
}

// CreateInput drafts a new contract. EndDate defaults to StartDate plus
// TermMonths.
type CreateInput struct {
	ProjectID         uuid.UUID  `json:"project_id" validate:"required"`
	CounterpartyID    uuid.UUID  `json:"counterparty_id" validate:"required"`
	Title             string     `json:"title" validate:"required,max=200"`
	StartDate         time.Time  `json:"start_date" validate:"required"`
	EndDate           *time.Time `json:"end_date"`
	TermMonths        int        `json:"term_months" validate:"gte=0,lte=600"`
	AutoRenewal       bool       `json:"auto_renewal"`
	MaxRenewals       *int       `json:"max_renewals" validate:"omitempty,gte=0"`
	RenewalNoticeDays *int       `json:"renewal_notice_days" validate:"omitempty,gte=0,lte=365"`
}

type service struct {
	repo       Repository
	tx         txRunner
	ownerships OwnershipCascade
	notify     notifier
	metrics    *metrics.CarbonMetrics
	defaults   Defaults
	now        func() time.Time
}

// NewService wires the contract lifecycle.
func NewService(repo Repository, tx txRunner, ownerships OwnershipCascade, notify notifier, m *metrics.CarbonMetrics, defaults Defaults) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("contract repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ownerships == nil {
		return nil, fmt.Errorf("ownership cascade required")
	}
	if defaults.TermMonths <= 0 {
		defaults.TermMonths = 12
	}
	if defaults.RenewalNoticeDays < 0 {
		defaults.RenewalNoticeDays = 0
	}
	return &service{
		repo:       repo,
		tx:         tx,
		ownerships: ownerships,
		notify:     notify,
		metrics:    m,
		defaults:   defaults,
		now:        time.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Contract, error) {
	input.Title = strings.TrimSpace(input.Title)
	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	start := input.StartDate.UTC()
	term := input.TermMonths
	var end time.Time
	if input.EndDate != nil {
		end = input.EndDate.UTC()
		if !end.After(start) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "end_date must be after start_date")
		}
		if term == 0 {
			term = monthsBetween(start, end)
		}
	} else {
		if term == 0 {
			term = s.defaults.TermMonths
		}
		end = start.AddDate(0, term, 0)
	}
	notice := s.defaults.RenewalNoticeDays
	if input.RenewalNoticeDays != nil {
		notice = *input.RenewalNoticeDays
	}

	contract := &models.Contract{
		ProjectID:         input.ProjectID,
		CounterpartyID:    input.CounterpartyID,
		Title:             input.Title,
		StartDate:         start,
		EndDate:           end,
		TermMonths:        term,
		AutoRenewal:       input.AutoRenewal,
		MaxRenewals:       input.MaxRenewals,
		RenewalNoticeDays: notice,
		Status:            enums.ContractStatusDraft,
	}
	if err := s.repo.Create(ctx, contract); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create contract")
	}
	return contract, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	contract, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, db.MapNotFound(err, "contract")
	}
	return contract, nil
}

func (s *service) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Contract, error) {
	rows, err := s.repo.ListByProject(ctx, projectID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list project contracts")
	}
	return rows, nil
}

func (s *service) Submit(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	contract, err := s.transition(ctx, id, enums.ContractEventSubmit, func(_ *gorm.DB, c *models.Contract, updates map[string]any) error {
		now := s.now().UTC()
		c.SubmittedAt = &now
		updates["submitted_at"] = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.send(ctx, contract, enums.NotificationTypeContractSubmitted, "Contract submitted for approval", contract.Title+" is awaiting approval", nil)
	return contract, nil
}

// Approve activates the contract together with its pending ownerships.
func (s *service) Approve(ctx context.Context, id, approverID uuid.UUID) (*models.Contract, error) {
	if approverID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "approver is required")
	}
	activated := 0
	contract, err := s.transition(ctx, id, enums.ContractEventApprove, func(tx *gorm.DB, c *models.Contract, updates map[string]any) error {
		now := s.now().UTC()
		c.ApprovedBy = &approverID
		c.ApprovedAt = &now
		c.RejectionReason = nil
		updates["approved_by"] = approverID
		updates["approved_at"] = now
		updates["rejection_reason"] = nil

		var err error
		activated, err = s.ownerships.ActivateForContract(ctx, tx, c.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.send(ctx, contract, enums.NotificationTypeContractApproved, "Contract approved", contract.Title+" is now active", map[string]any{
		"approved_by":          approverID.String(),
		"ownerships_activated": activated,
	})
	return contract, nil
}

// Reject sends a pending contract back to draft with the reviewer's reason.
func (s *service) Reject(ctx context.Context, id uuid.UUID, reason string) (*models.Contract, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection reason is required")
	}
	contract, err := s.transition(ctx, id, enums.ContractEventReject, func(_ *gorm.DB, c *models.Contract, updates map[string]any) error {
		c.RejectionReason = &reason
		updates["rejection_reason"] = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.send(ctx, contract, enums.NotificationTypeContractRejected, "Contract rejected", reason, nil)
	return contract, nil
}

func (s *service) Cancel(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	return s.transition(ctx, id, enums.ContractEventCancel, nil)
}

// Terminate ends the contract early and terminates every ownership that is
// still pending or active.
func (s *service) Terminate(ctx context.Context, id uuid.UUID, reason string) (*models.Contract, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "termination reason is required")
	}
	terminated := 0
	contract, err := s.transition(ctx, id, enums.ContractEventTerminate, func(tx *gorm.DB, c *models.Contract, updates map[string]any) error {
		now := s.now().UTC()
		c.TerminationReason = &reason
		c.TerminatedAt = &now
		updates["termination_reason"] = reason
		updates["terminated_at"] = now

		var err error
		terminated, err = s.ownerships.TerminateForContract(ctx, tx, c.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.send(ctx, contract, enums.NotificationTypeContractTerminated, "Contract terminated", reason, map[string]any{
		"ownerships_terminated": terminated,
	})
	return contract, nil
}

func (s *service) Complete(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	return s.transition(ctx, id, enums.ContractEventComplete, nil)
}

func (s *service) CanRenew(ctx context.Context, id uuid.UUID) (bool, error) {
	contract, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return contract.CanRenew(), nil
}

// transition locks the contract, resolves event through the contract machine
// and writes the new status together with whatever apply adds to updates.
func (s *service) transition(ctx context.Context, id uuid.UUID, event fsm.Event, apply func(tx *gorm.DB, c *models.Contract, updates map[string]any) error) (*models.Contract, error) {
	var updated *models.Contract
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		contract, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return db.MapNotFound(err, "contract")
		}
		next, err := enums.ContractMachine.Next(contract.Status, event)
		if err != nil {
			return err
		}

		updates := map[string]any{"status": next}
		if apply != nil {
			if err := apply(tx, contract, updates); err != nil {
				return err
			}
		}
		if err := repo.UpdateVersioned(ctx, contract, updates); err != nil {
			return err
		}
		contract.Status = next
		contract.Version++
		updated = contract
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncTransition("contract", updated.Status.String())
	return updated, nil
}

func (s *service) send(ctx context.Context, c *models.Contract, typ enums.NotificationType, title, message string, data map[string]any) {
	if s.notify == nil {
		return
	}
	payload := map[string]any{
		"project_id": c.ProjectID.String(),
		"status":     c.Status.String(),
		"end_date":   c.EndDate.Format(time.RFC3339),
	}
	for k, v := range data {
		payload[k] = v
	}
	recipient := c.CounterpartyID
	s.notify.Notify(ctx, notifications.Notification{
		Type:        typ,
		EntityType:  "contract",
		EntityID:    c.ID,
		RecipientID: &recipient,
		Title:       title,
		Message:     message,
		Data:        payload,
	})
}

// monthsBetween counts whole calendar months from start to end, at least one.
func monthsBetween(start, end time.Time) int {
	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	if end.Day() < start.Day() {
		months--
	}
	if months < 1 {
		return 1
	}
	return months
}
