package ownerships

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/internal/notifications"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
	"github.com/angelmondragon/forestcarbon-backend/pkg/fsm"
	"github.com/angelmondragon/forestcarbon-backend/pkg/validate"
)

// TransferInput asks to move Percentage points of an ownership to a new
// owner. Moving the whole percentage hands over the ownership itself.
type TransferInput struct {
	OwnershipID uuid.UUID       `json:"ownership_id" validate:"required"`
	ToOwnerID   uuid.UUID       `json:"to_owner_id" validate:"required"`
	Percentage  decimal.Decimal `json:"percentage" validate:"gt=0,lte=100"`
	RequestedBy uuid.UUID       `json:"requested_by" validate:"required"`
}

// TransferResult describes an approved transfer. Target equals Source when
// the whole ownership changed hands.
type TransferResult struct {
	Transfer         *models.OwnershipTransfer
	Source           *models.Ownership
	Target           *models.Ownership
	AllocationsMoved int
	PartialTransfer  bool
}

func (s *service) RequestTransfer(ctx context.Context, input TransferInput) (*models.OwnershipTransfer, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	pct := input.Percentage.Round(2)

	var created *models.OwnershipTransfer
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ownership, err := repo.FindByIDForUpdate(ctx, input.OwnershipID)
		if err != nil {
			return db.MapNotFound(err, "ownership")
		}
		if !ownership.IsActive(s.now().UTC()) {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "only active ownerships can be transferred").
				WithDetails(map[string]any{"status": ownership.Status.String()})
		}
		if ownership.OwnerID == input.ToOwnerID {
			return pkgerrors.New(pkgerrors.CodeValidation, "ownership already belongs to the target owner")
		}
		if !pct.IsPositive() || pct.GreaterThan(ownership.Percentage) {
			return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "transfer percentage exceeds the ownership share").
				WithDetails(map[string]any{
					"ownership_percentage": ownership.Percentage.String(),
					"requested":            pct.String(),
				})
		}
		pending, err := repo.HasPendingTransfer(ctx, ownership.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check pending transfers")
		}
		if pending {
			return pkgerrors.New(pkgerrors.CodeConflict, "ownership already has a pending transfer")
		}

		created = &models.OwnershipTransfer{
			OwnershipID: ownership.ID,
			FromOwnerID: ownership.OwnerID,
			ToOwnerID:   input.ToOwnerID,
			Percentage:  pct,
			Status:      enums.TransferStatusPending,
			RequestedBy: input.RequestedBy,
		}
		if err := repo.CreateTransfer(ctx, created); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create ownership transfer")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ApproveTransfer completes the transfer in one transaction. A full transfer
// changes the ownership's owner and re-points its unclaimed allocations. A
// partial one shrinks the ownership, opens a new ownership for the receiver
// and moves the same fraction of every unclaimed allocation. Claimed, sold
// and retired allocations never move.
func (s *service) ApproveTransfer(ctx context.Context, transferID, approverID uuid.UUID) (*TransferResult, error) {
	if approverID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "approver is required")
	}

	var result TransferResult
	transfer, err := s.decideTransfer(ctx, transferID, enums.TransferEventApprove, approverID, nil, func(tx *gorm.DB, repo Repository, t *models.OwnershipTransfer, updates map[string]any) error {
		ownership, err := repo.FindByIDForUpdate(ctx, t.OwnershipID)
		if err != nil {
			return db.MapNotFound(err, "ownership")
		}
		now := s.now().UTC()
		if !ownership.IsActive(now) {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "ownership is no longer active").
				WithDetails(map[string]any{"status": ownership.Status.String()})
		}
		if ownership.OwnerID != t.FromOwnerID {
			return pkgerrors.New(pkgerrors.CodeConflict, "ownership changed hands since the transfer was requested")
		}
		if t.Percentage.GreaterThan(ownership.Percentage) {
			return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "transfer percentage exceeds the ownership share").
				WithDetails(map[string]any{
					"ownership_percentage": ownership.Percentage.String(),
					"requested":            t.Percentage.String(),
				})
		}

		result.Source = ownership
		if t.Percentage.Equal(ownership.Percentage) {
			if err := repo.UpdateVersioned(ctx, ownership, map[string]any{"owner_id": t.ToOwnerID}); err != nil {
				return err
			}
			ownership.OwnerID = t.ToOwnerID
			ownership.Version++
			moved, err := s.allocations.RepointAllocations(ctx, tx, ownership.ID, ownership)
			if err != nil {
				return err
			}
			result.Target = ownership
			result.AllocationsMoved = moved
		} else {
			whole := ownership.Percentage
			remaining := whole.Sub(t.Percentage)
			if err := repo.UpdateVersioned(ctx, ownership, map[string]any{"percentage": remaining}); err != nil {
				return err
			}
			ownership.Percentage = remaining
			ownership.Version++

			start := ownership.StartDate
			if now.After(start) {
				start = now
			}
			target := &models.Ownership{
				ContractID: ownership.ContractID,
				OwnerID:    t.ToOwnerID,
				StartDate:  start,
				EndDate:    ownership.EndDate,
				Percentage: t.Percentage,
				Status:     enums.OwnershipStatusActive,
			}
			if err := repo.Create(ctx, target); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create receiving ownership")
			}
			moved, err := s.allocations.SplitAllocations(ctx, tx, ownership.ID, target, t.Percentage, whole)
			if err != nil {
				return err
			}
			result.Target = target
			result.AllocationsMoved = moved
			result.PartialTransfer = true
		}

		updates["result_ownership_id"] = result.Target.ID
		t.ResultOwnershipID = &result.Target.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Transfer = transfer

	s.sendTransfer(ctx, transfer, enums.NotificationTypeTransferApproved, "Ownership transfer approved", "The ownership share has moved to its new owner", map[string]any{
		"result_ownership_id": result.Target.ID.String(),
		"allocations_moved":   result.AllocationsMoved,
		"partial":             result.PartialTransfer,
	})
	return &result, nil
}

func (s *service) RejectTransfer(ctx context.Context, transferID, actorID uuid.UUID, reason string) (*models.OwnershipTransfer, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection reason is required")
	}
	transfer, err := s.decideTransfer(ctx, transferID, enums.TransferEventReject, actorID, &reason, nil)
	if err != nil {
		return nil, err
	}
	s.sendTransfer(ctx, transfer, enums.NotificationTypeTransferRejected, "Ownership transfer rejected", reason, nil)
	return transfer, nil
}

// CancelTransfer withdraws a pending transfer. Only the requester may cancel.
func (s *service) CancelTransfer(ctx context.Context, transferID, actorID uuid.UUID) (*models.OwnershipTransfer, error) {
	return s.decideTransfer(ctx, transferID, enums.TransferEventCancel, actorID, nil, func(_ *gorm.DB, _ Repository, t *models.OwnershipTransfer, _ map[string]any) error {
		if t.RequestedBy != actorID {
			return pkgerrors.New(pkgerrors.CodeValidation, "only the requester can cancel a transfer")
		}
		return nil
	})
}

func (s *service) Transfers(ctx context.Context, ownershipID uuid.UUID) ([]models.OwnershipTransfer, error) {
	rows, err := s.repo.ListTransfers(ctx, ownershipID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list ownership transfers")
	}
	return rows, nil
}

func (s *service) decideTransfer(ctx context.Context, transferID uuid.UUID, event fsm.Event, actorID uuid.UUID, reason *string, apply func(tx *gorm.DB, repo Repository, t *models.OwnershipTransfer, updates map[string]any) error) (*models.OwnershipTransfer, error) {
	var decided *models.OwnershipTransfer
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		transfer, err := repo.FindTransferForUpdate(ctx, transferID)
		if err != nil {
			return db.MapNotFound(err, "ownership transfer")
		}
		next, err := enums.OwnershipTransferMachine.Next(transfer.Status, event)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		updates := map[string]any{
			"status":     next,
			"decided_by": actorID,
			"decided_at": now,
		}
		if reason != nil {
			updates["reason"] = *reason
			transfer.Reason = reason
		}
		if apply != nil {
			if err := apply(tx, repo, transfer, updates); err != nil {
				return err
			}
		}
		if err := repo.UpdateTransfer(ctx, transfer.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update ownership transfer")
		}
		transfer.Status = next
		transfer.DecidedBy = &actorID
		transfer.DecidedAt = &now
		decided = transfer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decided, nil
}

func (s *service) sendTransfer(ctx context.Context, t *models.OwnershipTransfer, typ enums.NotificationType, title, message string, data map[string]any) {
	if s.notify == nil {
		return
	}
	payload := map[string]any{
		"ownership_id":  t.OwnershipID.String(),
		"from_owner_id": t.FromOwnerID.String(),
		"to_owner_id":   t.ToOwnerID.String(),
		"percentage":    t.Percentage.String(),
	}
	for k, v := range data {
		payload[k] = v
	}
	recipient := t.RequestedBy
	s.notify.Notify(ctx, notifications.Notification{
		Type:        typ,
		EntityType:  "ownership_transfer",
		EntityID:    t.ID,
		RecipientID: &recipient,
		Title:       title,
		Message:     message,
		Data:        payload,
	})
}
