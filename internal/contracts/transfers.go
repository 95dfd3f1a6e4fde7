package contracts

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/internal/notifications"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
	"github.com/angelmondragon/forestcarbon-backend/pkg/fsm"
	"github.com/angelmondragon/forestcarbon-backend/pkg/validate"
)

// TransferInput asks to hand a running contract to a new counterparty.
type TransferInput struct {
	ContractID  uuid.UUID `json:"contract_id" validate:"required"`
	ToPartyID   uuid.UUID `json:"to_party_id" validate:"required"`
	RequestedBy uuid.UUID `json:"requested_by" validate:"required"`
}

func isRunning(c *models.Contract) bool {
	return c.Status == enums.ContractStatusActive || c.Status == enums.ContractStatusExpiringSoon
}

func (s *service) RequestTransfer(ctx context.Context, input TransferInput) (*models.ContractTransfer, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	var created *models.ContractTransfer
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		contract, err := repo.FindByIDForUpdate(ctx, input.ContractID)
		if err != nil {
			return db.MapNotFound(err, "contract")
		}
		if !isRunning(contract) {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "only running contracts can be transferred").
				WithDetails(map[string]any{"status": contract.Status.String()})
		}
		if contract.CounterpartyID == input.ToPartyID {
			return pkgerrors.New(pkgerrors.CodeValidation, "contract already belongs to the target party")
		}
		pending, err := repo.HasPendingTransfer(ctx, contract.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check pending transfers")
		}
		if pending {
			return pkgerrors.New(pkgerrors.CodeConflict, "contract already has a pending transfer")
		}

		created = &models.ContractTransfer{
			ContractID:  contract.ID,
			FromPartyID: contract.CounterpartyID,
			ToPartyID:   input.ToPartyID,
			Status:      enums.TransferStatusPending,
			RequestedBy: input.RequestedBy,
		}
		if err := repo.CreateTransfer(ctx, created); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create contract transfer")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ApproveTransfer moves the contract to the new counterparty and hands over
// the ownerships the previous counterparty held on it.
func (s *service) ApproveTransfer(ctx context.Context, transferID, approverID uuid.UUID) (*models.ContractTransfer, error) {
	if approverID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "approver is required")
	}
	reassigned := 0
	transfer, err := s.decideTransfer(ctx, transferID, enums.TransferEventApprove, approverID, nil, func(tx *gorm.DB, repo Repository, t *models.ContractTransfer) error {
		contract, err := repo.FindByIDForUpdate(ctx, t.ContractID)
		if err != nil {
			return db.MapNotFound(err, "contract")
		}
		if !isRunning(contract) {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "contract is no longer running").
				WithDetails(map[string]any{"status": contract.Status.String()})
		}
		if contract.CounterpartyID != t.FromPartyID {
			return pkgerrors.New(pkgerrors.CodeConflict, "contract counterparty changed since the transfer was requested")
		}
		if err := repo.UpdateVersioned(ctx, contract, map[string]any{"counterparty_id": t.ToPartyID}); err != nil {
			return err
		}
		reassigned, err = s.ownerships.ReassignForContract(ctx, tx, contract.ID, t.FromPartyID, t.ToPartyID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.sendTransfer(ctx, transfer, enums.NotificationTypeTransferApproved, "Contract transfer approved", "The contract now belongs to the new counterparty", map[string]any{
		"ownerships_reassigned": reassigned,
	})
	return transfer, nil
}

func (s *service) RejectTransfer(ctx context.Context, transferID, actorID uuid.UUID, reason string) (*models.ContractTransfer, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection reason is required")
	}
	transfer, err := s.decideTransfer(ctx, transferID, enums.TransferEventReject, actorID, &reason, nil)
	if err != nil {
		return nil, err
	}
	s.sendTransfer(ctx, transfer, enums.NotificationTypeTransferRejected, "Contract transfer rejected", reason, nil)
	return transfer, nil
}

// CancelTransfer withdraws a pending transfer. Only the requester may cancel.
func (s *service) CancelTransfer(ctx context.Context, transferID, actorID uuid.UUID) (*models.ContractTransfer, error) {
	return s.decideTransfer(ctx, transferID, enums.TransferEventCancel, actorID, nil, func(_ *gorm.DB, _ Repository, t *models.ContractTransfer) error {
		if t.RequestedBy != actorID {
			return pkgerrors.New(pkgerrors.CodeValidation, "only the requester can cancel a transfer")
		}
		return nil
	})
}

func (s *service) Transfers(ctx context.Context, contractID uuid.UUID) ([]models.ContractTransfer, error) {
	rows, err := s.repo.ListTransfers(ctx, contractID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list contract transfers")
	}
	return rows, nil
}

func (s *service) decideTransfer(ctx context.Context, transferID uuid.UUID, event fsm.Event, actorID uuid.UUID, reason *string, apply func(tx *gorm.DB, repo Repository, t *models.ContractTransfer) error) (*models.ContractTransfer, error) {
	var decided *models.ContractTransfer
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		transfer, err := repo.FindTransferForUpdate(ctx, transferID)
		if err != nil {
			return db.MapNotFound(err, "contract transfer")
		}
		next, err := enums.ContractTransferMachine.Next(transfer.Status, event)
		if err != nil {
			return err
		}
		if apply != nil {
			if err := apply(tx, repo, transfer); err != nil {
				return err
			}
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
		if err := repo.UpdateTransfer(ctx, transfer.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update contract transfer")
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

func (s *service) sendTransfer(ctx context.Context, t *models.ContractTransfer, typ enums.NotificationType, title, message string, data map[string]any) {
	if s.notify == nil {
		return
	}
	payload := map[string]any{
		"contract_id":   t.ContractID.String(),
		"from_party_id": t.FromPartyID.String(),
		"to_party_id":   t.ToPartyID.String(),
	}
	for k, v := range data {
		payload[k] = v
	}
	recipient := t.RequestedBy
	s.notify.Notify(ctx, notifications.Notification{
		Type:        typ,
		EntityType:  "contract_transfer",
		EntityID:    t.ID,
		RecipientID: &recipient,
		Title:       title,
		Message:     message,
		Data:        payload,
	})
}
