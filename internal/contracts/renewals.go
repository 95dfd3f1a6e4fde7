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
	"github.com/angelmondragon/forestcarbon-backend/pkg/validate"
)

// RenewalInput proposes a new end date for a running contract. NewEndDate
// defaults to one more term after the current end date.
type RenewalInput struct {
	ContractID  uuid.UUID  `json:"contract_id" validate:"required"`
	RequestedBy uuid.UUID  `json:"requested_by" validate:"required"`
	NewEndDate  *time.Time `json:"new_end_date"`
}

// RenewalResult pairs the decided renewal with the contracts it touched.
type RenewalResult struct {
	Renewal   *models.ContractRenewal
	Original  *models.Contract
	Successor *models.Contract
}

func (s *service) RequestRenewal(ctx context.Context, input RenewalInput) (*models.ContractRenewal, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	var created *models.ContractRenewal
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		contract, err := repo.FindByIDForUpdate(ctx, input.ContractID)
		if err != nil {
			return db.MapNotFound(err, "contract")
		}
		if _, err := enums.ContractMachine.Next(contract.Status, enums.ContractEventRenew); err != nil {
			return err
		}
		if err := checkRenewalLimit(contract); err != nil {
			return err
		}
		newEnd := nextTermEnd(contract)
		if input.NewEndDate != nil {
			newEnd = input.NewEndDate.UTC()
		}
		if !newEnd.After(contract.EndDate) {
			return pkgerrors.New(pkgerrors.CodeValidation, "new_end_date must be after the current end date")
		}

		pending, err := repo.HasPendingRenewal(ctx, contract.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check pending renewals")
		}
		if pending {
			return pkgerrors.New(pkgerrors.CodeConflict, "contract already has a pending renewal")
		}

		created = &models.ContractRenewal{
			ContractID:  contract.ID,
			RequestedBy: input.RequestedBy,
			NewEndDate:  newEnd,
			Status:      enums.RenewalStatusPending,
		}
		if err := repo.CreateRenewal(ctx, created); err != nil {
			if db.IsUniqueViolation(err, "idx_contract_renewals_one_pending") {
				return pkgerrors.New(pkgerrors.CodeConflict, "contract already has a pending renewal")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create renewal")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ApproveRenewal produces the successor contract and marks the original
// RENEWED.
func (s *service) ApproveRenewal(ctx context.Context, renewalID, approverID uuid.UUID) (*RenewalResult, error) {
	if approverID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "approver is required")
	}

	var result RenewalResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		renewal, err := repo.FindRenewalForUpdate(ctx, renewalID)
		if err != nil {
			return db.MapNotFound(err, "contract renewal")
		}
		next, err := enums.RenewalMachine.Next(renewal.Status, enums.RenewalEventApprove)
		if err != nil {
			return err
		}
		contract, err := repo.FindByIDForUpdate(ctx, renewal.ContractID)
		if err != nil {
			return db.MapNotFound(err, "contract")
		}

		now := s.now().UTC()
		successor, err := s.renew(ctx, repo, contract, renewal.NewEndDate, &approverID, now)
		if err != nil {
			return err
		}
		if err := repo.UpdateRenewal(ctx, renewal.ID, map[string]any{
			"status":              next,
			"decided_by":          approverID,
			"decided_at":          now,
			"renewed_contract_id": successor.ID,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "approve renewal")
		}
		renewal.Status = next
		renewal.DecidedBy = &approverID
		renewal.DecidedAt = &now
		renewal.RenewedContractID = &successor.ID

		result = RenewalResult{Renewal: renewal, Original: contract, Successor: successor}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterRenewal(ctx, result.Original, result.Successor)
	return &result, nil
}

func (s *service) RejectRenewal(ctx context.Context, renewalID, actorID uuid.UUID, reason string) (*models.ContractRenewal, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection reason is required")
	}

	var rejected *models.ContractRenewal
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		renewal, err := repo.FindRenewalForUpdate(ctx, renewalID)
		if err != nil {
			return db.MapNotFound(err, "contract renewal")
		}
		next, err := enums.RenewalMachine.Next(renewal.Status, enums.RenewalEventReject)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if err := repo.UpdateRenewal(ctx, renewal.ID, map[string]any{
			"status":     next,
			"decided_by": actorID,
			"decided_at": now,
			"reason":     reason,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reject renewal")
		}
		renewal.Status = next
		renewal.DecidedBy = &actorID
		renewal.DecidedAt = &now
		renewal.Reason = &reason
		rejected = renewal
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.notify != nil {
		recipient := rejected.RequestedBy
		s.notify.Notify(ctx, notifications.Notification{
			Type:        enums.NotificationTypeRenewalRejected,
			EntityType:  "contract_renewal",
			EntityID:    rejected.ID,
			RecipientID: &recipient,
			Title:       "Contract renewal rejected",
			Message:     reason,
			Data:        map[string]any{"contract_id": rejected.ContractID.String()},
		})
	}
	return rejected, nil
}

func (s *service) Renewals(ctx context.Context, contractID uuid.UUID) ([]models.ContractRenewal, error) {
	rows, err := s.repo.ListRenewals(ctx, contractID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list contract renewals")
	}
	return rows, nil
}

// renew creates the ACTIVE successor starting where the original ends and
// moves the original to RENEWED. The successor inherits the renewal counter
// so the chain as a whole honours MaxRenewals.
func (s *service) renew(ctx context.Context, repo Repository, contract *models.Contract, newEnd time.Time, approver *uuid.UUID, now time.Time) (*models.Contract, error) {
	next, err := enums.ContractMachine.Next(contract.Status, enums.ContractEventRenew)
	if err != nil {
		return nil, err
	}
	if err := checkRenewalLimit(contract); err != nil {
		return nil, err
	}
	newEnd = newEnd.UTC()
	if !newEnd.After(contract.EndDate) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "renewed end date must be after the current end date")
	}

	count := contract.RenewalCount + 1
	var maxRenewals *int
	if contract.MaxRenewals != nil {
		limit := *contract.MaxRenewals
		maxRenewals = &limit
	}
	parentID := contract.ID
	successor := &models.Contract{
		ProjectID:         contract.ProjectID,
		CounterpartyID:    contract.CounterpartyID,
		Title:             contract.Title,
		StartDate:         contract.EndDate,
		EndDate:           newEnd,
		TermMonths:        monthsBetween(contract.EndDate, newEnd),
		AutoRenewal:       contract.AutoRenewal,
		MaxRenewals:       maxRenewals,
		RenewalCount:      count,
		RenewalNoticeDays: contract.RenewalNoticeDays,
		Status:            enums.ContractStatusActive,
		ParentContractID:  &parentID,
		ApprovedBy:        approver,
		ApprovedAt:        &now,
	}
	if err := repo.Create(ctx, successor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create successor contract")
	}
	if err := repo.UpdateVersioned(ctx, contract, map[string]any{
		"status":        next,
		"renewal_count": count,
	}); err != nil {
		return nil, err
	}
	contract.Status = next
	contract.RenewalCount = count
	contract.Version++
	return successor, nil
}

func (s *service) afterRenewal(ctx context.Context, original, successor *models.Contract) {
	s.metrics.IncTransition("contract", original.Status.String())
	s.send(ctx, original, enums.NotificationTypeContractRenewed, "Contract renewed",
		fmt.Sprintf("%s renewed until %s", original.Title, successor.EndDate.Format("2006-01-02")),
		map[string]any{
			"successor_id":  successor.ID.String(),
			"renewal_count": successor.RenewalCount,
		})
}

func checkRenewalLimit(contract *models.Contract) error {
	if contract.MaxRenewals != nil && contract.RenewalCount >= *contract.MaxRenewals {
		return pkgerrors.New(pkgerrors.CodeInvalidTransition, "contract reached its renewal limit").
			WithDetails(map[string]any{
				"contract_id":   contract.ID.String(),
				"renewal_count": contract.RenewalCount,
				"max_renewals":  *contract.MaxRenewals,
			})
	}
	return nil
}

func nextTermEnd(contract *models.Contract) time.Time {
	term := contract.TermMonths
	if term <= 0 {
		term = 12
	}
	return contract.EndDate.AddDate(0, term, 0)
}
