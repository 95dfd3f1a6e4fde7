package contracts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
)

// LifecycleResult counts what one lifecycle sweep did.
type LifecycleResult struct {
	Scanned        int
	MarkedExpiring int
	Expired        int
	Renewed        int
	Failed         int
}

type lifecycleOutcome int

const (
	outcomeNone lifecycleOutcome = iota
	outcomeExpiring
	outcomeExpired
	outcomeRenewed
)

// SweepLifecycle advances running contracts by date. A contract inside its
// notice window becomes EXPIRING_SOON; one past its end date is renewed
// automatically when CanRenew allows it and expires otherwise. Re-running the
// sweep leaves already advanced contracts alone.
func (s *service) SweepLifecycle(ctx context.Context) (LifecycleResult, error) {
	var result LifecycleResult
	ids, err := s.repo.ListRunningIDs(ctx)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list running contracts")
	}
	result.Scanned = len(ids)

	var errs error
	for _, id := range ids {
		outcome, contract, successor, err := s.advance(ctx, id)
		if err != nil {
			result.Failed++
			errs = multierr.Append(errs, fmt.Errorf("advance contract %s: %w", id, err))
			continue
		}
		switch outcome {
		case outcomeExpiring:
			result.MarkedExpiring++
			s.metrics.IncTransition("contract", contract.Status.String())
			s.send(ctx, contract, enums.NotificationTypeContractExpiring, "Contract expiring soon",
				fmt.Sprintf("%s ends on %s", contract.Title, contract.EndDate.Format("2006-01-02")), nil)
		case outcomeExpired:
			result.Expired++
			s.metrics.IncTransition("contract", contract.Status.String())
			s.send(ctx, contract, enums.NotificationTypeContractExpired, "Contract expired", contract.Title+" has expired", nil)
		case outcomeRenewed:
			result.Renewed++
			s.afterRenewal(ctx, contract, successor)
		}
	}
	return result, errs
}

func (s *service) advance(ctx context.Context, id uuid.UUID) (lifecycleOutcome, *models.Contract, *models.Contract, error) {
	outcome := outcomeNone
	var contract, successor *models.Contract
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		contract, err = repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return db.MapNotFound(err, "contract")
		}
		if !isRunning(contract) {
			return nil
		}
		now := s.now().UTC()

		if contract.IsPastEnd(now) {
			if contract.CanRenew() {
				successor, err = s.autoRenew(ctx, repo, contract, now)
				if err != nil {
					return err
				}
				outcome = outcomeRenewed
				return nil
			}
			next, err := enums.ContractMachine.Next(contract.Status, enums.ContractEventExpire)
			if err != nil {
				return err
			}
			if err := repo.UpdateVersioned(ctx, contract, map[string]any{"status": next}); err != nil {
				return err
			}
			if _, err := repo.RejectPendingRenewals(ctx, contract.ID, closedByExpiry, now); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "close pending renewals")
			}
			contract.Status = next
			contract.Version++
			outcome = outcomeExpired
			return nil
		}

		if contract.Status == enums.ContractStatusActive && contract.InNoticeWindow(now) {
			next, err := enums.ContractMachine.Next(contract.Status, enums.ContractEventMarkExpiring)
			if err != nil {
				return err
			}
			if err := repo.UpdateVersioned(ctx, contract, map[string]any{"status": next}); err != nil {
				return err
			}
			contract.Status = next
			contract.Version++
			outcome = outcomeExpiring
		}
		return nil
	})
	return outcome, contract, successor, err
}

const (
	supersededByAutoRenewal = "superseded by automatic renewal"
	closedByExpiry          = "contract expired before the renewal was decided"
)

// autoRenew extends the contract by one more term and records the renewal
// as automatic and already approved.
func (s *service) autoRenew(ctx context.Context, repo Repository, contract *models.Contract, now time.Time) (*models.Contract, error) {
	newEnd := nextTermEnd(contract)
	successor, err := s.renew(ctx, repo, contract, newEnd, nil, now)
	if err != nil {
		return nil, err
	}
	if _, err := repo.RejectPendingRenewals(ctx, contract.ID, supersededByAutoRenewal, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "close pending renewals")
	}
	renewal := &models.ContractRenewal{
		ContractID:        contract.ID,
		RequestedBy:       contract.CounterpartyID,
		NewEndDate:        newEnd,
		Status:            enums.RenewalStatusApproved,
		Automatic:         true,
		DecidedAt:         &now,
		RenewedContractID: &successor.ID,
	}
	if err := repo.CreateRenewal(ctx, renewal); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record automatic renewal")
	}
	return successor, nil
}
