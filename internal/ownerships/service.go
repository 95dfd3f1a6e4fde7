package ownerships

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
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

var (
	fullShare = decimal.NewFromInt(100)

	// liveStatuses still count towards a contract's percentage budget.
	liveStatuses = []enums.OwnershipStatus{enums.OwnershipStatusPending, enums.OwnershipStatusActive}
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type notifier interface {
	Notify(ctx context.Context, n notifications.Notification)
}

// AllocationMover re-points unclaimed credit allocations when an ownership
// changes hands.
type AllocationMover interface {
	RepointAllocations(ctx context.Context, tx *gorm.DB, fromOwnershipID uuid.UUID, to *models.Ownership) (int, error)
	SplitAllocations(ctx context.Context, tx *gorm.DB, fromOwnershipID uuid.UUID, to *models.Ownership, part, whole decimal.Decimal) (int, error)
}

// Service manages ownership shares of contracts and their transfers.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Ownership, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Ownership, error)
	ListByContract(ctx context.Context, contractID uuid.UUID) ([]models.Ownership, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Ownership, error)
	Activate(ctx context.Context, id uuid.UUID) (*models.Ownership, error)
	SweepExpired(ctx context.Context) (SweepResult, error)

	ActivateForContract(ctx context.Context, tx *gorm.DB, contractID uuid.UUID) (int, error)
	TerminateForContract(ctx context.Context, tx *gorm.DB, contractID uuid.UUID) (int, error)
	ReassignForContract(ctx context.Context, tx *gorm.DB, contractID, fromOwnerID, toOwnerID uuid.UUID) (int, error)

	RequestTransfer(ctx context.Context, input TransferInput) (*models.OwnershipTransfer, error)
	ApproveTransfer(ctx context.Context, transferID, approverID uuid.UUID) (*TransferResult, error)
	RejectTransfer(ctx context.Context, transferID, actorID uuid.UUID, reason string) (*models.OwnershipTransfer, error)
	CancelTransfer(ctx context.Context, transferID, actorID uuid.UUID) (*models.OwnershipTransfer, error)
	Transfers(ctx context.Context, ownershipID uuid.UUID) ([]models.OwnershipTransfer, error)
}

// CreateInput grants an owner a share of a contract. Dates default to the
// contract's own term.
type CreateInput struct {
	ContractID uuid.UUID       `json:"contract_id" validate:"required"`
	OwnerID    uuid.UUID       `json:"owner_id" validate:"required"`
	StartDate  *time.Time      `json:"start_date"`
	EndDate    *time.Time      `json:"end_date"`
	Percentage decimal.Decimal `json:"percentage" validate:"gt=0,lte=100"`
}

// SweepResult counts the outcome of an expiry sweep.
type SweepResult struct {
	Scanned int
	Expired int
	Failed  int
}

type service struct {
	repo        Repository
	tx          txRunner
	allocations AllocationMover
	notify      notifier
	metrics     *metrics.CarbonMetrics
	now         func() time.Time
}

// NewService wires the ownership service.
func NewService(repo Repository, tx txRunner, allocations AllocationMover, notify notifier, m *metrics.CarbonMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ownership repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if allocations == nil {
		return nil, fmt.Errorf("allocation mover required")
	}
	return &service{repo: repo, tx: tx, allocations: allocations, notify: notify, metrics: m, now: time.Now}, nil
}

// Create adds an ownership while the contract's live shares stay within
// 100%. Shares on a running contract start ACTIVE, otherwise PENDING until
// the contract is approved.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.Ownership, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	pct := input.Percentage.Round(2)
	if !pct.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "percentage must be at least 0.01")
	}

	var created *models.Ownership
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		contract, err := repo.FindContract(ctx, input.ContractID)
		if err != nil {
			return db.MapNotFound(err, "contract")
		}
		if enums.ContractMachine.IsTerminal(contract.Status) {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "contract no longer accepts ownerships").
				WithDetails(map[string]any{"status": contract.Status.String()})
		}

		start, end := contract.StartDate, contract.EndDate
		if input.StartDate != nil {
			start = input.StartDate.UTC()
		}
		if input.EndDate != nil {
			end = input.EndDate.UTC()
		}
		if !end.After(start) {
			return pkgerrors.New(pkgerrors.CodeValidation, "end_date must be after start_date")
		}

		if _, err := repo.LockByContract(ctx, contract.ID, liveStatuses, nil); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock contract ownerships")
		}
		used, err := repo.SumPercentage(ctx, contract.ID, liveStatuses)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum ownership percentages")
		}
		if used.Add(pct).GreaterThan(fullShare) {
			return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "ownership percentages would exceed 100").
				WithDetails(map[string]any{
					"allocated": used.String(),
					"requested": pct.String(),
				})
		}

		status := enums.OwnershipStatusPending
		if contract.Status == enums.ContractStatusActive || contract.Status == enums.ContractStatusExpiringSoon {
			status = enums.OwnershipStatusActive
		}
		created = &models.Ownership{
			ContractID: contract.ID,
			OwnerID:    input.OwnerID,
			StartDate:  start,
			EndDate:    end,
			Percentage: pct,
			Status:     status,
		}
		if err := repo.Create(ctx, created); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create ownership")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Ownership, error) {
	ownership, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, db.MapNotFound(err, "ownership")
	}
	return ownership, nil
}

func (s *service) ListByContract(ctx context.Context, contractID uuid.UUID) ([]models.Ownership, error) {
	rows, err := s.repo.ListByContract(ctx, contractID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list contract ownerships")
	}
	return rows, nil
}

func (s *service) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Ownership, error) {
	rows, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list owner ownerships")
	}
	return rows, nil
}

// Activate moves a pending ownership to ACTIVE once its contract runs.
func (s *service) Activate(ctx context.Context, id uuid.UUID) (*models.Ownership, error) {
	var updated *models.Ownership
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ownership, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return db.MapNotFound(err, "ownership")
		}
		contract, err := repo.FindContract(ctx, ownership.ContractID)
		if err != nil {
			return db.MapNotFound(err, "contract")
		}
		if contract.Status != enums.ContractStatusActive && contract.Status != enums.ContractStatusExpiringSoon {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "contract is not active").
				WithDetails(map[string]any{"contract_status": contract.Status.String()})
		}
		if err := s.apply(ctx, repo, ownership, enums.OwnershipEventActivate); err != nil {
			return err
		}
		updated = ownership
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ActivateForContract activates every pending ownership of the contract.
func (s *service) ActivateForContract(ctx context.Context, tx *gorm.DB, contractID uuid.UUID) (int, error) {
	return s.cascade(ctx, tx, contractID, []enums.OwnershipStatus{enums.OwnershipStatusPending}, enums.OwnershipEventActivate)
}

// TerminateForContract terminates every pending or active ownership of the
// contract.
func (s *service) TerminateForContract(ctx context.Context, tx *gorm.DB, contractID uuid.UUID) (int, error) {
	return s.cascade(ctx, tx, contractID, liveStatuses, enums.OwnershipEventTerminate)
}

func (s *service) cascade(ctx context.Context, tx *gorm.DB, contractID uuid.UUID, from []enums.OwnershipStatus, event fsm.Event) (int, error) {
	if tx == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "transaction required to cascade ownership changes")
	}
	repo := s.repo.WithTx(tx)
	rows, err := repo.LockByContract(ctx, contractID, from, nil)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock contract ownerships")
	}
	for i := range rows {
		if err := s.apply(ctx, repo, &rows[i], event); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// ReassignForContract hands every live ownership fromOwnerID holds on the
// contract to toOwnerID, along with their unclaimed allocations.
func (s *service) ReassignForContract(ctx context.Context, tx *gorm.DB, contractID, fromOwnerID, toOwnerID uuid.UUID) (int, error) {
	if tx == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "transaction required to reassign ownerships")
	}
	repo := s.repo.WithTx(tx)
	rows, err := repo.LockByContract(ctx, contractID, liveStatuses, &fromOwnerID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock contract ownerships")
	}
	for i := range rows {
		ownership := &rows[i]
		if err := repo.UpdateVersioned(ctx, ownership, map[string]any{"owner_id": toOwnerID}); err != nil {
			return 0, err
		}
		ownership.OwnerID = toOwnerID
		ownership.Version++
		if _, err := s.allocations.RepointAllocations(ctx, tx, ownership.ID, ownership); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// SweepExpired marks ACTIVE ownerships past their end date as EXPIRED.
func (s *service) SweepExpired(ctx context.Context) (SweepResult, error) {
	now := s.now().UTC()
	var result SweepResult
	ids, err := s.repo.ListExpiredIDs(ctx, now)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list expired ownerships")
	}
	result.Scanned = len(ids)

	var errs error
	for _, id := range ids {
		expired, err := s.expire(ctx, id, now)
		if err != nil {
			result.Failed++
			errs = multierr.Append(errs, fmt.Errorf("expire ownership %s: %w", id, err))
			continue
		}
		if expired {
			result.Expired++
		}
	}
	return result, errs
}

func (s *service) expire(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	expired := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ownership, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return db.MapNotFound(err, "ownership")
		}
		if ownership.IsActive(now) || !enums.OwnershipMachine.Can(ownership.Status, enums.OwnershipEventExpire) {
			return nil
		}
		if err := s.apply(ctx, repo, ownership, enums.OwnershipEventExpire); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}

func (s *service) apply(ctx context.Context, repo Repository, ownership *models.Ownership, event fsm.Event) error {
	next, err := enums.OwnershipMachine.Next(ownership.Status, event)
	if err != nil {
		return err
	}
	if err := repo.UpdateVersioned(ctx, ownership, map[string]any{"status": next}); err != nil {
		return err
	}
	ownership.Status = next
	ownership.Version++
	s.metrics.IncTransition("ownership", next.String())
	return nil
}
