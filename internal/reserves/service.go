package reserves

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
	"github.com/angelmondragon/forestcarbon-backend/pkg/metrics"
	"github.com/angelmondragon/forestcarbon-backend/pkg/validate"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PhaseLedger moves carbon in and out of project phases inside a transaction.
type PhaseLedger interface {
	AddReserveCarbon(ctx context.Context, tx *gorm.DB, phaseID uuid.UUID, amount decimal.Decimal) (*models.ProjectPhase, error)
	ReleaseSurplus(ctx context.Context, tx *gorm.DB, phaseID uuid.UUID, amount decimal.Decimal) (*models.ProjectPhase, error)
}

// Service manages the carbon reserve pool.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.CarbonReserve, error)
	Get(ctx context.Context, id uuid.UUID) (*models.CarbonReserve, error)
	ListAvailable(ctx context.Context) ([]models.CarbonReserve, error)
	Allocations(ctx context.Context, reserveID uuid.UUID) ([]models.CarbonReserveAllocation, error)
	Allocate(ctx context.Context, input AllocateInput) (*AllocationResult, error)
	SweepExpired(ctx context.Context) (SweepResult, error)
}

// CreateInput pools carbon into a new reserve. When SourcePhaseID is set the
// amount is drawn from that phase's surplus.
type CreateInput struct {
	SourcePhaseID *uuid.UUID      `json:"source_phase_id"`
	Amount        decimal.Decimal `json:"amount" validate:"required,gt=0"`
	ExpiresAt     *time.Time      `json:"expires_at"`
	Notes         string          `json:"notes" validate:"max=1000"`
}

// AllocateInput requests carbon from a reserve for a phase.
type AllocateInput struct {
	ReserveID uuid.UUID       `json:"reserve_id" validate:"required"`
	PhaseID   uuid.UUID       `json:"phase_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount" validate:"required,gt=0"`
	ActorID   uuid.UUID       `json:"actor_id" validate:"required"`
}

// AllocationResult carries the granted amount, which may be lower than the
// requested amount when the reserve runs short.
type AllocationResult struct {
	Allocation *models.CarbonReserveAllocation
	Reserve    *models.CarbonReserve
	Phase      *models.ProjectPhase
}

// SweepResult counts the outcome of an expiry sweep.
type SweepResult struct {
	Scanned int
	Expired int
	Failed  int
}

type service struct {
	repo    Repository
	tx      txRunner
	phases  PhaseLedger
	metrics *metrics.CarbonMetrics
	ttl     time.Duration
	now     func() time.Time
}

// NewService wires the reserve pool. Reserves created without an explicit
// expiry expire after ttl; a zero ttl leaves them open-ended.
func NewService(repo Repository, tx txRunner, phases PhaseLedger, m *metrics.CarbonMetrics, ttl time.Duration) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("reserve repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if phases == nil {
		return nil, fmt.Errorf("phase ledger required")
	}
	return &service{repo: repo, tx: tx, phases: phases, metrics: m, ttl: ttl, now: time.Now}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.CarbonReserve, error) {
	input.Notes = strings.TrimSpace(input.Notes)
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	expiresAt := input.ExpiresAt
	if expiresAt == nil && s.ttl > 0 {
		at := now.Add(s.ttl)
		expiresAt = &at
	}
	if expiresAt != nil {
		if !expiresAt.After(now) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "expires_at must be in the future")
		}
		at := expiresAt.UTC()
		expiresAt = &at
	}

	var created *models.CarbonReserve
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if input.SourcePhaseID != nil {
			if _, err := s.phases.ReleaseSurplus(ctx, tx, *input.SourcePhaseID, input.Amount); err != nil {
				return err
			}
		}
		var err error
		created, err = s.repo.WithTx(tx).Create(ctx, &models.CarbonReserve{
			SourcePhaseID:   input.SourcePhaseID,
			Amount:          input.Amount,
			RemainingAmount: input.Amount,
			Status:          enums.ReserveStatusAvailable,
			ExpiresAt:       expiresAt,
			Notes:           input.Notes,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create carbon reserve")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.CarbonReserve, error) {
	reserve, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, db.MapNotFound(err, "carbon reserve")
	}
	return reserve, nil
}

func (s *service) ListAvailable(ctx context.Context) ([]models.CarbonReserve, error) {
	rows, err := s.repo.ListAvailable(ctx, s.now().UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list carbon reserves")
	}
	return rows, nil
}

func (s *service) Allocations(ctx context.Context, reserveID uuid.UUID) ([]models.CarbonReserveAllocation, error) {
	rows, err := s.repo.ListAllocations(ctx, reserveID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list reserve allocations")
	}
	return rows, nil
}

// Allocate grants min(requested, remaining) from the reserve to the phase.
// The reserve becomes ALLOCATED once nothing remains; later calls grant 0 and
// are still recorded. Only expired reserves are refused.
func (s *service) Allocate(ctx context.Context, input AllocateInput) (*AllocationResult, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	now := s.now().UTC()

	var result *AllocationResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		reserve, err := repo.FindByIDForUpdate(ctx, input.ReserveID)
		if err != nil {
			return db.MapNotFound(err, "carbon reserve")
		}
		if reserve.IsExpired(now) {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "carbon reserve has expired").
				WithDetails(map[string]any{"reserve_id": reserve.ID.String(), "status": reserve.Status.String()})
		}
		grant := decimal.Zero
		if reserve.Status == enums.ReserveStatusAvailable && reserve.RemainingAmount.IsPositive() {
			grant = decimal.Min(input.Amount, reserve.RemainingAmount)
			remaining := reserve.RemainingAmount.Sub(grant)
			status := reserve.Status
			if !remaining.IsPositive() {
				status, err = enums.ReserveMachine.Next(reserve.Status, enums.ReserveEventExhaust)
				if err != nil {
					return err
				}
			}
			if err := repo.UpdateVersioned(ctx, reserve, map[string]any{
				"remaining_amount": remaining,
				"status":           status,
			}); err != nil {
				return err
			}
			reserve.RemainingAmount = remaining
			reserve.Status = status
			reserve.Version++
		}

		allocation := &models.CarbonReserveAllocation{
			ReserveID:       reserve.ID,
			PhaseID:         input.PhaseID,
			RequestedAmount: input.Amount,
			Amount:          grant,
			AllocatedBy:     input.ActorID,
			AllocatedAt:     now,
		}
		if err := repo.CreateAllocation(ctx, allocation); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record reserve allocation")
		}
		phase, err := s.phases.AddReserveCarbon(ctx, tx, input.PhaseID, grant)
		if err != nil {
			return err
		}
		result = &AllocationResult{Allocation: allocation, Reserve: reserve, Phase: phase}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Allocation.Amount.IsPositive() {
		return result, nil
	}
	s.metrics.AddReserveGranted(result.Allocation.Amount.InexactFloat64())
	if result.Reserve.Status == enums.ReserveStatusAllocated {
		s.metrics.IncTransition("carbon_reserve", result.Reserve.Status.String())
	}
	return result, nil
}

// SweepExpired moves AVAILABLE reserves past their expiry to EXPIRED. Their
// remaining carbon is forfeited. Running it twice changes nothing.
func (s *service) SweepExpired(ctx context.Context) (SweepResult, error) {
	now := s.now().UTC()
	var result SweepResult
	ids, err := s.repo.ListExpiredIDs(ctx, now)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list expired reserves")
	}
	result.Scanned = len(ids)

	var errs error
	for _, id := range ids {
		expired, err := s.expire(ctx, id, now)
		if err != nil {
			result.Failed++
			errs = multierr.Append(errs, fmt.Errorf("expire reserve %s: %w", id, err))
			continue
		}
		if expired {
			result.Expired++
			s.metrics.IncTransition("carbon_reserve", enums.ReserveStatusExpired.String())
		}
	}
	return result, errs
}

func (s *service) expire(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	expired := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		reserve, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return db.MapNotFound(err, "carbon reserve")
		}
		if reserve.Status != enums.ReserveStatusAvailable || !reserve.IsExpired(now) {
			return nil
		}
		next, err := enums.ReserveMachine.Next(reserve.Status, enums.ReserveEventExpire)
		if err != nil {
			return err
		}
		if err := repo.UpdateVersioned(ctx, reserve, map[string]any{"status": next}); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}
