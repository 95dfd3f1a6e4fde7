package projects

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/carbon"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
	"github.com/angelmondragon/forestcarbon-backend/pkg/validate"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// TreeTaker removes trees from a batch's available pool inside a transaction.
type TreeTaker interface {
	TakeTrees(ctx context.Context, tx *gorm.DB, batchID uuid.UUID, count int64) (*carbon.Estimate, error)
}

// Service manages project phases and their carbon budgets.
type Service interface {
	CreatePhase(ctx context.Context, input CreatePhaseInput) (*models.ProjectPhase, error)
	GetPhase(ctx context.Context, id uuid.UUID) (*models.ProjectPhase, error)
	ListPhases(ctx context.Context, projectID uuid.UUID) ([]models.ProjectPhase, error)
	AssignTrees(ctx context.Context, input AssignTreesInput) (*models.PhaseTreeAssignment, error)
	Assignments(ctx context.Context, phaseID uuid.UUID) ([]models.PhaseTreeAssignment, error)
	Balance(ctx context.Context, phaseID uuid.UUID) (*PhaseBalance, error)
	SurplusPhases(ctx context.Context) ([]PhaseBalance, error)
	DeficitPhases(ctx context.Context) ([]PhaseBalance, error)
	AddReserveCarbon(ctx context.Context, tx *gorm.DB, phaseID uuid.UUID, amount decimal.Decimal) (*models.ProjectPhase, error)
	ReleaseSurplus(ctx context.Context, tx *gorm.DB, phaseID uuid.UUID, amount decimal.Decimal) (*models.ProjectPhase, error)
}

// CreatePhaseInput defines a phase budget.
type CreatePhaseInput struct {
	ProjectID uuid.UUID       `json:"project_id" validate:"required"`
	Name      string          `json:"name" validate:"required,max=160"`
	StartDate time.Time       `json:"start_date" validate:"required"`
	EndDate   *time.Time      `json:"end_date"`
	TargetCO2 decimal.Decimal `json:"target_co2" validate:"gte=0"`
}

// AssignTreesInput moves trees from a batch into a phase.
type AssignTreesInput struct {
	PhaseID uuid.UUID `json:"phase_id" validate:"required"`
	BatchID uuid.UUID `json:"batch_id" validate:"required"`
	Count   int64     `json:"count" validate:"gt=0"`
	ActorID uuid.UUID `json:"actor_id" validate:"required"`
}

// PhaseBalance summarizes a phase against its target.
type PhaseBalance struct {
	PhaseID   uuid.UUID       `json:"phase_id"`
	ProjectID uuid.UUID       `json:"project_id"`
	TargetCO2 decimal.Decimal `json:"target_co2"`
	ActualCO2 decimal.Decimal `json:"actual_co2"`
	Surplus   decimal.Decimal `json:"surplus"`
	Deficit   decimal.Decimal `json:"deficit"`
}

func balanceOf(phase *models.ProjectPhase) PhaseBalance {
	return PhaseBalance{
		PhaseID:   phase.ID,
		ProjectID: phase.ProjectID,
		TargetCO2: phase.TargetCO2,
		ActualCO2: phase.DirectCO2.Add(phase.ReserveCO2),
		Surplus:   phase.Surplus(),
		Deficit:   phase.Deficit(),
	}
}

type service struct {
	repo  Repository
	tx    txRunner
	trees TreeTaker
	now   func() time.Time
}

// NewService wires the project phase service.
func NewService(repo Repository, tx txRunner, trees TreeTaker) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("project repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if trees == nil {
		return nil, fmt.Errorf("tree taker required")
	}
	return &service{repo: repo, tx: tx, trees: trees, now: time.Now}, nil
}

func (s *service) CreatePhase(ctx context.Context, input CreatePhaseInput) (*models.ProjectPhase, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	if input.EndDate != nil && !input.EndDate.After(input.StartDate) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "end_date must be after start_date")
	}

	phase := &models.ProjectPhase{
		ProjectID:  input.ProjectID,
		Name:       input.Name,
		StartDate:  input.StartDate.UTC(),
		TargetCO2:  input.TargetCO2,
		DirectCO2:  decimal.Zero,
		ReserveCO2: decimal.Zero,
	}
	if input.EndDate != nil {
		end := input.EndDate.UTC()
		phase.EndDate = &end
	}
	created, err := s.repo.CreatePhase(ctx, phase)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create project phase")
	}
	return created, nil
}

func (s *service) GetPhase(ctx context.Context, id uuid.UUID) (*models.ProjectPhase, error) {
	phase, err := s.repo.FindPhase(ctx, id)
	if err != nil {
		return nil, db.MapNotFound(err, "project phase")
	}
	return phase, nil
}

func (s *service) ListPhases(ctx context.Context, projectID uuid.UUID) ([]models.ProjectPhase, error) {
	rows, err := s.repo.ListPhases(ctx, &projectID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list project phases")
	}
	return rows, nil
}

// AssignTrees takes trees from a batch and credits their estimated
// absorption to the phase's direct carbon.
func (s *service) AssignTrees(ctx context.Context, input AssignTreesInput) (*models.PhaseTreeAssignment, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	var assignment *models.PhaseTreeAssignment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		phase, err := repo.FindPhaseForUpdate(ctx, input.PhaseID)
		if err != nil {
			return db.MapNotFound(err, "project phase")
		}
		est, err := s.trees.TakeTrees(ctx, tx, input.BatchID, input.Count)
		if err != nil {
			return err
		}

		direct := phase.DirectCO2.Add(est.Total)
		if err := repo.UpdatePhaseVersioned(ctx, phase, map[string]any{
			"direct_co2": direct,
			"actual_co2": direct.Add(phase.ReserveCO2),
		}); err != nil {
			return err
		}

		assignment = &models.PhaseTreeAssignment{
			BatchID:    input.BatchID,
			PhaseID:    phase.ID,
			TreeCount:  input.Count,
			CO2Amount:  est.Total,
			AssignedBy: input.ActorID,
			AssignedAt: s.now().UTC(),
		}
		if err := repo.CreateAssignment(ctx, assignment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record tree assignment")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assignment, nil
}

func (s *service) Assignments(ctx context.Context, phaseID uuid.UUID) ([]models.PhaseTreeAssignment, error) {
	rows, err := s.repo.ListAssignments(ctx, phaseID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list tree assignments")
	}
	return rows, nil
}

func (s *service) Balance(ctx context.Context, phaseID uuid.UUID) (*PhaseBalance, error) {
	phase, err := s.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	b := balanceOf(phase)
	return &b, nil
}

// SurplusPhases lists phases whose carbon exceeds their target, the
// candidates for feeding the reserve pool.
func (s *service) SurplusPhases(ctx context.Context) ([]PhaseBalance, error) {
	return s.filterBalances(ctx, func(b PhaseBalance) bool { return b.Surplus.IsPositive() })
}

// DeficitPhases lists phases short of their target.
func (s *service) DeficitPhases(ctx context.Context) ([]PhaseBalance, error) {
	return s.filterBalances(ctx, func(b PhaseBalance) bool { return b.Deficit.IsPositive() })
}

func (s *service) filterBalances(ctx context.Context, keep func(PhaseBalance) bool) ([]PhaseBalance, error) {
	rows, err := s.repo.ListPhases(ctx, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list project phases")
	}
	out := make([]PhaseBalance, 0, len(rows))
	for i := range rows {
		b := balanceOf(&rows[i])
		if keep(b) {
			out = append(out, b)
		}
	}
	return out, nil
}

// AddReserveCarbon credits reserve carbon to a phase inside the caller's
// transaction.
func (s *service) AddReserveCarbon(ctx context.Context, tx *gorm.DB, phaseID uuid.UUID, amount decimal.Decimal) (*models.ProjectPhase, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required to credit reserve carbon")
	}
	if amount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative")
	}
	repo := s.repo.WithTx(tx)
	phase, err := repo.FindPhaseForUpdate(ctx, phaseID)
	if err != nil {
		return nil, db.MapNotFound(err, "project phase")
	}
	if amount.IsZero() {
		return phase, nil
	}

	reserve := phase.ReserveCO2.Add(amount)
	if err := repo.UpdatePhaseVersioned(ctx, phase, map[string]any{
		"reserve_co2": reserve,
		"actual_co2":  phase.DirectCO2.Add(reserve),
	}); err != nil {
		return nil, err
	}
	phase.ReserveCO2 = reserve
	phase.ActualCO2 = phase.DirectCO2.Add(reserve)
	phase.Version++
	return phase, nil
}

// ReleaseSurplus moves up to amount of a phase's direct surplus out of the
// phase, inside the caller's transaction. The amount may not exceed the
// surplus or the direct carbon.
func (s *service) ReleaseSurplus(ctx context.Context, tx *gorm.DB, phaseID uuid.UUID, amount decimal.Decimal) (*models.ProjectPhase, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required to release surplus")
	}
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than 0")
	}
	repo := s.repo.WithTx(tx)
	phase, err := repo.FindPhaseForUpdate(ctx, phaseID)
	if err != nil {
		return nil, db.MapNotFound(err, "project phase")
	}

	available := decimal.Min(phase.Surplus(), phase.DirectCO2)
	if amount.GreaterThan(available) {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "amount exceeds phase surplus").
			WithDetails(map[string]any{"surplus": available.String(), "requested": amount.String()})
	}

	direct := phase.DirectCO2.Sub(amount)
	if err := repo.UpdatePhaseVersioned(ctx, phase, map[string]any{
		"direct_co2": direct,
		"actual_co2": direct.Add(phase.ReserveCO2),
	}); err != nil {
		return nil, err
	}
	phase.DirectCO2 = direct
	phase.ActualCO2 = direct.Add(phase.ReserveCO2)
	phase.Version++
	return phase, nil
}
