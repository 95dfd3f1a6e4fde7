package credits

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/carbon"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
	"github.com/angelmondragon/forestcarbon-backend/pkg/fsm"
)

var hundred = decimal.NewFromInt(100)

// AllocateInput assigns part of a credit to an ownership. A nil Percentage
// uses the ownership's own percentage.
type AllocateInput struct {
	CreditID    uuid.UUID        `json:"credit_id" validate:"required"`
	OwnershipID uuid.UUID        `json:"ownership_id" validate:"required"`
	Percentage  *decimal.Decimal `json:"percentage"`
}

// AllocateToOwnership records floor(issued × percentage / 100) credits for
// an active ownership. The sum over all allocations of a credit never
// exceeds the issued amount, and a new allocation must fit in the units not
// already sold, retired or held by another outstanding allocation.
func (s *service) AllocateToOwnership(ctx context.Context, input AllocateInput) (*models.CreditAllocation, error) {
	if input.CreditID == uuid.Nil || input.OwnershipID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit_id and ownership_id are required")
	}
	if p := input.Percentage; p != nil && (!p.IsPositive() || p.GreaterThan(hundred)) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "percentage must be greater than 0 and at most 100")
	}
	now := s.now().UTC()

	var created *models.CreditAllocation
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		credit, err := repo.FindByIDForUpdate(ctx, input.CreditID)
		if err != nil {
			return db.MapNotFound(err, "carbon credit")
		}
		if credit.IsExpired(now) {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "carbon credit has expired").
				WithDetails(map[string]any{"credit_id": credit.ID.String()})
		}
		ownership, err := repo.FindOwnership(ctx, input.OwnershipID)
		if err != nil {
			return db.MapNotFound(err, "ownership")
		}
		if !ownership.IsActive(now) {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "ownership is not active").
				WithDetails(map[string]any{"ownership_id": ownership.ID.String(), "status": ownership.Status.String()})
		}
		exists, err := repo.AllocationExists(ctx, credit.ID, ownership.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check existing allocation")
		}
		if exists {
			return pkgerrors.New(pkgerrors.CodeConflict, "ownership already has an allocation for this credit")
		}

		percentage := ownership.Percentage
		if input.Percentage != nil {
			percentage = *input.Percentage
		}
		amount := carbon.AllocatedCredits(credit.CreditsIssued, percentage)
		if amount <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "percentage yields no whole credits").
				WithDetails(map[string]any{"percentage": percentage.String(), "credits_issued": credit.CreditsIssued})
		}
		allocated, err := repo.SumAllocated(ctx, credit.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum allocated credits")
		}
		if allocated+amount > credit.CreditsIssued {
			return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "allocation exceeds issued credits").
				WithDetails(map[string]any{
					"credits_issued": credit.CreditsIssued,
					"allocated":      allocated,
					"requested":      amount,
				})
		}
		outstanding, err := repo.SumOutstanding(ctx, credit.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum outstanding allocations")
		}
		if amount > credit.CreditsAvailable-outstanding {
			return heldBack(credit, outstanding, amount)
		}

		created = &models.CreditAllocation{
			CreditID:         credit.ID,
			OwnershipID:      ownership.ID,
			OwnerID:          ownership.OwnerID,
			Percentage:       percentage,
			AllocatedCredits: amount,
			Status:           enums.AllocationStatusAllocated,
		}
		if err := repo.CreateAllocation(ctx, created); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create credit allocation")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) Allocations(ctx context.Context, creditID uuid.UUID) ([]models.CreditAllocation, error) {
	rows, err := s.repo.ListAllocations(ctx, creditID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list credit allocations")
	}
	return rows, nil
}

// Claim lets the owner take an allocation, stamping ClaimedAt.
func (s *service) Claim(ctx context.Context, allocationID, ownerID uuid.UUID) (*models.CreditAllocation, error) {
	var updated *models.CreditAllocation
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		allocation, err := repo.FindAllocationForUpdate(ctx, allocationID)
		if err != nil {
			return db.MapNotFound(err, "credit allocation")
		}
		if allocation.OwnerID != ownerID {
			return pkgerrors.New(pkgerrors.CodeValidation, "allocation belongs to another owner")
		}
		next, err := enums.AllocationMachine.Next(allocation.Status, enums.AllocationEventClaim)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if err := repo.UpdateAllocationVersioned(ctx, allocation, map[string]any{
			"status":     next,
			"claimed_at": now,
		}); err != nil {
			return err
		}
		allocation.Status = next
		allocation.ClaimedAt = &now
		allocation.Version++
		updated = allocation
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SellAllocation sells a claimed allocation, moving the same quantity out
// of the credit's available balance.
func (s *service) SellAllocation(ctx context.Context, allocationID uuid.UUID) (*models.CreditAllocation, error) {
	return s.settleAllocation(ctx, allocationID, enums.AllocationEventSell)
}

// RetireAllocation retires a claimed allocation against the credit.
func (s *service) RetireAllocation(ctx context.Context, allocationID uuid.UUID) (*models.CreditAllocation, error) {
	return s.settleAllocation(ctx, allocationID, enums.AllocationEventRetire)
}

func (s *service) settleAllocation(ctx context.Context, allocationID uuid.UUID, event fsm.Event) (*models.CreditAllocation, error) {
	var updated *models.CreditAllocation
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		allocation, err := repo.FindAllocationForUpdate(ctx, allocationID)
		if err != nil {
			return db.MapNotFound(err, "credit allocation")
		}
		next, err := enums.AllocationMachine.Next(allocation.Status, event)
		if err != nil {
			return err
		}

		kind := movementSell
		stamp := "sold_at"
		if event == enums.AllocationEventRetire {
			kind = movementRetire
			stamp = "retired_at"
		}
		if allocation.AllocatedCredits > 0 {
			if _, err := s.move(ctx, tx, allocation.CreditID, allocation.AllocatedCredits, kind, true); err != nil {
				return err
			}
		}

		now := s.now().UTC()
		if err := repo.UpdateAllocationVersioned(ctx, allocation, map[string]any{
			"status": next,
			stamp:    now,
		}); err != nil {
			return err
		}
		allocation.Status = next
		if kind == movementSell {
			allocation.SoldAt = &now
		} else {
			allocation.RetiredAt = &now
		}
		allocation.Version++
		updated = allocation
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RepointAllocations hands every unclaimed allocation of an ownership to the
// target ownership and its owner. Claimed, sold and retired allocations stay
// where they are.
func (s *service) RepointAllocations(ctx context.Context, tx *gorm.DB, fromOwnershipID uuid.UUID, to *models.Ownership) (int, error) {
	if tx == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "transaction required to repoint allocations")
	}
	repo := s.repo.WithTx(tx)
	status := enums.AllocationStatusAllocated
	rows, err := repo.ListAllocationsByOwnership(ctx, fromOwnershipID, &status)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list unclaimed allocations")
	}
	for i := range rows {
		if err := repo.UpdateAllocationVersioned(ctx, &rows[i], map[string]any{
			"ownership_id": to.ID,
			"owner_id":     to.OwnerID,
		}); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// SplitAllocations moves the part/whole fraction of every unclaimed
// allocation of an ownership into new allocations for the target ownership.
// The credits moved are floored, so the remainder stays with the source.
func (s *service) SplitAllocations(ctx context.Context, tx *gorm.DB, fromOwnershipID uuid.UUID, to *models.Ownership, part, whole decimal.Decimal) (int, error) {
	if tx == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "transaction required to split allocations")
	}
	if !part.IsPositive() || !whole.IsPositive() || part.GreaterThan(whole) {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "invalid split fraction")
	}
	repo := s.repo.WithTx(tx)
	status := enums.AllocationStatusAllocated
	rows, err := repo.ListAllocationsByOwnership(ctx, fromOwnershipID, &status)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list unclaimed allocations")
	}

	split := 0
	for i := range rows {
		alloc := &rows[i]
		moved := carbon.ProportionalShare(alloc.AllocatedCredits, part, whole)
		movedPct := alloc.Percentage.Mul(part).Div(whole).Round(2)
		if moved == 0 && movedPct.IsZero() {
			continue
		}
		if err := repo.UpdateAllocationVersioned(ctx, alloc, map[string]any{
			"allocated_credits": alloc.AllocatedCredits - moved,
			"percentage":        alloc.Percentage.Sub(movedPct),
		}); err != nil {
			return 0, err
		}
		if err := repo.CreateAllocation(ctx, &models.CreditAllocation{
			CreditID:         alloc.CreditID,
			OwnershipID:      to.ID,
			OwnerID:          to.OwnerID,
			Percentage:       movedPct,
			AllocatedCredits: moved,
			Status:           enums.AllocationStatusAllocated,
		}); err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create split allocation")
		}
		split++
	}
	return split, nil
}
