package ownerships

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/internal/credits"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/dbtest"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
)

type fixture struct {
	svc     *service
	credits credits.Service
	conn    *gorm.DB
	client  *db.Client
}

func setup(t *testing.T) *fixture {
	t.Helper()
	conn, client := dbtest.Open(t)
	creditSvc, err := credits.NewService(credits.NewRepository(conn), client, nil, nil, nil, 0)
	require.NoError(t, err)
	svc, err := NewService(NewRepository(conn), client, creditSvc, nil, nil)
	require.NoError(t, err)
	return &fixture{svc: svc.(*service), credits: creditSvc, conn: conn, client: client}
}

func (f *fixture) contract(t *testing.T, status enums.ContractStatus) *models.Contract {
	t.Helper()
	now := time.Now().UTC()
	c := &models.Contract{
		ProjectID:         uuid.New(),
		CounterpartyID:    uuid.New(),
		Title:             "Riverside reforestation",
		StartDate:         now.AddDate(-1, 0, 0),
		EndDate:           now.AddDate(5, 0, 0),
		TermMonths:        72,
		RenewalNoticeDays: 30,
		Status:            status,
	}
	require.NoError(t, f.conn.Create(c).Error)
	return c
}

func (f *fixture) own(t *testing.T, contractID uuid.UUID, pct string) *models.Ownership {
	t.Helper()
	o, err := f.svc.Create(context.Background(), CreateInput{ContractID: contractID, OwnerID: uuid.New(), Percentage: decimal.RequireFromString(pct)})
	require.NoError(t, err)
	return o
}

func (f *fixture) issue(t *testing.T, tons int64) *models.CarbonCredit {
	t.Helper()
	credit, err := f.credits.Issue(context.Background(), credits.IssueInput{
		ProjectID:    uuid.New(),
		ReportYear:   2025,
		VerifiedTons: decimal.NewFromInt(tons),
		Standard:     "VCS",
	})
	require.NoError(t, err)
	return credit
}

func TestCreateKeepsSharesWithinWholeContract(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	draft := f.contract(t, enums.ContractStatusDraft)

	first := f.own(t, draft.ID, "60")
	assert.Equal(t, enums.OwnershipStatusPending, first.Status)
	assert.True(t, first.EndDate.Equal(draft.EndDate), "dates default to the contract term")
	f.own(t, draft.ID, "40")

	_, err := f.svc.Create(ctx, CreateInput{ContractID: draft.ID, OwnerID: uuid.New(), Percentage: decimal.RequireFromString("0.01")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance), "got %v", err)

	_, err = f.svc.Create(ctx, CreateInput{ContractID: draft.ID, OwnerID: uuid.New(), Percentage: decimal.NewFromInt(101)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	active := f.contract(t, enums.ContractStatusActive)
	running := f.own(t, active.ID, "25")
	assert.Equal(t, enums.OwnershipStatusActive, running.Status)

	cancelled := f.contract(t, enums.ContractStatusCancelled)
	_, err = f.svc.Create(ctx, CreateInput{ContractID: cancelled.ID, OwnerID: uuid.New(), Percentage: decimal.NewFromInt(10)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))

	_, err = f.svc.Create(ctx, CreateInput{ContractID: uuid.New(), OwnerID: uuid.New(), Percentage: decimal.NewFromInt(10)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestActivateRequiresRunningContract(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	contract := f.contract(t, enums.ContractStatusPending)
	o := f.own(t, contract.ID, "50")

	_, err := f.svc.Activate(ctx, o.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))

	require.NoError(t, f.conn.Model(&models.Contract{}).Where("id = ?", contract.ID).Update("status", enums.ContractStatusActive).Error)
	activated, err := f.svc.Activate(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OwnershipStatusActive, activated.Status)

	_, err = f.svc.Activate(ctx, o.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))
}

func TestContractCascades(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	contract := f.contract(t, enums.ContractStatusPending)
	a := f.own(t, contract.ID, "30")
	b := f.own(t, contract.ID, "30")

	var activated int
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		activated, err = f.svc.ActivateForContract(ctx, tx, contract.ID)
		return err
	}))
	assert.Equal(t, 2, activated)

	_, err := f.svc.ActivateForContract(ctx, nil, contract.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	var terminated int
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		terminated, err = f.svc.TerminateForContract(ctx, tx, contract.ID)
		return err
	}))
	assert.Equal(t, 2, terminated)

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		stored, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, enums.OwnershipStatusTerminated, stored.Status)
	}
}

func TestReassignForContractMovesOneOwnersShares(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	contract := f.contract(t, enums.ContractStatusActive)
	held := f.own(t, contract.ID, "50")
	other := f.own(t, contract.ID, "20")
	credit := f.issue(t, 100)
	alloc, err := f.credits.AllocateToOwnership(ctx, credits.AllocateInput{CreditID: credit.ID, OwnershipID: held.ID})
	require.NoError(t, err)

	newOwner := uuid.New()
	var moved int
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		moved, err = f.svc.ReassignForContract(ctx, tx, contract.ID, held.OwnerID, newOwner)
		return err
	}))
	assert.Equal(t, 1, moved)

	stored, err := f.svc.Get(ctx, held.ID)
	require.NoError(t, err)
	assert.Equal(t, newOwner, stored.OwnerID)
	untouched, err := f.svc.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, other.OwnerID, untouched.OwnerID)

	allocs, err := f.credits.Allocations(ctx, credit.ID)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, alloc.ID, allocs[0].ID)
	assert.Equal(t, newOwner, allocs[0].OwnerID)
}

func TestFullTransferRepointsOnlyUnclaimedAllocations(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	contract := f.contract(t, enums.ContractStatusActive)
	o := f.own(t, contract.ID, "60")
	previousOwner := o.OwnerID

	open := f.issue(t, 1000)
	openAlloc, err := f.credits.AllocateToOwnership(ctx, credits.AllocateInput{CreditID: open.ID, OwnershipID: o.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 600, openAlloc.AllocatedCredits)

	claimedCredit := f.issue(t, 500)
	claimedAlloc, err := f.credits.AllocateToOwnership(ctx, credits.AllocateInput{CreditID: claimedCredit.ID, OwnershipID: o.ID})
	require.NoError(t, err)
	_, err = f.credits.Claim(ctx, claimedAlloc.ID, previousOwner)
	require.NoError(t, err)

	newOwner := uuid.New()
	transfer, err := f.svc.RequestTransfer(ctx, TransferInput{OwnershipID: o.ID, ToOwnerID: newOwner, Percentage: decimal.NewFromInt(60), RequestedBy: previousOwner})
	require.NoError(t, err)
	assert.Equal(t, enums.TransferStatusPending, transfer.Status)

	result, err := f.svc.ApproveTransfer(ctx, transfer.ID, uuid.New())
	require.NoError(t, err)
	assert.False(t, result.PartialTransfer)
	assert.Equal(t, o.ID, result.Target.ID)
	assert.Equal(t, newOwner, result.Target.OwnerID)
	assert.Equal(t, 1, result.AllocationsMoved)
	assert.Equal(t, enums.TransferStatusCompleted, result.Transfer.Status)
	require.NotNil(t, result.Transfer.ResultOwnershipID)

	openAllocs, err := f.credits.Allocations(ctx, open.ID)
	require.NoError(t, err)
	require.Len(t, openAllocs, 1)
	assert.Equal(t, newOwner, openAllocs[0].OwnerID)

	claimedAllocs, err := f.credits.Allocations(ctx, claimedCredit.ID)
	require.NoError(t, err)
	require.Len(t, claimedAllocs, 1)
	assert.Equal(t, previousOwner, claimedAllocs[0].OwnerID)
	assert.Equal(t, enums.AllocationStatusClaimed, claimedAllocs[0].Status)
}

func TestPartialTransferSplitsOwnershipAndAllocations(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	contract := f.contract(t, enums.ContractStatusActive)
	o := f.own(t, contract.ID, "60")
	credit := f.issue(t, 1000)
	_, err := f.credits.AllocateToOwnership(ctx, credits.AllocateInput{CreditID: credit.ID, OwnershipID: o.ID})
	require.NoError(t, err)

	receiver := uuid.New()
	transfer, err := f.svc.RequestTransfer(ctx, TransferInput{OwnershipID: o.ID, ToOwnerID: receiver, Percentage: decimal.NewFromInt(20), RequestedBy: o.OwnerID})
	require.NoError(t, err)

	result, err := f.svc.ApproveTransfer(ctx, transfer.ID, uuid.New())
	require.NoError(t, err)
	assert.True(t, result.PartialTransfer)
	assert.True(t, result.Source.Percentage.Equal(decimal.NewFromInt(40)))
	assert.True(t, result.Target.Percentage.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, receiver, result.Target.OwnerID)
	assert.Equal(t, enums.OwnershipStatusActive, result.Target.Status)

	allocs, err := f.credits.Allocations(ctx, credit.ID)
	require.NoError(t, err)
	require.Len(t, allocs, 2)
	byOwnership := map[uuid.UUID]models.CreditAllocation{}
	for _, a := range allocs {
		byOwnership[a.OwnershipID] = a
	}
	assert.EqualValues(t, 400, byOwnership[o.ID].AllocatedCredits)
	assert.EqualValues(t, 200, byOwnership[result.Target.ID].AllocatedCredits)

	shares, err := f.svc.ListByContract(ctx, contract.ID)
	require.NoError(t, err)
	total := decimal.Zero
	for _, s := range shares {
		total = total.Add(s.Percentage)
	}
	assert.True(t, total.Equal(decimal.NewFromInt(60)), "a transfer moves shares without creating any: %s", total)
}

func TestTransferGuards(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	contract := f.contract(t, enums.ContractStatusActive)
	o := f.own(t, contract.ID, "30")
	requester := o.OwnerID

	_, err := f.svc.RequestTransfer(ctx, TransferInput{OwnershipID: o.ID, ToOwnerID: uuid.New(), Percentage: decimal.NewFromInt(31), RequestedBy: requester})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance))

	_, err = f.svc.RequestTransfer(ctx, TransferInput{OwnershipID: o.ID, ToOwnerID: o.OwnerID, Percentage: decimal.NewFromInt(5), RequestedBy: requester})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	first, err := f.svc.RequestTransfer(ctx, TransferInput{OwnershipID: o.ID, ToOwnerID: uuid.New(), Percentage: decimal.NewFromInt(10), RequestedBy: requester})
	require.NoError(t, err)
	_, err = f.svc.RequestTransfer(ctx, TransferInput{OwnershipID: o.ID, ToOwnerID: uuid.New(), Percentage: decimal.NewFromInt(10), RequestedBy: requester})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	_, err = f.svc.RejectTransfer(ctx, first.ID, uuid.New(), " ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	rejected, err := f.svc.RejectTransfer(ctx, first.ID, uuid.New(), "buyer not verified")
	require.NoError(t, err)
	assert.Equal(t, enums.TransferStatusRejected, rejected.Status)

	second, err := f.svc.RequestTransfer(ctx, TransferInput{OwnershipID: o.ID, ToOwnerID: uuid.New(), Percentage: decimal.NewFromInt(10), RequestedBy: requester})
	require.NoError(t, err)
	_, err = f.svc.CancelTransfer(ctx, second.ID, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	cancelled, err := f.svc.CancelTransfer(ctx, second.ID, requester)
	require.NoError(t, err)
	assert.Equal(t, enums.TransferStatusCancelled, cancelled.Status)

	_, err = f.svc.ApproveTransfer(ctx, second.ID, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))

	stored, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, requester, stored.OwnerID)
	assert.True(t, stored.Percentage.Equal(decimal.NewFromInt(30)))

	history, err := f.svc.Transfers(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestPendingOwnershipCannotBeTransferred(t *testing.T) {
	f := setup(t)
	contract := f.contract(t, enums.ContractStatusDraft)
	o := f.own(t, contract.ID, "30")

	_, err := f.svc.RequestTransfer(context.Background(), TransferInput{OwnershipID: o.ID, ToOwnerID: uuid.New(), Percentage: decimal.NewFromInt(30), RequestedBy: o.OwnerID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))
}

func TestSweepExpired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	contract := f.contract(t, enums.ContractStatusActive)
	now := time.Now().UTC()

	lapsed := &models.Ownership{
		ContractID: contract.ID,
		OwnerID:    uuid.New(),
		StartDate:  now.AddDate(-2, 0, 0),
		EndDate:    now.AddDate(0, 0, -1),
		Percentage: decimal.NewFromInt(10),
		Status:     enums.OwnershipStatusActive,
	}
	require.NoError(t, f.conn.Create(lapsed).Error)
	current := f.own(t, contract.ID, "10")

	result, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 1, Expired: 1}, result)

	stored, err := f.svc.Get(ctx, lapsed.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OwnershipStatusExpired, stored.Status)
	still, err := f.svc.Get(ctx, current.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OwnershipStatusActive, still.Status)

	again, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Scanned)
}
