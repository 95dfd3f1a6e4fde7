package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/dbtest"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
)

func setup(t *testing.T) (Service, *gorm.DB, *db.Client) {
	t.Helper()
	conn, client := dbtest.Open(t)
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)
	return svc, conn, client
}

func seedCredit(t *testing.T, conn *gorm.DB) *models.CarbonCredit {
	t.Helper()
	credit := &models.CarbonCredit{
		ProjectID:        uuid.New(),
		ReportYear:       2024,
		Standard:         "VCS",
		VerifiedTons:     decimal.NewFromInt(100),
		CreditsIssued:    100,
		CreditsAvailable: 100,
		Status:           enums.CreditStatusAvailable,
		IssuedAt:         time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, conn.Create(credit).Error)
	return credit
}

func record(t *testing.T, svc Service, client *db.Client, credit *models.CarbonCredit, kind enums.CreditLedgerEventType, qty int64, at time.Time) {
	t.Helper()
	require.NoError(t, client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := svc.RecordTx(context.Background(), tx, RecordInput{Credit: credit, Type: kind, Quantity: qty, OccurredAt: at})
		return err
	}))
}

func TestReconcileReplaysMovements(t *testing.T) {
	svc, conn, client := setup(t)
	ctx := context.Background()
	credit := seedCredit(t, conn)
	base := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)

	record(t, svc, client, credit, enums.CreditLedgerIssued, 100, base)
	credit.CreditsAvailable, credit.CreditsSold = 70, 30
	record(t, svc, client, credit, enums.CreditLedgerSold, 30, base.Add(time.Hour))
	credit.CreditsSold, credit.CreditsRetired = 20, 10
	record(t, svc, client, credit, enums.CreditLedgerRetiredSold, 10, base.Add(2*time.Hour))

	events, err := svc.ListByCredit(ctx, credit.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, enums.CreditLedgerSold, events[1].Type)
	assert.Equal(t, int64(70), events[1].AvailableAfter)

	rec, err := svc.Reconcile(ctx, credit)
	require.NoError(t, err)
	assert.True(t, rec.Balanced)
	assert.Equal(t, 3, rec.Events)
	assert.Equal(t, int64(70), rec.Available)
	assert.Equal(t, int64(20), rec.Sold)
	assert.Equal(t, int64(10), rec.Retired)
}

func TestReconcileReportsDrift(t *testing.T) {
	svc, conn, client := setup(t)
	credit := seedCredit(t, conn)
	record(t, svc, client, credit, enums.CreditLedgerIssued, 100, time.Now())

	tampered := *credit
	tampered.CreditsAvailable = 95
	tampered.CreditsSold = 5
	rec, err := svc.Reconcile(context.Background(), &tampered)
	require.NoError(t, err)
	assert.False(t, rec.Balanced)
	assert.Equal(t, map[string]int64{"credits_available": -5, "credits_sold": 5}, rec.Drift)
}

func TestRecordTxValidates(t *testing.T) {
	svc, conn, client := setup(t)
	ctx := context.Background()
	credit := seedCredit(t, conn)

	_, err := svc.RecordTx(ctx, nil, RecordInput{Credit: credit, Type: enums.CreditLedgerIssued, Quantity: 1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := svc.RecordTx(ctx, tx, RecordInput{Credit: credit, Type: "MINTED", Quantity: 1})
		return err
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := svc.RecordTx(ctx, tx, RecordInput{Type: enums.CreditLedgerSold, Quantity: 1})
		return err
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	has, err := svc.HasEvent(ctx, credit.ID, enums.CreditLedgerIssued)
	require.NoError(t, err)
	assert.False(t, has)
}
