package species

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db/dbtest"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	conn, client := dbtest.Open(t)
	svc, err := NewService(NewRepository(conn), client)
	require.NoError(t, err)
	return svc, conn
}

func TestCreateSpecies(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Name: "  Teak ", ScientificName: "Tectona grandis", BaseAbsorptionRate: decimal.RequireFromString("22.5")})
	require.NoError(t, err)
	assert.Equal(t, "Teak", created.Name)
	assert.NotEqual(t, uuid.Nil, created.ID)

	_, err = svc.Create(ctx, CreateInput{Name: "Teak", BaseAbsorptionRate: decimal.NewFromInt(10)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "duplicate names conflict: %v", err)

	_, err = svc.Create(ctx, CreateInput{Name: "Cedar", BaseAbsorptionRate: decimal.Zero})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestUpdateRateOnlyWhileUnreferenced(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	sp, err := svc.Create(ctx, CreateInput{Name: "Mahogany", BaseAbsorptionRate: decimal.NewFromInt(20)})
	require.NoError(t, err)

	updated, err := svc.UpdateRate(ctx, sp.ID, decimal.NewFromInt(25))
	require.NoError(t, err)
	assert.True(t, updated.BaseAbsorptionRate.Equal(decimal.NewFromInt(25)))

	require.NoError(t, conn.Create(&models.TreeBatch{
		FarmID:         uuid.New(),
		SpeciesID:      sp.ID,
		PlantedAt:      time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC),
		PlantedCount:   10,
		AliveCount:     10,
		AvailableCount: 10,
	}).Error)

	_, err = svc.UpdateRate(ctx, sp.ID, decimal.NewFromInt(30))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition), "referenced species are immutable: %v", err)

	stored, err := svc.Get(ctx, sp.ID)
	require.NoError(t, err)
	assert.True(t, stored.BaseAbsorptionRate.Equal(decimal.NewFromInt(25)))

	_, err = svc.UpdateRate(ctx, uuid.New(), decimal.NewFromInt(1))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func buildWorkbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cellRef, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestImportSheet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Name: "Pine", BaseAbsorptionRate: decimal.NewFromInt(12)})
	require.NoError(t, err)

	book := buildWorkbook(t, [][]any{
		{"Name", "Scientific Name", "Base Absorption Rate"},
		{"Oak", "Quercus robur", "21.7"},
		{"Pine", "Pinus sylvestris", "14"},
		{"", "", ""},
		{"Ghost", "", "abc"},
		{"Bamboo", "", "-1"},
	})

	result, err := svc.ImportSheet(ctx, ImportInput{Reader: book, UpdateExisting: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Updated)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, 5, result.Errors[0].Row)
	assert.Equal(t, 6, result.Errors[1].Row)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Oak", all[0].Name)
	assert.True(t, all[0].BaseAbsorptionRate.Equal(decimal.RequireFromString("21.7")))
	assert.True(t, all[1].BaseAbsorptionRate.Equal(decimal.NewFromInt(14)))
}

func TestImportSheetSkipsExistingWithoutUpdate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Name: "Pine", BaseAbsorptionRate: decimal.NewFromInt(12)})
	require.NoError(t, err)

	book := buildWorkbook(t, [][]any{
		{"species", "rate"},
		{"Pine", "99"},
	})
	result, err := svc.ImportSheet(ctx, ImportInput{Reader: book})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Updated)
}

func TestImportSheetRequiresColumns(t *testing.T) {
	svc, _ := newTestService(t)
	book := buildWorkbook(t, [][]any{{"label", "value"}, {"Oak", "1"}})

	_, err := svc.ImportSheet(context.Background(), ImportInput{Reader: book})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
