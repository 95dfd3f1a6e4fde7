package validate

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
)

type sampleInput struct {
	OwnerID    uuid.UUID       `json:"owner_id" validate:"required"`
	Percentage decimal.Decimal `json:"percentage" validate:"gt=0,lte=100"`
	StartDate  time.Time       `json:"start_date" validate:"required"`
	EndDate    time.Time       `json:"end_date" validate:"required,gtfield=StartDate"`
	Name       string          `json:"name" validate:"required,max=10"`
}

func validSample() sampleInput {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	return sampleInput{
		OwnerID:    uuid.New(),
		Percentage: decimal.NewFromInt(25),
		StartDate:  start,
		EndDate:    start.AddDate(1, 0, 0),
		Name:       "plot",
	}
}

func TestStructAcceptsValidInput(t *testing.T) {
	require.NoError(t, Struct(validSample()))
}

func TestStructReportsFieldDetails(t *testing.T) {
	in := validSample()
	in.OwnerID = uuid.Nil
	in.Percentage = decimal.RequireFromString("100.01")
	in.EndDate = in.StartDate
	in.Name = ""

	err := Struct(in)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())

	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "is required", details["owner_id"])
	assert.Equal(t, "must be at most 100", details["percentage"])
	assert.Equal(t, "must be after StartDate", details["end_date"])
	assert.Equal(t, "is required", details["name"])
}

func TestStructRejectsZeroDecimal(t *testing.T) {
	in := validSample()
	in.Percentage = decimal.Zero
	err := Struct(in)
	require.Error(t, err)
	details := pkgerrors.As(err).Details().(map[string]string)
	assert.Equal(t, "must be greater than 0", details["percentage"])
}

func TestStructRequiresTime(t *testing.T) {
	in := validSample()
	in.StartDate = time.Time{}
	err := Struct(in)
	require.Error(t, err)
	details := pkgerrors.As(err).Details().(map[string]string)
	assert.Equal(t, "is required", details["start_date"])
}
