package species

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
	"github.com/angelmondragon/forestcarbon-backend/pkg/validate"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service manages the tree species registry.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.TreeSpecies, error)
	Get(ctx context.Context, id uuid.UUID) (*models.TreeSpecies, error)
	List(ctx context.Context) ([]models.TreeSpecies, error)
	UpdateRate(ctx context.Context, id uuid.UUID, rate decimal.Decimal) (*models.TreeSpecies, error)
	ImportSheet(ctx context.Context, input ImportInput) (*ImportResult, error)
}

// CreateInput carries a new species definition.
type CreateInput struct {
	Name               string          `json:"name" validate:"required,max=120"`
	ScientificName     string          `json:"scientific_name" validate:"max=160"`
	BaseAbsorptionRate decimal.Decimal `json:"base_absorption_rate" validate:"required,gt=0"`
}

type service struct {
	repo Repository
	tx   txRunner
}

// NewService wires the species service.
func NewService(repo Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("species repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.TreeSpecies, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.ScientificName = strings.TrimSpace(input.ScientificName)
	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	created, err := s.repo.Create(ctx, &models.TreeSpecies{
		Name:               input.Name,
		ScientificName:     input.ScientificName,
		BaseAbsorptionRate: input.BaseAbsorptionRate,
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "species name already registered").
				WithDetails(map[string]any{"name": input.Name})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create species")
	}
	return created, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.TreeSpecies, error) {
	species, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, db.MapNotFound(err, "species")
	}
	return species, nil
}

func (s *service) List(ctx context.Context) ([]models.TreeSpecies, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list species")
	}
	return rows, nil
}

// UpdateRate changes the base absorption rate. Species already referenced by
// a tree batch are immutable so past estimates stay reproducible.
func (s *service) UpdateRate(ctx context.Context, id uuid.UUID, rate decimal.Decimal) (*models.TreeSpecies, error) {
	if !rate.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "base_absorption_rate must be greater than 0")
	}

	var updated *models.TreeSpecies
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		species, err := repo.FindByID(ctx, id)
		if err != nil {
			return db.MapNotFound(err, "species")
		}
		if err := ensureUnreferenced(ctx, repo, species.ID); err != nil {
			return err
		}
		if err := repo.Update(ctx, species.ID, map[string]any{"base_absorption_rate": rate}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update species rate")
		}
		species.BaseAbsorptionRate = rate
		updated = species
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func ensureUnreferenced(ctx context.Context, repo Repository, id uuid.UUID) error {
	count, err := repo.CountBatches(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count species batches")
	}
	if count > 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidTransition, "species is referenced by tree batches").
			WithDetails(map[string]any{"species_id": id.String(), "batches": count})
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
