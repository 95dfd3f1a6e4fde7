package farms

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
	"github.com/angelmondragon/forestcarbon-backend/pkg/maps"
	"github.com/angelmondragon/forestcarbon-backend/pkg/validate"
)

type geocoder interface {
	Geocode(ctx context.Context, address string) (*maps.Place, error)
}

// Service manages planting sites.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Farm, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Farm, error)
	List(ctx context.Context) ([]models.Farm, error)
	Locate(ctx context.Context, id uuid.UUID) (*models.Farm, error)
}

// CreateInput describes a new farm. Coordinates are optional and must be
// given together.
type CreateInput struct {
	Name         string          `json:"name" validate:"required,max=160"`
	Address      string          `json:"address" validate:"required"`
	Latitude     *float64        `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude    *float64        `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	AreaHectares decimal.Decimal `json:"area_hectares" validate:"gte=0"`
}

type service struct {
	repo     Repository
	geocoder geocoder
}

// NewService wires the farm service. The geocoder is optional; without one,
// Locate only succeeds for farms that already carry coordinates.
func NewService(repo Repository, geo geocoder) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("farm repository required")
	}
	return &service{repo: repo, geocoder: geo}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Farm, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Address = strings.TrimSpace(input.Address)
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	if (input.Latitude == nil) != (input.Longitude == nil) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "latitude and longitude must be provided together")
	}
	farm, err := s.repo.Create(ctx, &models.Farm{
		Name:         input.Name,
		Address:      input.Address,
		Latitude:     input.Latitude,
		Longitude:    input.Longitude,
		AreaHectares: input.AreaHectares,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create farm")
	}
	return farm, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Farm, error) {
	farm, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, db.MapNotFound(err, "farm")
	}
	return farm, nil
}

func (s *service) List(ctx context.Context) ([]models.Farm, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list farms")
	}
	return rows, nil
}

// Locate returns the farm with coordinates, geocoding its address first when
// they are missing.
func (s *service) Locate(ctx context.Context, id uuid.UUID) (*models.Farm, error) {
	farm, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if farm.HasCoordinates() {
		return farm, nil
	}
	if s.geocoder == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "geocoding not configured").
			WithDetails(map[string]any{"farm_id": farm.ID.String()})
	}

	place, err := s.geocoder.Geocode(ctx, farm.Address)
	if err != nil {
		return nil, err
	}
	lat, lng := place.Location.Latitude, place.Location.Longitude
	if err := s.repo.UpdateCoordinates(ctx, farm.ID, lat, lng, place.FormattedAddress); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store farm coordinates")
	}
	farm.Latitude, farm.Longitude = &lat, &lng
	if place.FormattedAddress != "" {
		farm.Address = place.FormattedAddress
	}
	return farm, nil
}
