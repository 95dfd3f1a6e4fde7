package projects

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
)

// Repository defines persistence operations for project phases.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreatePhase(ctx context.Context, phase *models.ProjectPhase) (*models.ProjectPhase, error)
	FindPhase(ctx context.Context, id uuid.UUID) (*models.ProjectPhase, error)
	FindPhaseForUpdate(ctx context.Context, id uuid.UUID) (*models.ProjectPhase, error)
	ListPhases(ctx context.Context, projectID *uuid.UUID) ([]models.ProjectPhase, error)
	UpdatePhaseVersioned(ctx context.Context, phase *models.ProjectPhase, updates map[string]any) error
	CreateAssignment(ctx context.Context, assignment *models.PhaseTreeAssignment) error
	ListAssignments(ctx context.Context, phaseID uuid.UUID) ([]models.PhaseTreeAssignment, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a project phase repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreatePhase(ctx context.Context, phase *models.ProjectPhase) (*models.ProjectPhase, error) {
	if err := r.db.WithContext(ctx).Create(phase).Error; err != nil {
		return nil, err
	}
	return phase, nil
}

func (r *repository) FindPhase(ctx context.Context, id uuid.UUID) (*models.ProjectPhase, error) {
	var phase models.ProjectPhase
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&phase).Error; err != nil {
		return nil, err
	}
	return &phase, nil
}

func (r *repository) FindPhaseForUpdate(ctx context.Context, id uuid.UUID) (*models.ProjectPhase, error) {
	var phase models.ProjectPhase
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&phase).Error; err != nil {
		return nil, err
	}
	return &phase, nil
}

func (r *repository) ListPhases(ctx context.Context, projectID *uuid.UUID) ([]models.ProjectPhase, error) {
	query := r.db.WithContext(ctx).Model(&models.ProjectPhase{})
	if projectID != nil {
		query = query.Where("project_id = ?", *projectID)
	}
	var rows []models.ProjectPhase
	err := query.Order("start_date ASC").Order("id ASC").Find(&rows).Error
	return rows, err
}

func (r *repository) UpdatePhaseVersioned(ctx context.Context, phase *models.ProjectPhase, updates map[string]any) error {
	return db.UpdateVersioned(r.db.WithContext(ctx), &models.ProjectPhase{}, phase.ID, phase.Version, updates)
}

func (r *repository) CreateAssignment(ctx context.Context, assignment *models.PhaseTreeAssignment) error {
	return r.db.WithContext(ctx).Create(assignment).Error
}

func (r *repository) ListAssignments(ctx context.Context, phaseID uuid.UUID) ([]models.PhaseTreeAssignment, error) {
	var rows []models.PhaseTreeAssignment
	err := r.db.WithContext(ctx).
		Where("phase_id = ?", phaseID).
		Order("assigned_at ASC").
		Find(&rows).Error
	return rows, err
}
