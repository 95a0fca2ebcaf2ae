package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/classml-io/classml-engine/pkg/apperrors"
	"github.com/classml-io/classml-engine/pkg/database"
	"github.com/classml-io/classml-engine/pkg/models"
)

// ProjectRepository defines data access for projects.
type ProjectRepository interface {
	Create(ctx context.Context, project *models.Project) error
	Get(ctx context.Context, id uuid.UUID) (*models.Project, error)
	Delete(ctx context.Context, id uuid.UUID) error
	AddLabel(ctx context.Context, id uuid.UUID, label string) ([]string, error)
	RemoveLabel(ctx context.Context, id uuid.UUID, label string) ([]string, error)
}

type projectRepository struct {
	db *database.DB
}

// NewProjectRepository creates a new project repository.
func NewProjectRepository(db *database.DB) ProjectRepository {
	return &projectRepository{db: db}
}

var _ ProjectRepository = (*projectRepository)(nil)

// labels are stored as a comma-separated list; labels themselves cannot
// contain commas (validated at the API layer).
func joinLabels(labels []string) string {
	return strings.Join(labels, ",")
}

func splitLabels(joined string) []string {
	if joined == "" {
		return []string{}
	}
	return strings.Split(joined, ",")
}

func (r *projectRepository) Create(ctx context.Context, project *models.Project) error {
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	now := time.Now()
	project.CreatedAt = now
	project.UpdatedAt = now

	fields, err := json.Marshal(project.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	query := `
		INSERT INTO projects (id, user_id, class_id, project_type, name, language, labels, fields, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.db.Exec(ctx, query,
		project.ID,
		project.UserID,
		project.ClassID,
		project.Type,
		project.Name,
		project.Language,
		joinLabels(project.Labels),
		fields,
		project.CreatedAt,
		project.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (r *projectRepository) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	query := `
		SELECT id, user_id, class_id, project_type, name, language, labels, fields, created_at, updated_at
		FROM projects
		WHERE id = $1`

	var project models.Project
	var labels string
	var fields []byte

	err := r.db.QueryRow(ctx, query, id).Scan(
		&project.ID,
		&project.UserID,
		&project.ClassID,
		&project.Type,
		&project.Name,
		&project.Language,
		&labels,
		&fields,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	project.Labels = splitLabels(labels)
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &project.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
		}
	}
	return &project, nil
}

// Delete removes a project by ID.
// Training data, classifiers and scratch keys are deleted via CASCADE.
func (r *projectRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrProjectNotFound
	}
	return nil
}

func (r *projectRepository) AddLabel(ctx context.Context, id uuid.UUID, label string) ([]string, error) {
	project, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if project.HasLabel(label) {
		return project.Labels, nil
	}

	labels := append(project.Labels, label)
	if err := r.setLabels(ctx, id, labels); err != nil {
		return nil, err
	}
	return labels, nil
}

func (r *projectRepository) RemoveLabel(ctx context.Context, id uuid.UUID, label string) ([]string, error) {
	project, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(project.Labels))
	for _, l := range project.Labels {
		if l != label {
			labels = append(labels, l)
		}
	}
	if err := r.setLabels(ctx, id, labels); err != nil {
		return nil, err
	}
	return labels, nil
}

func (r *projectRepository) setLabels(ctx context.Context, id uuid.UUID, labels []string) error {
	result, err := r.db.Exec(ctx,
		`UPDATE projects SET labels = $2, updated_at = now() WHERE id = $1`,
		id, joinLabels(labels))
	if err != nil {
		return fmt.Errorf("failed to update project labels: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrProjectNotFound
	}
	return nil
}
