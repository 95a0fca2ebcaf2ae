package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/classml-io/classml-engine/pkg/apperrors"
	"github.com/classml-io/classml-engine/pkg/database"
	"github.com/classml-io/classml-engine/pkg/models"
)

// ScratchKeyRepository defines data access for scratch keys.
type ScratchKeyRepository interface {
	// Get fetches a key by id.
	Get(ctx context.Context, id uuid.UUID) (*models.ScratchKey, error)

	// GetForProject fetches the key for a project, if one exists.
	GetForProject(ctx context.Context, projectID uuid.UUID) (*models.ScratchKey, error)

	// StoreOrUpdate records that a project's model was trained: the key is
	// created if absent, and updated in place with the remote model id and
	// a copy of the credentials needed to call the service directly.
	StoreOrUpdate(ctx context.Context, project *models.Project, creds *models.Credentials, classifierID string, timestamp time.Time) (*models.ScratchKey, error)

	// UpdateTimestamp refreshes the key's updated time after a retrain.
	UpdateTimestamp(ctx context.Context, projectID uuid.UUID, timestamp time.Time) error

	// ResetForClassifier clears the classifier id and credentials of any
	// key pointing at the given remote model, returning classification for
	// those projects to random fallback.
	ResetForClassifier(ctx context.Context, classifierID string, projectType models.ProjectType) error

	// Create stores a fresh untrained key for a project.
	Create(ctx context.Context, project *models.Project) (*models.ScratchKey, error)

	// Delete removes a key.
	Delete(ctx context.Context, id uuid.UUID) error
}

type scratchKeyRepository struct {
	db *database.DB
}

// NewScratchKeyRepository creates a new scratch key repository.
func NewScratchKeyRepository(db *database.DB) ScratchKeyRepository {
	return &scratchKeyRepository{db: db}
}

var _ ScratchKeyRepository = (*scratchKeyRepository)(nil)

func (r *scratchKeyRepository) Get(ctx context.Context, id uuid.UUID) (*models.ScratchKey, error) {
	query := `
		SELECT id, project_id, name, project_type, classifier_id,
		       service_url, service_username, service_password, updated
		FROM scratch_keys
		WHERE id = $1`
	return r.scanKey(r.db.QueryRow(ctx, query, id))
}

func (r *scratchKeyRepository) GetForProject(ctx context.Context, projectID uuid.UUID) (*models.ScratchKey, error) {
	query := `
		SELECT id, project_id, name, project_type, classifier_id,
		       service_url, service_username, service_password, updated
		FROM scratch_keys
		WHERE project_id = $1`
	return r.scanKey(r.db.QueryRow(ctx, query, projectID))
}

func (r *scratchKeyRepository) scanKey(row pgx.Row) (*models.ScratchKey, error) {
	var key models.ScratchKey
	var classifierID, serviceURL, serviceUsername, servicePassword *string

	err := row.Scan(&key.ID, &key.ProjectID, &key.Name, &key.Type, &classifierID,
		&serviceURL, &serviceUsername, &servicePassword, &key.Updated)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get scratch key: %w", err)
	}

	if classifierID != nil {
		key.ClassifierID = *classifierID
	}
	if serviceURL != nil && serviceUsername != nil && servicePassword != nil {
		key.Credentials = &models.Credentials{
			URL:      *serviceURL,
			Username: *serviceUsername,
			Password: *servicePassword,
		}
	}
	return &key, nil
}

func (r *scratchKeyRepository) StoreOrUpdate(ctx context.Context, project *models.Project, creds *models.Credentials, classifierID string, timestamp time.Time) (*models.ScratchKey, error) {
	id := uuid.New()
	query := `
		INSERT INTO scratch_keys (id, project_id, name, project_type, classifier_id,
			service_url, service_username, service_password, updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (project_id) DO UPDATE
		SET classifier_id = EXCLUDED.classifier_id,
		    service_url = EXCLUDED.service_url,
		    service_username = EXCLUDED.service_username,
		    service_password = EXCLUDED.service_password,
		    updated = EXCLUDED.updated
		RETURNING id`

	var keyID uuid.UUID
	err := r.db.QueryRow(ctx, query,
		id, project.ID, project.Name, project.Type, classifierID,
		creds.URL, creds.Username, creds.Password, timestamp,
	).Scan(&keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to store scratch key: %w", err)
	}

	return &models.ScratchKey{
		ID:           keyID,
		ProjectID:    project.ID,
		Name:         project.Name,
		Type:         project.Type,
		ClassifierID: classifierID,
		Credentials:  creds,
		Updated:      timestamp,
	}, nil
}

func (r *scratchKeyRepository) UpdateTimestamp(ctx context.Context, projectID uuid.UUID, timestamp time.Time) error {
	result, err := r.db.Exec(ctx,
		`UPDATE scratch_keys SET updated = $2 WHERE project_id = $1`,
		projectID, timestamp)
	if err != nil {
		return fmt.Errorf("failed to update scratch key timestamp: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *scratchKeyRepository) ResetForClassifier(ctx context.Context, classifierID string, projectType models.ProjectType) error {
	query := `
		UPDATE scratch_keys
		SET classifier_id = NULL,
		    service_url = NULL,
		    service_username = NULL,
		    service_password = NULL,
		    updated = now()
		WHERE classifier_id = $1 AND project_type = $2`

	_, err := r.db.Exec(ctx, query, classifierID, projectType)
	if err != nil {
		return fmt.Errorf("failed to reset scratch key: %w", err)
	}
	return nil
}

func (r *scratchKeyRepository) Create(ctx context.Context, project *models.Project) (*models.ScratchKey, error) {
	id := uuid.New()
	now := time.Now()

	query := `
		INSERT INTO scratch_keys (id, project_id, name, project_type, updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`

	var keyID uuid.UUID
	if err := r.db.QueryRow(ctx, query, id, project.ID, project.Name, project.Type, now).Scan(&keyID); err != nil {
		return nil, fmt.Errorf("failed to create scratch key: %w", err)
	}

	return &models.ScratchKey{
		ID:        keyID,
		ProjectID: project.ID,
		Name:      project.Name,
		Type:      project.Type,
		Updated:   now,
	}, nil
}

func (r *scratchKeyRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM scratch_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete scratch key: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
