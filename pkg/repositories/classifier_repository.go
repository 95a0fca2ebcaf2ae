package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/classml-io/classml-engine/pkg/apperrors"
	"github.com/classml-io/classml-engine/pkg/database"
	"github.com/classml-io/classml-engine/pkg/models"
)

// ClassifierRepository defines data access for trained classifier records.
type ClassifierRepository interface {
	// GetForProject returns the classifiers recorded for a project,
	// oldest first.
	GetForProject(ctx context.Context, projectID uuid.UUID) ([]*models.Classifier, error)

	// Upsert stores a classifier, replacing any existing record for the
	// same (project, service type). The single-model invariant is enforced
	// here by the unique constraint rather than by locking in the caller.
	Upsert(ctx context.Context, classifier *models.Classifier) error

	// UpdateExpiry refreshes the updated/expiry/status columns after a retrain.
	UpdateExpiry(ctx context.Context, classifier *models.Classifier) error

	// Delete removes a classifier record.
	Delete(ctx context.Context, id uuid.UUID) error

	// GetExpired returns all classifiers for a service past their expiry.
	GetExpired(ctx context.Context, service models.ServiceType) ([]*models.Classifier, error)
}

type classifierRepository struct {
	db *database.DB
}

// NewClassifierRepository creates a new classifier repository.
func NewClassifierRepository(db *database.DB) ClassifierRepository {
	return &classifierRepository{db: db}
}

var _ ClassifierRepository = (*classifierRepository)(nil)

const classifierColumns = `id, project_id, credentials_id, service_type, remote_id,
	name, language, url, created, updated, expiry, status`

func (r *classifierRepository) GetForProject(ctx context.Context, projectID uuid.UUID) ([]*models.Classifier, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM classifiers
		WHERE project_id = $1
		ORDER BY created`, classifierColumns)

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get classifiers: %w", err)
	}
	defer rows.Close()

	var classifiers []*models.Classifier
	for rows.Next() {
		var c models.Classifier
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.CredentialsID, &c.ServiceType, &c.RemoteID,
			&c.Name, &c.Language, &c.URL, &c.Created, &c.Updated, &c.Expiry, &c.Status); err != nil {
			return nil, fmt.Errorf("failed to scan classifier: %w", err)
		}
		classifiers = append(classifiers, &c)
	}
	return classifiers, rows.Err()
}

func (r *classifierRepository) Upsert(ctx context.Context, classifier *models.Classifier) error {
	if classifier.ID == uuid.Nil {
		classifier.ID = uuid.New()
	}
	now := time.Now()
	if classifier.Created.IsZero() {
		classifier.Created = now
	}
	if classifier.Updated.IsZero() {
		classifier.Updated = now
	}

	query := `
		INSERT INTO classifiers (id, project_id, credentials_id, service_type, remote_id,
			name, language, url, created, updated, expiry, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (project_id, service_type) DO UPDATE
		SET credentials_id = EXCLUDED.credentials_id,
		    remote_id = EXCLUDED.remote_id,
		    name = EXCLUDED.name,
		    language = EXCLUDED.language,
		    url = EXCLUDED.url,
		    updated = EXCLUDED.updated,
		    expiry = EXCLUDED.expiry,
		    status = EXCLUDED.status`

	_, err := r.db.Exec(ctx, query,
		classifier.ID,
		classifier.ProjectID,
		classifier.CredentialsID,
		classifier.ServiceType,
		classifier.RemoteID,
		classifier.Name,
		classifier.Language,
		classifier.URL,
		classifier.Created,
		classifier.Updated,
		classifier.Expiry,
		classifier.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert classifier: %w", err)
	}
	return nil
}

func (r *classifierRepository) UpdateExpiry(ctx context.Context, classifier *models.Classifier) error {
	query := `
		UPDATE classifiers
		SET updated = $2, expiry = $3, status = $4
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, classifier.ID, classifier.Updated, classifier.Expiry, classifier.Status)
	if err != nil {
		return fmt.Errorf("failed to update classifier expiry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *classifierRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM classifiers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete classifier: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *classifierRepository) GetExpired(ctx context.Context, service models.ServiceType) ([]*models.Classifier, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM classifiers
		WHERE service_type = $1 AND expiry < now()
		ORDER BY expiry`, classifierColumns)

	rows, err := r.db.Query(ctx, query, service)
	if err != nil {
		return nil, fmt.Errorf("failed to get expired classifiers: %w", err)
	}
	defer rows.Close()

	var classifiers []*models.Classifier
	for rows.Next() {
		var c models.Classifier
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.CredentialsID, &c.ServiceType, &c.RemoteID,
			&c.Name, &c.Language, &c.URL, &c.Created, &c.Updated, &c.Expiry, &c.Status); err != nil {
			return nil, fmt.Errorf("failed to scan classifier: %w", err)
		}
		classifiers = append(classifiers, &c)
	}
	return classifiers, rows.Err()
}
