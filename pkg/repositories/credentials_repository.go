// Package repositories contains the PostgreSQL data access layer.
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

const (
	// poolFailureBackoff is how far a capacity or rate-limit rejection
	// pushes a pooled credential's last_fail into the future. A day plus a
	// little, so a key that keeps failing drops out of rotation for about
	// a day rather than exactly one.
	poolFailureBackoff = 25 * time.Hour

	// poolDeletionCredit is how far deleting a model pulls last_fail back,
	// prioritising reuse of credentials with freshly freed capacity.
	poolDeletionCredit = time.Hour

	// poolBatchLimit caps how many pooled credentials one training request
	// will consider.
	poolBatchLimit = 100
)

// CredentialsRepository defines data access for training service credentials,
// both tenant-owned and pooled.
type CredentialsRepository interface {
	// GetForClass returns the credentials a class owns for a service.
	GetForClass(ctx context.Context, classID string, service models.ServiceType) ([]*models.Credentials, error)

	// GetPoolBatch returns shared pool credentials for a service, ordered
	// by last_fail ascending so the least-recently-failed keys come first.
	GetPoolBatch(ctx context.Context, service models.ServiceType) ([]*models.Credentials, error)

	// GetByID fetches a single credential from the given scope.
	GetByID(ctx context.Context, scope models.CredentialsScope, id uuid.UUID) (*models.Credentials, error)

	// RecordPoolFailure pushes a pooled credential's last_fail forward
	// after a capacity or rate-limit rejection.
	RecordPoolFailure(ctx context.Context, creds *models.Credentials) error

	// RecordPoolModelDeletion pulls a pooled credential's last_fail back
	// after a model using it was deleted, freeing capacity.
	RecordPoolModelDeletion(ctx context.Context, creds *models.Credentials) error

	// Store inserts new credentials (operator/admin provisioning path).
	Store(ctx context.Context, creds *models.Credentials) error

	// Delete removes credentials.
	Delete(ctx context.Context, scope models.CredentialsScope, id uuid.UUID) error
}

type credentialsRepository struct {
	db *database.DB
}

// NewCredentialsRepository creates a new credentials repository.
func NewCredentialsRepository(db *database.DB) CredentialsRepository {
	return &credentialsRepository{db: db}
}

var _ CredentialsRepository = (*credentialsRepository)(nil)

func (r *credentialsRepository) GetForClass(ctx context.Context, classID string, service models.ServiceType) ([]*models.Credentials, error) {
	query := `
		SELECT id, service_type, url, username, password, class_id
		FROM credentials
		WHERE class_id = $1 AND service_type = $2`

	rows, err := r.db.Query(ctx, query, classID, service)
	if err != nil {
		return nil, fmt.Errorf("failed to get class credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.Credentials
	for rows.Next() {
		var c models.Credentials
		if err := rows.Scan(&c.ID, &c.ServiceType, &c.URL, &c.Username, &c.Password, &c.ClassID); err != nil {
			return nil, fmt.Errorf("failed to scan credentials: %w", err)
		}
		creds = append(creds, &c)
	}
	return creds, rows.Err()
}

func (r *credentialsRepository) GetPoolBatch(ctx context.Context, service models.ServiceType) ([]*models.Credentials, error) {
	query := `
		SELECT id, service_type, url, username, password, last_fail
		FROM credentials_pool
		WHERE service_type = $1
		ORDER BY last_fail
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, service, poolBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials pool: %w", err)
	}
	defer rows.Close()

	var creds []*models.Credentials
	for rows.Next() {
		var c models.Credentials
		if err := rows.Scan(&c.ID, &c.ServiceType, &c.URL, &c.Username, &c.Password, &c.LastFail); err != nil {
			return nil, fmt.Errorf("failed to scan pool credentials: %w", err)
		}
		c.Pooled = true
		creds = append(creds, &c)
	}
	return creds, rows.Err()
}

func (r *credentialsRepository) GetByID(ctx context.Context, scope models.CredentialsScope, id uuid.UUID) (*models.Credentials, error) {
	var c models.Credentials
	var err error

	if scope == models.ScopePool {
		query := `
			SELECT id, service_type, url, username, password, last_fail
			FROM credentials_pool
			WHERE id = $1`
		err = r.db.QueryRow(ctx, query, id).Scan(
			&c.ID, &c.ServiceType, &c.URL, &c.Username, &c.Password, &c.LastFail)
		c.Pooled = true
	} else {
		query := `
			SELECT id, service_type, url, username, password, class_id
			FROM credentials
			WHERE id = $1`
		err = r.db.QueryRow(ctx, query, id).Scan(
			&c.ID, &c.ServiceType, &c.URL, &c.Username, &c.Password, &c.ClassID)
	}

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	return &c, nil
}

func (r *credentialsRepository) RecordPoolFailure(ctx context.Context, creds *models.Credentials) error {
	var next time.Time
	if creds.LastFail.IsZero() {
		next = time.Now()
	} else {
		next = creds.LastFail.Add(poolFailureBackoff)
	}
	return r.updatePoolTimestamp(ctx, creds, next)
}

func (r *credentialsRepository) RecordPoolModelDeletion(ctx context.Context, creds *models.Credentials) error {
	var next time.Time
	if creds.LastFail.IsZero() {
		next = time.Now().Add(-poolDeletionCredit)
	} else {
		next = creds.LastFail.Add(-poolDeletionCredit)
	}
	return r.updatePoolTimestamp(ctx, creds, next)
}

// updatePoolTimestamp is last-writer-wins: last_fail is a scheduling
// heuristic, not a lock, so a stale overwrite only affects fairness.
func (r *credentialsRepository) updatePoolTimestamp(ctx context.Context, creds *models.Credentials, lastFail time.Time) error {
	creds.LastFail = lastFail

	query := `UPDATE credentials_pool SET last_fail = $1 WHERE id = $2`
	result, err := r.db.Exec(ctx, query, lastFail, creds.ID)
	if err != nil {
		return fmt.Errorf("failed to update credential failure time: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *credentialsRepository) Store(ctx context.Context, creds *models.Credentials) error {
	if creds.ID == uuid.Nil {
		creds.ID = uuid.New()
	}

	if creds.Pooled {
		query := `
			INSERT INTO credentials_pool (id, service_type, url, username, password, last_fail)
			VALUES ($1, $2, $3, $4, $5, $6)`
		lastFail := creds.LastFail
		if lastFail.IsZero() {
			lastFail = time.Now().Add(-24 * time.Hour)
		}
		_, err := r.db.Exec(ctx, query, creds.ID, creds.ServiceType, creds.URL, creds.Username, creds.Password, lastFail)
		if err != nil {
			return fmt.Errorf("failed to store pool credentials: %w", err)
		}
		return nil
	}

	query := `
		INSERT INTO credentials (id, class_id, service_type, url, username, password)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Exec(ctx, query, creds.ID, creds.ClassID, creds.ServiceType, creds.URL, creds.Username, creds.Password)
	if err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	return nil
}

func (r *credentialsRepository) Delete(ctx context.Context, scope models.CredentialsScope, id uuid.UUID) error {
	table := "credentials"
	if scope == models.ScopePool {
		table = "credentials_pool"
	}

	result, err := r.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", table), id)
	if err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
