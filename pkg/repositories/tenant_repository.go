package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/classml-io/classml-engine/pkg/database"
	"github.com/classml-io/classml-engine/pkg/models"
)

// TenantRepository defines data access for class tenant policies.
type TenantRepository interface {
	// GetClassTenant returns the policy for a class. Classes without a
	// stored policy get the default managed-pool policy.
	GetClassTenant(ctx context.Context, classID string) (*models.ClassTenant, error)

	// IsDisruptiveTenant reports whether the class is on the list of
	// tenants excluded from operational notifications.
	IsDisruptiveTenant(ctx context.Context, classID string) (bool, error)

	StoreClassTenant(ctx context.Context, tenant *models.ClassTenant) error
	DeleteClassTenant(ctx context.Context, classID string) error
}

type tenantRepository struct {
	db *database.DB
}

// NewTenantRepository creates a new tenant repository.
func NewTenantRepository(db *database.DB) TenantRepository {
	return &tenantRepository{db: db}
}

var _ TenantRepository = (*tenantRepository)(nil)

func (r *tenantRepository) GetClassTenant(ctx context.Context, classID string) (*models.ClassTenant, error) {
	query := `
		SELECT id, tenant_type, supported_types, max_users, max_projects_per_user,
		       text_classifier_expiry, image_classifier_expiry
		FROM tenants
		WHERE id = $1`

	var tenant models.ClassTenant
	var supported string
	err := r.db.QueryRow(ctx, query, classID).Scan(
		&tenant.ID,
		&tenant.TenantType,
		&supported,
		&tenant.MaxUsers,
		&tenant.MaxProjectsPerUser,
		&tenant.TextClassifierExpiry,
		&tenant.ImageClassifierExpiry,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DefaultClassTenant(classID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get class tenant: %w", err)
	}
	tenant.SupportedTypes = splitProjectTypes(supported)
	return &tenant, nil
}

func splitProjectTypes(joined string) []models.ProjectType {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	types := make([]models.ProjectType, 0, len(parts))
	for _, p := range parts {
		types = append(types, models.ProjectType(strings.TrimSpace(p)))
	}
	return types
}

func joinProjectTypes(types []models.ProjectType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

func (r *tenantRepository) IsDisruptiveTenant(ctx context.Context, classID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM disruptive_tenants WHERE id = $1)`,
		classID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check disruptive tenant: %w", err)
	}
	return exists, nil
}

func (r *tenantRepository) StoreClassTenant(ctx context.Context, tenant *models.ClassTenant) error {
	query := `
		INSERT INTO tenants (id, tenant_type, supported_types, max_users, max_projects_per_user,
		                     text_classifier_expiry, image_classifier_expiry)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			tenant_type = EXCLUDED.tenant_type,
			supported_types = EXCLUDED.supported_types,
			max_users = EXCLUDED.max_users,
			max_projects_per_user = EXCLUDED.max_projects_per_user,
			text_classifier_expiry = EXCLUDED.text_classifier_expiry,
			image_classifier_expiry = EXCLUDED.image_classifier_expiry`

	_, err := r.db.Exec(ctx, query,
		tenant.ID,
		tenant.TenantType,
		joinProjectTypes(tenant.SupportedTypes),
		tenant.MaxUsers,
		tenant.MaxProjectsPerUser,
		tenant.TextClassifierExpiry,
		tenant.ImageClassifierExpiry,
	)
	if err != nil {
		return fmt.Errorf("failed to store class tenant: %w", err)
	}
	return nil
}

func (r *tenantRepository) DeleteClassTenant(ctx context.Context, classID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, classID)
	if err != nil {
		return fmt.Errorf("failed to delete class tenant: %w", err)
	}
	return nil
}
