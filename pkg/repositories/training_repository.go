package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/classml-io/classml-engine/pkg/apperrors"
	"github.com/classml-io/classml-engine/pkg/database"
	"github.com/classml-io/classml-engine/pkg/models"
)

// TrainingRepository defines data access for labelled training examples.
type TrainingRepository interface {
	// CountByLabel returns, for each label, how many examples the project
	// has for the given data type.
	CountByLabel(ctx context.Context, projectType models.ProjectType, projectID uuid.UUID) (map[string]int, error)

	// GetTextsByLabel returns distinct training texts for one label.
	GetTextsByLabel(ctx context.Context, projectID uuid.UUID, label string, paging models.Paging) ([]string, error)

	// GetNumbersByLabel returns numeric training rows for one label.
	GetNumbersByLabel(ctx context.Context, projectID uuid.UUID, label string, paging models.Paging) ([]*models.NumberTraining, error)

	// GetImagesByLabel returns training image URLs for one label.
	GetImagesByLabel(ctx context.Context, projectID uuid.UUID, label string, paging models.Paging) ([]string, error)

	StoreText(ctx context.Context, item *models.TextTraining) error
	StoreNumbers(ctx context.Context, item *models.NumberTraining) error
	StoreImage(ctx context.Context, item *models.ImageTraining) error

	// DeleteByLabel removes all examples with the given label.
	DeleteByLabel(ctx context.Context, projectType models.ProjectType, projectID uuid.UUID, label string) error
}

type trainingRepository struct {
	db *database.DB
}

// NewTrainingRepository creates a new training data repository.
func NewTrainingRepository(db *database.DB) TrainingRepository {
	return &trainingRepository{db: db}
}

var _ TrainingRepository = (*trainingRepository)(nil)

func trainingTable(projectType models.ProjectType) (string, error) {
	switch projectType {
	case models.ProjectTypeText:
		return "training_text", nil
	case models.ProjectTypeNumbers:
		return "training_numbers", nil
	case models.ProjectTypeImages:
		return "training_images", nil
	}
	return "", fmt.Errorf("unknown training type: %s", projectType)
}

func (r *trainingRepository) CountByLabel(ctx context.Context, projectType models.ProjectType, projectID uuid.UUID) (map[string]int, error) {
	table, err := trainingTable(projectType)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT label, COUNT(*)
		FROM %s
		WHERE project_id = $1 AND label IS NOT NULL
		GROUP BY label`, table)

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to count training by label: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var label string
		var count int
		if err := rows.Scan(&label, &count); err != nil {
			return nil, fmt.Errorf("failed to scan training count: %w", err)
		}
		counts[label] = count
	}
	return counts, rows.Err()
}

func (r *trainingRepository) GetTextsByLabel(ctx context.Context, projectID uuid.UUID, label string, paging models.Paging) ([]string, error) {
	query := `
		SELECT DISTINCT text_data
		FROM training_text
		WHERE project_id = $1 AND label = $2
		OFFSET $3 LIMIT $4`

	rows, err := r.db.Query(ctx, query, projectID, label, paging.Start, paging.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get training texts: %w", err)
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("failed to scan training text: %w", err)
		}
		texts = append(texts, text)
	}
	return texts, rows.Err()
}

func (r *trainingRepository) GetNumbersByLabel(ctx context.Context, projectID uuid.UUID, label string, paging models.Paging) ([]*models.NumberTraining, error) {
	query := `
		SELECT id, project_id, label, number_data
		FROM training_numbers
		WHERE project_id = $1 AND label = $2
		OFFSET $3 LIMIT $4`

	rows, err := r.db.Query(ctx, query, projectID, label, paging.Start, paging.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get number training: %w", err)
	}
	defer rows.Close()

	var items []*models.NumberTraining
	for rows.Next() {
		var item models.NumberTraining
		var data []byte
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Label, &data); err != nil {
			return nil, fmt.Errorf("failed to scan number training: %w", err)
		}
		if err := json.Unmarshal(data, &item.Numbers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal number training: %w", err)
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

func (r *trainingRepository) GetImagesByLabel(ctx context.Context, projectID uuid.UUID, label string, paging models.Paging) ([]string, error) {
	query := `
		SELECT image_url
		FROM training_images
		WHERE project_id = $1 AND label = $2
		OFFSET $3 LIMIT $4`

	rows, err := r.db.Query(ctx, query, projectID, label, paging.Start, paging.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get image training: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("failed to scan image training: %w", err)
		}
		urls = append(urls, url)
	}
	return urls, rows.Err()
}

func (r *trainingRepository) StoreText(ctx context.Context, item *models.TextTraining) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO training_text (id, project_id, label, text_data) VALUES ($1, $2, $3, $4)`,
		item.ID, item.ProjectID, item.Label, item.Text)
	if err != nil {
		return fmt.Errorf("failed to store text training: %w", err)
	}
	return nil
}

func (r *trainingRepository) StoreNumbers(ctx context.Context, item *models.NumberTraining) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	data, err := json.Marshal(item.Numbers)
	if err != nil {
		return fmt.Errorf("failed to marshal number training: %w", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO training_numbers (id, project_id, label, number_data) VALUES ($1, $2, $3, $4)`,
		item.ID, item.ProjectID, item.Label, data)
	if err != nil {
		return fmt.Errorf("failed to store number training: %w", err)
	}
	return nil
}

func (r *trainingRepository) StoreImage(ctx context.Context, item *models.ImageTraining) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO training_images (id, project_id, label, image_url) VALUES ($1, $2, $3, $4)`,
		item.ID, item.ProjectID, item.Label, item.ImageURL)
	if err != nil {
		return fmt.Errorf("failed to store image training: %w", err)
	}
	return nil
}

func (r *trainingRepository) DeleteByLabel(ctx context.Context, projectType models.ProjectType, projectID uuid.UUID, label string) error {
	table, err := trainingTable(projectType)
	if err != nil {
		return err
	}

	result, err := r.db.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE project_id = $1 AND label = $2`, table),
		projectID, label)
	if err != nil {
		return fmt.Errorf("failed to delete training by label: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
