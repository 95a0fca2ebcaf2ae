package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classml-io/classml-engine/pkg/apperrors"
	"github.com/classml-io/classml-engine/pkg/models"
	"github.com/classml-io/classml-engine/pkg/repositories"
)

// ProjectService manages project lifecycle. Deletion is the interesting
// part: any trained model is removed remotely first so pooled credential
// capacity is freed, then the database cascade takes care of training data
// and scratch keys.
type ProjectService interface {
	Create(ctx context.Context, project *models.Project) error
	Get(ctx context.Context, id uuid.UUID) (*models.Project, error)
	Delete(ctx context.Context, id uuid.UUID) error
	AddLabel(ctx context.Context, id uuid.UUID, label string) ([]string, error)
	RemoveLabel(ctx context.Context, id uuid.UUID, label string) ([]string, error)
}

type projectService struct {
	projects    repositories.ProjectRepository
	classifiers repositories.ClassifierRepository
	training    repositories.TrainingRepository
	expiry      ExpiryService
	logger      *zap.Logger
}

func NewProjectService(
	projects repositories.ProjectRepository,
	classifiers repositories.ClassifierRepository,
	training repositories.TrainingRepository,
	expiry ExpiryService,
	logger *zap.Logger,
) ProjectService {
	return &projectService{
		projects:    projects,
		classifiers: classifiers,
		training:    training,
		expiry:      expiry,
		logger:      logger.Named("project-service"),
	}
}

var _ ProjectService = (*projectService)(nil)

func (s *projectService) Create(ctx context.Context, project *models.Project) error {
	if !models.ValidProjectType(project.Type) {
		return fmt.Errorf("%w: unknown project type %q", apperrors.ErrInvalidData, project.Type)
	}
	if strings.TrimSpace(project.Name) == "" {
		return fmt.Errorf("%w: project name is required", apperrors.ErrMissingData)
	}
	if project.Type == models.ProjectTypeNumbers && len(project.Fields) == 0 {
		return fmt.Errorf("%w: numbers projects need at least one field", apperrors.ErrMissingData)
	}
	return s.projects.Create(ctx, project)
}

func (s *projectService) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	return s.projects.Get(ctx, id)
}

func (s *projectService) Delete(ctx context.Context, id uuid.UUID) error {
	classifiers, err := s.classifiers.GetForProject(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to look up project models: %w", err)
	}
	for _, classifier := range classifiers {
		if err := s.expiry.DeleteClassifier(ctx, classifier); err != nil {
			// The local record survives for the sweeper to retry, but the
			// project itself still goes away.
			s.logger.Error("Failed to delete model during project deletion",
				zap.String("project_id", id.String()),
				zap.String("classifier_id", classifier.ID.String()),
				zap.Error(err))
		}
	}
	return s.projects.Delete(ctx, id)
}

func (s *projectService) AddLabel(ctx context.Context, id uuid.UUID, label string) ([]string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, fmt.Errorf("%w: label is required", apperrors.ErrMissingData)
	}
	return s.projects.AddLabel(ctx, id, label)
}

func (s *projectService) RemoveLabel(ctx context.Context, id uuid.UUID, label string) ([]string, error) {
	project, err := s.projects.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !project.HasLabel(label) {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidLabel, label)
	}
	if err := s.training.DeleteByLabel(ctx, project.Type, id, label); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to delete training for label: %w", err)
	}
	return s.projects.RemoveLabel(ctx, id, label)
}
