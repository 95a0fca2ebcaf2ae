package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/classml-io/classml-engine/pkg/models"
	"github.com/classml-io/classml-engine/pkg/services"
)

// mockScratchService is a configurable stub for handler tests.
type mockScratchService struct {
	key     *models.ScratchKey
	project *models.Project
	ranking []models.Classification
	status  *services.ScratchStatus
	err     error

	classifyCalls []services.ClassifyRequest
	trainCalls    []services.TrainRequest
}

var _ services.ScratchService = (*mockScratchService)(nil)

func (m *mockScratchService) GetOrCreateKey(ctx context.Context, project *models.Project) (*models.ScratchKey, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.key, nil
}

func (m *mockScratchService) Classify(ctx context.Context, keyID uuid.UUID, req services.ClassifyRequest) ([]models.Classification, error) {
	m.classifyCalls = append(m.classifyCalls, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.ranking, nil
}

func (m *mockScratchService) Train(ctx context.Context, keyID uuid.UUID, req services.TrainRequest) error {
	m.trainCalls = append(m.trainCalls, req)
	return m.err
}

func (m *mockScratchService) Status(ctx context.Context, keyID uuid.UUID) (*services.ScratchStatus, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.status, nil
}

func (m *mockScratchService) ResolveProject(ctx context.Context, keyID uuid.UUID) (*models.Project, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.project, nil
}

type mockTrainingService struct {
	classifier *models.Classifier
	err        error
	calls      int
}

var _ services.TrainingService = (*mockTrainingService)(nil)

func (m *mockTrainingService) TrainClassifier(ctx context.Context, project *models.Project) (*models.Classifier, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.classifier, nil
}

type mockProjectService struct {
	project *models.Project
	labels  []string
	err     error

	deleted []uuid.UUID
}

var _ services.ProjectService = (*mockProjectService)(nil)

func (m *mockProjectService) Create(ctx context.Context, project *models.Project) error {
	if m.err != nil {
		return m.err
	}
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	return nil
}

func (m *mockProjectService) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.project, nil
}

func (m *mockProjectService) Delete(ctx context.Context, id uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockProjectService) AddLabel(ctx context.Context, id uuid.UUID, label string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.labels = append(m.labels, label)
	return m.labels, nil
}

func (m *mockProjectService) RemoveLabel(ctx context.Context, id uuid.UUID, label string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	kept := make([]string, 0, len(m.labels))
	for _, l := range m.labels {
		if l != label {
			kept = append(kept, l)
		}
	}
	m.labels = kept
	return m.labels, nil
}
