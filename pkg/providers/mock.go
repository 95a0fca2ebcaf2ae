package providers

import (
	"context"

	"github.com/classml-io/classml-engine/pkg/models"
)

// MockProvider is a configurable mock for testing training orchestration.
// Set the function fields to control behavior in tests.
type MockProvider struct {
	// Service is returned by ServiceType. Defaults to ServiceConversation.
	Service models.ServiceType

	// CreateFunc is called when Create is invoked.
	// If nil, returns a minimal RemoteModel and nil error.
	CreateFunc func(ctx context.Context, creds *models.Credentials, spec *TrainingSpec) (*RemoteModel, error)

	// UpdateFunc is called when Update is invoked.
	UpdateFunc func(ctx context.Context, creds *models.Credentials, remoteID string, spec *TrainingSpec) (*RemoteModel, error)

	// GetStatusFunc is called when GetStatus is invoked.
	GetStatusFunc func(ctx context.Context, creds *models.Credentials, remoteID string) (*RemoteModel, error)

	// ClassifyFunc is called when Classify is invoked.
	ClassifyFunc func(ctx context.Context, creds *models.Credentials, remoteID string, input ClassifyInput) ([]RankedLabel, error)

	// DeleteFunc is called when Delete is invoked.
	DeleteFunc func(ctx context.Context, creds *models.Credentials, remoteID string) error

	// Call tracking for verification.
	CreateCalls   int
	UpdateCalls   int
	StatusCalls   int
	ClassifyCalls int
	DeleteCalls   int

	// TriedCredentials records the credential ids passed to Create, in order.
	TriedCredentials []string
}

var _ TrainingProvider = (*MockProvider)(nil)

// ServiceType implements TrainingProvider.
func (m *MockProvider) ServiceType() models.ServiceType {
	if m.Service == "" {
		return models.ServiceConversation
	}
	return m.Service
}

// Create implements TrainingProvider.
func (m *MockProvider) Create(ctx context.Context, creds *models.Credentials, spec *TrainingSpec) (*RemoteModel, error) {
	m.CreateCalls++
	m.TriedCredentials = append(m.TriedCredentials, creds.ID.String())
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, creds, spec)
	}
	return &RemoteModel{ID: "mock-model", Status: models.StatusTraining}, nil
}

// Update implements TrainingProvider.
func (m *MockProvider) Update(ctx context.Context, creds *models.Credentials, remoteID string, spec *TrainingSpec) (*RemoteModel, error) {
	m.UpdateCalls++
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, creds, remoteID, spec)
	}
	return &RemoteModel{ID: remoteID, Status: models.StatusTraining}, nil
}

// GetStatus implements TrainingProvider.
func (m *MockProvider) GetStatus(ctx context.Context, creds *models.Credentials, remoteID string) (*RemoteModel, error) {
	m.StatusCalls++
	if m.GetStatusFunc != nil {
		return m.GetStatusFunc(ctx, creds, remoteID)
	}
	return &RemoteModel{ID: remoteID, Status: models.StatusAvailable}, nil
}

// Classify implements TrainingProvider.
func (m *MockProvider) Classify(ctx context.Context, creds *models.Credentials, remoteID string, input ClassifyInput) ([]RankedLabel, error) {
	m.ClassifyCalls++
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, creds, remoteID, input)
	}
	return nil, nil
}

// Delete implements TrainingProvider.
func (m *MockProvider) Delete(ctx context.Context, creds *models.Credentials, remoteID string) error {
	m.DeleteCalls++
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, creds, remoteID)
	}
	return nil
}
