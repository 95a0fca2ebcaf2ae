// Package providers contains clients for the external ML training services.
//
// Each supported service is exposed through the same TrainingProvider
// contract so that the training orchestration and credential pool logic can
// be written once and parameterised by service type. Failures are returned
// as classified *Error values; callers switch on the error kind rather than
// on provider-specific response shapes.
package providers

import (
	"context"
	"time"

	"github.com/classml-io/classml-engine/pkg/models"
)

// Intent is one class of a text training submission.
type Intent struct {
	Label    string
	Examples []string
}

// NumberExample is one labelled row of a numeric training submission.
// Fields maps field names to their values (numbers, or the chosen string
// for multichoice fields).
type NumberExample struct {
	Fields map[string]any
	Label  string
}

// TrainingSpec is a normalised training submission. Text projects populate
// Intents; image projects populate ExampleZips (label -> path of a zip of
// training images); numbers projects populate NumberRows.
//
// ProjectID, UserID and ClassID identify the submitting project. The
// numeric service addresses models by that triple instead of assigning a
// service-side identifier.
type TrainingSpec struct {
	Name      string
	Language  string
	ProjectID string
	UserID    string
	ClassID   string

	Intents     []Intent
	ExampleZips map[string]string
	NumberRows  []NumberExample
}

// RemoteModel describes a model as reported by a training service.
type RemoteModel struct {
	ID      string
	Name    string
	Status  string
	Created time.Time
	Updated time.Time
}

// ClassifyInput carries the payload of a classify request. Exactly one of
// the fields is set, matching the provider's service type.
type ClassifyInput struct {
	Text      string
	ImageFile string
	// NumberFields maps field names to values for the numeric service.
	NumberFields map[string]any
}

// RankedLabel is one entry of a provider's classification response.
type RankedLabel struct {
	ClassName  string
	Confidence int
}

// TrainingProvider is the uniform contract over the external ML services.
// All methods honour ctx cancellation and apply the configured request
// timeout. Errors are classified *Error values.
type TrainingProvider interface {
	// ServiceType identifies which service this provider talks to.
	ServiceType() models.ServiceType

	// Create submits training data as a new model.
	Create(ctx context.Context, creds *models.Credentials, spec *TrainingSpec) (*RemoteModel, error)

	// Update retrains an existing model in place.
	Update(ctx context.Context, creds *models.Credentials, remoteID string, spec *TrainingSpec) (*RemoteModel, error)

	// GetStatus fetches the current training status of a model.
	GetStatus(ctx context.Context, creds *models.Credentials, remoteID string) (*RemoteModel, error)

	// Classify runs input against a trained model and returns a ranked list
	// of labels. An empty result is valid and means the model produced no
	// usable prediction.
	Classify(ctx context.Context, creds *models.Credentials, remoteID string, input ClassifyInput) ([]RankedLabel, error)

	// Delete removes a model from the service. Deleting a model that no
	// longer exists is success.
	Delete(ctx context.Context, creds *models.Credentials, remoteID string) error
}
