package services

import (
	"errors"
	"fmt"
)

// TrainingErrorKind classifies a training failure for callers.
type TrainingErrorKind string

const (
	// TrainingInsufficientCapacity means no credential in the candidate set
	// had capacity for another model.
	TrainingInsufficientCapacity TrainingErrorKind = "insufficient_capacity"
	// TrainingRateLimited means the service throttled the request.
	TrainingRateLimited TrainingErrorKind = "rate_limited"
	// TrainingModelNotFound means the remote model vanished out-of-band.
	TrainingModelNotFound TrainingErrorKind = "model_not_found"
	// TrainingUnauthorized means the credentials were rejected by the service.
	TrainingUnauthorized TrainingErrorKind = "unauthorized"
	// TrainingUnknown covers unexpected failures.
	TrainingUnknown TrainingErrorKind = "unknown"
)

// User-facing messages are pre-composed here so raw provider error bodies
// never reach a student's browser. The technical detail is logged only.
const (
	msgPoolExhausted = "Your class is sharing access to the machine learning service with many other classes. " +
		"There is no more room for new models at the moment. Please try again later."
	msgInsufficientOwnKeys = "Your class has reached the maximum number of machine learning models " +
		"allowed by its API keys. Delete an old model, or add more API keys, and try again."
	msgRateLimited = "The machine learning service is very busy at the moment. " +
		"Please wait a little while and try again."
	msgModelNotFound = "Your machine learning model could not be found on the training service. " +
		"Please train a new model to continue."
	msgUnauthorized = "The API keys for your class were rejected by the machine learning service. " +
		"Please ask your teacher to check that the credentials are still valid."
	msgTrainingUnknown = "Sorry, something went wrong while training your model. Please try again."
)

// TrainingError is the failure type surfaced by the training orchestrator.
// UserMessage is safe to return to clients; the underlying cause is for logs.
type TrainingError struct {
	Kind        TrainingErrorKind
	UserMessage string
	Cause       error
}

func (e *TrainingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("training failed (%s): %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("training failed (%s)", e.Kind)
}

func (e *TrainingError) Unwrap() error {
	return e.Cause
}

func newTrainingError(kind TrainingErrorKind, userMessage string, cause error) *TrainingError {
	return &TrainingError{Kind: kind, UserMessage: userMessage, Cause: cause}
}

// TrainingErrorKindOf extracts the kind from an error, returning
// TrainingUnknown for errors that are not TrainingErrors.
func TrainingErrorKindOf(err error) TrainingErrorKind {
	var te *TrainingError
	if errors.As(err, &te) {
		return te.Kind
	}
	return TrainingUnknown
}
