package models

import (
	"time"

	"github.com/google/uuid"
)

// Classifier statuses reported by the training services, normalised.
const (
	StatusTraining    = "Training"
	StatusAvailable   = "Available"
	StatusFailed      = "Failed"
	StatusNonExistent = "Non Existent"
	StatusUnavailable = "Unavailable"
)

// Classifier is the local record of a model trained on an external service.
//
// At most one classifier exists per (project, service type); retraining
// updates the record in place rather than creating a second one. The row is
// removed either by explicit user action or by the expiry sweeper once
// Expiry has passed.
type Classifier struct {
	ID            uuid.UUID   `json:"id"`
	ProjectID     uuid.UUID   `json:"projectid"`
	CredentialsID uuid.UUID   `json:"credentialsid"`
	ServiceType   ServiceType `json:"servicetype"`

	// RemoteID is the identifier of the model on the external service.
	RemoteID string `json:"classifierid"`

	Name     string    `json:"name"`
	Language string    `json:"language,omitempty"`
	URL      string    `json:"url"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
	Expiry   time.Time `json:"expiry"`
	Status   string    `json:"status"`
}

// Expired reports whether the classifier is past its expiry deadline.
func (c *Classifier) Expired(now time.Time) bool {
	return c.Expiry.Before(now)
}
