package models

import (
	"time"

	"github.com/google/uuid"
)

// ScratchKey is a capability token binding a project to its currently
// trained model. While ClassifierID is empty the project has no trained
// model and classification requests fall back to random label choice.
// Once training succeeds the key is updated in place with the remote model
// id and a copy of the credentials needed to call the service directly.
//
// Exactly one key exists per project; it is invalidated (classifier and
// credentials cleared) when its model is deleted.
type ScratchKey struct {
	ID        uuid.UUID   `json:"id"`
	ProjectID uuid.UUID   `json:"projectid"`
	Name      string      `json:"name"`
	Type      ProjectType `json:"type"`

	// ClassifierID is the remote model id, empty until training succeeds.
	ClassifierID string       `json:"classifierid,omitempty"`
	Credentials  *Credentials `json:"-"`

	Updated time.Time `json:"updated"`
}

// Trained reports whether the key points at a live trained model.
func (k *ScratchKey) Trained() bool {
	return k.ClassifierID != "" && k.Credentials != nil
}
