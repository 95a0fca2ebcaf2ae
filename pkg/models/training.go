package models

import (
	"time"

	"github.com/google/uuid"
)

// TextTraining is a single labelled text example.
type TextTraining struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"projectid"`
	Label     string    `json:"label,omitempty"`
	Text      string    `json:"textdata"`
}

// NumberTraining is a single labelled set of numeric field values.
type NumberTraining struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"projectid"`
	Label     string    `json:"label,omitempty"`
	Numbers   []float64 `json:"numberdata"`
}

// ImageTraining is a single labelled training image, stored by URL.
type ImageTraining struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"projectid"`
	Label     string    `json:"label,omitempty"`
	ImageURL  string    `json:"imageurl"`
}

// Classification is one entry in the ranked output of a classify request.
// Random is true when the label was chosen by random fallback because the
// project has no trained model (or the model returned nothing useful).
type Classification struct {
	ClassName           string    `json:"class_name"`
	Confidence          int       `json:"confidence"`
	Random              bool      `json:"random,omitempty"`
	ClassifierTimestamp time.Time `json:"classifierTimestamp"`
}

// Paging bounds a training-data query.
type Paging struct {
	Start int
	Limit int
}
