// Package models contains domain types for classml-engine.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ProjectType identifies what kind of data a project classifies.
type ProjectType string

const (
	ProjectTypeText    ProjectType = "text"
	ProjectTypeNumbers ProjectType = "numbers"
	ProjectTypeImages  ProjectType = "images"
)

// ValidProjectType reports whether t is a recognised project type.
func ValidProjectType(t ProjectType) bool {
	switch t {
	case ProjectTypeText, ProjectTypeNumbers, ProjectTypeImages:
		return true
	}
	return false
}

// NumberFieldType describes how a single field of a numbers project is interpreted.
type NumberFieldType string

const (
	FieldTypeNumber      NumberFieldType = "number"
	FieldTypeMultichoice NumberFieldType = "multichoice"
)

// NumberField is one input field of a numbers project. Multichoice fields
// are submitted to the classifier as the index of the chosen value.
type NumberField struct {
	Name    string          `json:"name"`
	Type    NumberFieldType `json:"type"`
	Choices []string        `json:"choices,omitempty"`
}

// Project is a student classification project, owned by a user within a class.
type Project struct {
	ID       uuid.UUID     `json:"id"`
	UserID   string        `json:"userid"`
	ClassID  string        `json:"classid"`
	Type     ProjectType   `json:"type"`
	Name     string        `json:"name"`
	Language string        `json:"language,omitempty"`
	Labels   []string      `json:"labels"`
	Fields   []NumberField `json:"fields,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ServiceType returns the external training service used for projects
// of this type.
func (p *Project) ServiceType() ServiceType {
	switch p.Type {
	case ProjectTypeText:
		return ServiceConversation
	case ProjectTypeImages:
		return ServiceVisualRecognition
	case ProjectTypeNumbers:
		return ServiceNumbers
	}
	return ""
}

// HasLabel reports whether label is one of the project's declared labels.
func (p *Project) HasLabel(label string) bool {
	for _, l := range p.Labels {
		if l == label {
			return true
		}
	}
	return false
}
