package models

import (
	"time"

	"github.com/google/uuid"
)

// ServiceType identifies an external ML training service.
type ServiceType string

const (
	// ServiceConversation is the conversational-intent service used for text projects.
	ServiceConversation ServiceType = "conv"
	// ServiceVisualRecognition is the image-classification service used for image projects.
	ServiceVisualRecognition ServiceType = "visrec"
	// ServiceNumbers is the companion numeric classifier service.
	ServiceNumbers ServiceType = "num"
)

// Credentials identify an API key for an external training service.
//
// Tenant-owned credentials belong to a single class (ClassID set, Pooled
// false) and are provided by the class admin. Pooled credentials are shared
// across many classes and carry a LastFail timestamp that acts as a cheap
// circuit breaker: a key that failed recently is deprioritised when
// selecting candidates for a training request.
type Credentials struct {
	ID          uuid.UUID   `json:"id"`
	ServiceType ServiceType `json:"servicetype"`
	URL         string      `json:"url"`
	Username    string      `json:"-"`
	Password    string      `json:"-"`

	// ClassID is set for tenant-owned credentials only.
	ClassID string `json:"classid,omitempty"`

	// Pooled is true for credentials shared across classes.
	Pooled bool `json:"pooled"`

	// LastFail is only meaningful for pooled credentials. Capacity and
	// rate-limit rejections push it into the future; freeing a model pulls
	// it back towards the past.
	LastFail time.Time `json:"-"`
}

// CredentialsScope selects which credentials table a lookup runs against.
type CredentialsScope string

const (
	ScopeClass CredentialsScope = "class"
	ScopePool  CredentialsScope = "pool"
)
