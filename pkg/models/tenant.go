package models

// TenantType determines where a class gets its training credentials from.
type TenantType string

const (
	// TenantManagedPool classes share the operator-provisioned credential pool.
	TenantManagedPool TenantType = "managedpool"
	// TenantOwnCredentials classes bring their own API keys.
	TenantOwnCredentials TenantType = "unmanaged"
)

// ClassTenant is the policy record for a class. It is read-only to the
// training orchestrator, which uses it to choose the credentials source and
// to compute model expiry deadlines.
type ClassTenant struct {
	ID                 string        `json:"id"`
	TenantType         TenantType    `json:"tenanttype"`
	SupportedTypes     []ProjectType `json:"supported_types"`
	MaxUsers           int           `json:"maxusers"`
	MaxProjectsPerUser int           `json:"maxprojectsperuser"`

	// Expiry horizons, in hours, applied from the model's last update.
	TextClassifierExpiry  int `json:"textclassifiersexpiry"`
	ImageClassifierExpiry int `json:"imageclassifiersexpiry"`
}

// ClassifierExpiryHours returns the expiry horizon for the given service.
func (t *ClassTenant) ClassifierExpiryHours(service ServiceType) int {
	if service == ServiceVisualRecognition {
		return t.ImageClassifierExpiry
	}
	return t.TextClassifierExpiry
}

// DefaultClassTenant is the policy applied to classes without an explicit
// tenant record.
func DefaultClassTenant(classID string) *ClassTenant {
	return &ClassTenant{
		ID:                    classID,
		TenantType:            TenantManagedPool,
		SupportedTypes:        []ProjectType{ProjectTypeText, ProjectTypeNumbers, ProjectTypeImages},
		MaxUsers:              30,
		MaxProjectsPerUser:    3,
		TextClassifierExpiry:  24,
		ImageClassifierExpiry: 24,
	}
}
