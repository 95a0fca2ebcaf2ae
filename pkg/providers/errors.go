package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a failure from an external training service. The
// training orchestrator uses the kind to decide whether to try the next
// credential in the pool, abort immediately, or clean up local state.
type ErrorKind string

const (
	// KindQuotaExceeded means the credential has no capacity for more models.
	KindQuotaExceeded ErrorKind = "quota_exceeded"
	// KindRateLimited means the service is throttling requests for this credential.
	KindRateLimited ErrorKind = "rate_limited"
	// KindUnauthorized means the credential was rejected outright.
	KindUnauthorized ErrorKind = "unauthorized"
	// KindNotFound means the remote model does not exist.
	KindNotFound ErrorKind = "not_found"
	// KindTooLong means the classify input exceeded the service's size limit.
	KindTooLong ErrorKind = "too_long"
	// KindServiceError means the service reported a 5xx failure.
	KindServiceError ErrorKind = "service_error"
	// KindUnknown covers everything else, including transport errors and
	// timeouts, which cannot safely be blamed on the credential.
	KindUnknown ErrorKind = "unknown"
)

// Error is a classified failure from a training service call.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, string(e.Kind))
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	parts = append(parts, e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a classified provider error.
func NewError(kind ErrorKind, message string, statusCode int, cause error) *Error {
	return &Error{
		Kind:       kind,
		Message:    message,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// KindOf extracts the ErrorKind from an error, defaulting to KindUnknown.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

// Service response fragments that identify capacity and throttling failures.
// The conversational-intent service does not use a dedicated status code for
// quota rejections, so the body has to be inspected.
const (
	msgWorkspaceLimit = "Maximum workspaces limit exceeded"
	msgClassifierCap  = "this plan instance can have only"
	msgRateLimit      = "Rate limit exceeded"
)

// ClassifyResponse maps an HTTP failure from a training service into the
// error taxonomy. body is the response payload, already read.
func ClassifyResponse(statusCode int, body string, cause error) *Error {
	switch {
	case strings.Contains(body, msgWorkspaceLimit) || strings.Contains(body, msgClassifierCap):
		return NewError(KindQuotaExceeded, "no capacity for more models with these credentials", statusCode, cause)
	case statusCode == http.StatusTooManyRequests || strings.Contains(body, msgRateLimit):
		return NewError(KindRateLimited, "service is rate limiting requests", statusCode, cause)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewError(KindUnauthorized, "credentials rejected by service", statusCode, cause)
	case statusCode == http.StatusNotFound:
		return NewError(KindNotFound, "model not found on training service", statusCode, cause)
	case statusCode == http.StatusServiceUnavailable || statusCode == http.StatusBadGateway:
		return NewError(KindServiceError, "training service unavailable", statusCode, cause)
	default:
		return NewError(KindUnknown, "unexpected training service failure", statusCode, cause)
	}
}
