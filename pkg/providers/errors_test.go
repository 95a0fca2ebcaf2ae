package providers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyResponse(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantKind   ErrorKind
	}{
		{
			name:       "workspace limit body means quota",
			statusCode: http.StatusBadRequest,
			body:       `{"error":"Maximum workspaces limit exceeded. Limit = 5"}`,
			wantKind:   KindQuotaExceeded,
		},
		{
			name:       "classifier cap body means quota",
			statusCode: http.StatusBadRequest,
			body:       `{"error":"this plan instance can have only 8 classifiers"}`,
			wantKind:   KindQuotaExceeded,
		},
		{
			name:       "429 means rate limited",
			statusCode: http.StatusTooManyRequests,
			body:       "",
			wantKind:   KindRateLimited,
		},
		{
			name:       "rate limit body means rate limited",
			statusCode: http.StatusBadRequest,
			body:       `{"error":"Rate limit exceeded"}`,
			wantKind:   KindRateLimited,
		},
		{
			name:       "401 means unauthorized",
			statusCode: http.StatusUnauthorized,
			body:       `{"error":"Unauthorized"}`,
			wantKind:   KindUnauthorized,
		},
		{
			name:       "403 means unauthorized",
			statusCode: http.StatusForbidden,
			body:       "",
			wantKind:   KindUnauthorized,
		},
		{
			name:       "404 means not found",
			statusCode: http.StatusNotFound,
			body:       `{"error":"Resource not found"}`,
			wantKind:   KindNotFound,
		},
		{
			name:       "503 means service error",
			statusCode: http.StatusServiceUnavailable,
			body:       "",
			wantKind:   KindServiceError,
		},
		{
			name:       "502 means service error",
			statusCode: http.StatusBadGateway,
			body:       "",
			wantKind:   KindServiceError,
		},
		{
			name:       "anything else is unknown",
			statusCode: http.StatusInternalServerError,
			body:       `{"error":"something broke"}`,
			wantKind:   KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyResponse(tt.statusCode, tt.body, nil)
			assert.Equal(t, tt.wantKind, err.Kind)
			assert.Equal(t, tt.statusCode, err.StatusCode)
		})
	}
}

func TestClassifyResponse_BodyTakesPrecedenceOverStatus(t *testing.T) {
	// quota rejections arrive with generic status codes, so the body check
	// has to win even when the status would map to something else
	err := ClassifyResponse(http.StatusTooManyRequests, "Maximum workspaces limit exceeded", nil)
	assert.Equal(t, KindQuotaExceeded, err.Kind)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindRateLimited, KindOf(NewError(KindRateLimited, "slow down", 429, nil)))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain error")))
	assert.Equal(t, KindUnknown, KindOf(nil))

	wrapped := fmt.Errorf("training failed: %w", NewError(KindNotFound, "gone", 404, nil))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewError(KindUnknown, "request failed", 0, cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Contains(t, err.Error(), "unknown")
}
