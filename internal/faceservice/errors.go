package faceservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// APIError wraps a non-2xx response, classified as transient (caller may
// reasonably retry later: timeouts, 5xx, 429) or permanent (4xx other
// than 429: the request itself is wrong). The client never retries
// silently — callers decide based on Transient.
type APIError struct {
	StatusCode int
	Body       string
	Transient  bool
}

func (e *APIError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("face service error (%s): status %d: %s", kind, e.StatusCode, e.Body)
}

func newAPIError(statusCode int, body string) *APIError {
	transient := statusCode == http.StatusTooManyRequests || statusCode >= 500
	return &APIError{StatusCode: statusCode, Body: body, Transient: transient}
}

// IsTransient reports whether err (or one of its wrapped causes) is a
// transient face-service error or a context deadline/timeout.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}
