package jira

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotFound matches any 404 response.
	ErrNotFound = errors.New("jira: not found")
	// ErrNoTransition is returned when the issue workflow offers no
	// transition into the requested status.
	ErrNoTransition = errors.New("jira: no transition to status")
	// ErrInvalidWebhook is returned for payloads that are not Jira
	// webhook notifications.
	ErrInvalidWebhook = errors.New("jira: invalid webhook payload")
)

// APIError is a non-2xx response from the Jira REST API.
type APIError struct {
	StatusCode int
	Messages   []string
}

func (e *APIError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("jira: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("jira: HTTP %d: %s", e.StatusCode, strings.Join(e.Messages, "; "))
}

// Is makes errors.Is(err, ErrNotFound) hold for 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Retryable reports whether the request may succeed when repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable reports whether err is a transient Jira failure.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var wire struct {
		ErrorMessages []string          `json:"errorMessages"`
		Errors        map[string]string `json:"errors"`
	}
	if json.Unmarshal(body, &wire) == nil {
		apiErr.Messages = append(apiErr.Messages, wire.ErrorMessages...)
		for field, msg := range wire.Errors {
			apiErr.Messages = append(apiErr.Messages, field+": "+msg)
		}
	}
	if len(apiErr.Messages) == 0 && len(body) > 0 {
		apiErr.Messages = []string{strings.TrimSpace(string(body))}
	}
	return apiErr
}
