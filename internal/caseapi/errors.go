package caseapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotFound matches missing cases, comments and attachments.
var ErrNotFound = errors.New("security-ir: not found")

// APIError is a non-2xx response from the case-management API.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("security-ir: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("security-ir: HTTP %d %s: %s", e.StatusCode, e.Type, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound &&
		(e.StatusCode == http.StatusNotFound || e.Type == "ResourceNotFoundException")
}

// Retryable reports whether the request may succeed when repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable reports whether err is a transient API failure.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

func parseAPIError(status int, header http.Header, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Type: header.Get("X-Amzn-Errortype")}
	var wire struct {
		Type    string `json:"__type"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &wire) == nil {
		if apiErr.Type == "" {
			apiErr.Type = wire.Type
		}
		apiErr.Message = wire.Message
	}
	// Error types arrive as "Name:http://..." or "namespace#Name".
	if i := strings.Index(apiErr.Type, ":"); i >= 0 {
		apiErr.Type = apiErr.Type[:i]
	}
	if i := strings.LastIndex(apiErr.Type, "#"); i >= 0 {
		apiErr.Type = apiErr.Type[i+1:]
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
