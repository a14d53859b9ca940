package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthenticated matches any 401 response from the backend.
var ErrUnauthenticated = errors.New("gateway: unauthenticated")

// APIError carries the status and server supplied reason of a failed call.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("gateway: %s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

// Is reports 401 responses as ErrUnauthenticated.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthenticated && e != nil && e.Status == http.StatusUnauthorized
}

// IsClientError reports 4xx responses.
func (e *APIError) IsClientError() bool {
	return e != nil && e.Status >= 400 && e.Status < 500
}
