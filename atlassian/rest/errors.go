package rest

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError describes a failed upstream call. Error carries diagnostic
// detail for logs; PublicMessage is what may be shown to an MCP client.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	RetryAfter string
	Err        error

	body string
}

func (e *APIError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode == 0:
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

func (e *APIError) Unwrap() error { return e.Err }

// Body returns the start of the upstream error body. It may contain
// internal detail and is only meant for logs.
func (e *APIError) Body() string { return e.body }

// IsAuthError reports whether the credentials were rejected.
func (e *APIError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsRateLimited reports whether the site throttled the request.
func (e *APIError) IsRateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// IsNotFound reports whether the addressed entity does not exist or is not
// visible to the configured user.
func (e *APIError) IsNotFound() bool { return e.StatusCode == http.StatusNotFound }

// PublicMessage classifies the failure without exposing upstream detail.
func (e *APIError) PublicMessage() string {
	switch {
	case e.IsAuthError():
		return "upstream authentication failed; check the configured credentials"
	case e.IsRateLimited():
		if e.RetryAfter != "" {
			return "upstream rate limit exceeded; retry after " + e.RetryAfter + "s"
		}
		return "upstream rate limit exceeded"
	case e.IsNotFound():
		return "not found"
	case e.StatusCode == http.StatusBadRequest:
		return "upstream rejected the request; check the query syntax"
	case e.StatusCode >= 500:
		return "upstream service error"
	case e.StatusCode == 0:
		return "upstream unreachable"
	case e.StatusCode < 300:
		return "upstream returned an unexpected response"
	}
	return fmt.Sprintf("upstream request failed with status %d", e.StatusCode)
}

// AsAPIError unwraps err to an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	ok := errors.As(err, &ae)
	return ae, ok
}
