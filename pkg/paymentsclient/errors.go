package paymentsclient

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx answer from the payments provider.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("payments API request failed with status %d", e.StatusCode)
	}
	return e.Message
}

// IsNotFound reports whether err is a provider 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
