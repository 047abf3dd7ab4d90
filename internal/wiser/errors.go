package wiser

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedResponse is returned when a response body is not a valid vendor envelope or record.
	ErrMalformedResponse = errors.New("wiser: malformed response")

	// ErrVendorStatus is returned when a well-formed envelope carries a status other than "success".
	ErrVendorStatus = errors.New("wiser: vendor reported failure")
)

// TransportError describes a failed request to the controller: network failure,
// non-2xx status, or a body that could not be decoded.
type TransportError struct {
	Op         string // Client operation, e.g. "GetLoad"
	URL        string
	StatusCode int // Zero when no response was received
	Err        error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("wiser %s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("wiser %s %s: %v", e.Op, e.URL, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err was caused by a failed controller request.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRetryable reports whether repeating the request could succeed.
// Client errors (4xx) such as a rejected token or an unknown load are final.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) && te.StatusCode >= 400 && te.StatusCode < 500 {
		return false
	}
	return true
}
