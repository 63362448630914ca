package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidCode reports a rejected OTP code.
var ErrInvalidCode = errors.New("backend: invalid verification code")

// UpstreamError is a non-2xx response from the payments backend. The
// contract is opaque; status and the backend's own error code are surfaced
// for logging, the user only ever sees a generic failure message.
type UpstreamError struct {
	Status  int
	ErrCode string
	Message string
}

func (e *UpstreamError) Error() string {
	if e.ErrCode != "" {
		return fmt.Sprintf("backend: %s (%d %s)", e.Message, e.Status, e.ErrCode)
	}
	return fmt.Sprintf("backend: %s (%d)", e.Message, e.Status)
}

// Code exposes the backend error code for the router's log taxonomy.
func (e *UpstreamError) Code() string {
	if e.ErrCode != "" {
		return e.ErrCode
	}
	return fmt.Sprintf("UPSTREAM_%d", e.Status)
}

// Unauthorized reports whether the backend rejected the bearer credential.
func (e *UpstreamError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized
}
