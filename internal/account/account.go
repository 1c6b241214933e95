// Package account defines the Account Service contract used by the sign-up
// controller and an HTTP client for identity-toolkit compatible backends.
//
// The controller only knows about the Service interface, so the same
// screen runs against the hosted identity backend, the local
// accounts-api, or a fake in tests.
package account

import (
	"context"

	"github.com/aanand-mishra/signup/internal/types"
)

// Service creates user accounts by email and password.
type Service interface {
	// CreateAccount registers a new account. Any returned error's message
	// is shown to the user as-is, so implementations should return an
	// *Error with readable text.
	CreateAccount(ctx context.Context, email, password string) (types.Account, error)
}

// Error is a submission-level failure reported by the Account Service.
type Error struct {
	// Code is the backend's machine-readable reason, e.g. "EMAIL_EXISTS".
	Code string
	// Message is the user-facing text.
	Message string
	// Err is the underlying transport error, if any.
	Err error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}
