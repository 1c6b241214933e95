// Package storage defines the Storage interface: the contract any
// database backend must satisfy to hold accounts for the local
// accounts-api.
//
// Handlers depend only on this interface, so tests can pass a fake and
// the sqlite backend can be swapped without touching the HTTP layer.
package storage

import "errors"

// ErrEmailExists is returned by CreateAccount when the email is taken.
var ErrEmailExists = errors.New("storage: email already registered")

// ErrNotFound is returned when no account matches a lookup.
var ErrNotFound = errors.New("storage: account not found")

// StoredAccount is an account row as persisted. It never leaves the
// backend; clients only see types.Account.
type StoredAccount struct {
	LocalID      string
	Email        string
	PasswordHash string
	CreatedAt    int64
}

// Storage is the database contract.
type Storage interface {
	// CreateAccount inserts a new account and returns the stored row.
	// Emails are unique; a duplicate yields ErrEmailExists.
	CreateAccount(localID, email, passwordHash string) (StoredAccount, error)

	// GetAccountByEmail fetches an account by email, or ErrNotFound.
	GetAccountByEmail(email string) (StoredAccount, error)

	// CountAccounts reports how many accounts exist. Used by health checks.
	CountAccounts() (int64, error)

	Close() error
}
