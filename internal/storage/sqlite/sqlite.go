// Package sqlite provides a SQLite-backed implementation of the
// storage.Storage interface using Go's standard database/sql package.
//
// WHY SQLite?
// ───────────
// SQLite stores everything in a single file on disk. There is no network
// and no separate server process, which suits a local stand-in for the
// hosted identity backend.
//
// The go-sqlite3 import registers the "sqlite3" driver with database/sql
// from its init(). Unlike a blank import, this package also uses it by
// name to recognise UNIQUE constraint failures.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aanand-mishra/signup/internal/config"
	"github.com/aanand-mishra/signup/internal/storage"

	"github.com/mattn/go-sqlite3"
)

// SQLite is the concrete implementation of storage.Storage.
// It holds a *sql.DB, a connection pool that is safe for concurrent use.
type SQLite struct {
	Db *sql.DB
}

// ─────────────────────────────────────────────────────────────────────────────
// New opens the SQLite database at cfg.StoragePath, creating the parent
// directory and the accounts table when they do not exist yet, and returns
// a ready-to-use *SQLite.
// ─────────────────────────────────────────────────────────────────────────────
func New(cfg *config.Config) (*SQLite, error) {
	// ── Step 1: Make sure the directory exists ────────────────────────
	// sqlite creates the file but not missing directories, and the
	// default path lives under storage/.
	if dir := filepath.Dir(cfg.StoragePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite.New: create dir: %w", err)
		}
	}

	// ── Step 2: Open the pool ─────────────────────────────────────────
	// sql.Open only checks the driver name; the first real connection
	// happens on the first query below.
	db, err := sql.Open("sqlite3", cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("sqlite.New: open db: %w", err)
	}

	// One connection at a time. SQLite serialises writes anyway, and this
	// keeps "database is locked" errors away under concurrent sign-ups.
	db.SetMaxOpenConns(1)

	// ── Step 3: Create the table ──────────────────────────────────────
	// CREATE TABLE IF NOT EXISTS is idempotent, so it runs on every start.
	//
	// Schema:
	//   id            : integer primary key, internal only
	//   local_id      : uuid handed to clients as localId
	//   email         : unique, stored lowercased
	//   password_hash : bcrypt hash, never the plain password
	//   created_at    : unix seconds
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			local_id      TEXT    NOT NULL UNIQUE,
			email         TEXT    NOT NULL UNIQUE,
			password_hash TEXT    NOT NULL,
			created_at    INTEGER NOT NULL
		)
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite.New: create table: %w", err)
	}

	return &SQLite{Db: db}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// CreateAccount inserts a new row into the accounts table.
//
// Values travel as ? placeholders, never concatenated into the SQL text,
// so an email like  x'); DROP TABLE accounts;--  is just an odd string.
//
// A taken email comes back from SQLite as a UNIQUE constraint failure on
// accounts.email and is translated to storage.ErrEmailExists here, so the
// handler never has to know about sqlite error codes.
// ─────────────────────────────────────────────────────────────────────────────
func (s *SQLite) CreateAccount(localID, email, passwordHash string) (storage.StoredAccount, error) {
	stmt, err := s.Db.Prepare(
		"INSERT INTO accounts (local_id, email, password_hash, created_at) VALUES (?, ?, ?, ?)",
	)
	if err != nil {
		return storage.StoredAccount{}, fmt.Errorf("CreateAccount: prepare: %w", err)
	}
	// Release the statement's resources when we return.
	defer stmt.Close()

	acct := storage.StoredAccount{
		LocalID:      localID,
		Email:        normalizeEmail(email),
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().Unix(),
	}

	if _, err := stmt.Exec(acct.LocalID, acct.Email, acct.PasswordHash, acct.CreatedAt); err != nil {
		if isUniqueViolation(err, "accounts.email") {
			return storage.StoredAccount{}, storage.ErrEmailExists
		}
		return storage.StoredAccount{}, fmt.Errorf("CreateAccount: exec: %w", err)
	}

	return acct, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// GetAccountByEmail fetches exactly one account matched by email.
//
// The lookup is case-insensitive because emails are stored lowercased and
// the argument is normalised the same way. No row means ErrNotFound, not
// a zero-value account.
// ─────────────────────────────────────────────────────────────────────────────
func (s *SQLite) GetAccountByEmail(email string) (storage.StoredAccount, error) {
	stmt, err := s.Db.Prepare(
		"SELECT local_id, email, password_hash, created_at FROM accounts WHERE email = ? LIMIT 1",
	)
	if err != nil {
		return storage.StoredAccount{}, fmt.Errorf("GetAccountByEmail: prepare: %w", err)
	}
	defer stmt.Close()

	// Scan copies the columns, in SELECT order, into the pointers given.
	var acct storage.StoredAccount
	err = stmt.QueryRow(normalizeEmail(email)).Scan(
		&acct.LocalID,
		&acct.Email,
		&acct.PasswordHash,
		&acct.CreatedAt,
	)
	if err != nil {
		// sql.ErrNoRows is the "nothing matched" signal from QueryRow.
		if errors.Is(err, sql.ErrNoRows) {
			return storage.StoredAccount{}, storage.ErrNotFound
		}
		return storage.StoredAccount{}, fmt.Errorf("GetAccountByEmail: scan: %w", err)
	}

	return acct, nil
}

// CountAccounts returns the number of stored accounts.
func (s *SQLite) CountAccounts() (int64, error) {
	var n int64
	if err := s.Db.QueryRow("SELECT COUNT(*) FROM accounts").Scan(&n); err != nil {
		return 0, fmt.Errorf("CountAccounts: scan: %w", err)
	}
	return n, nil
}

// Close releases the underlying connection pool.
func (s *SQLite) Close() error {
	return s.Db.Close()
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure on
// column (sqlite names it "table.column" in the message).
func isUniqueViolation(err error, column string) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
		strings.Contains(sqliteErr.Error(), column)
}

// normalizeEmail lowercases and trims so "A@B.com " and "a@b.com" are the
// same account.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
