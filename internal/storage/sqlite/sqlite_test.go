package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/aanand-mishra/signup/internal/config"
	"github.com/aanand-mishra/signup/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := New(&config.Config{StoragePath: filepath.Join(t.TempDir(), "nested", "accounts.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCreateAndLookup(t *testing.T) {
	db := newTestDB(t)

	created, err := db.CreateAccount("u1", "  Ana@Example.COM ", "hash")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", created.Email)
	assert.NotZero(t, created.CreatedAt)

	got, err := db.GetAccountByEmail("ANA@example.com")
	require.NoError(t, err)
	assert.Equal(t, created, got)
}

func TestCreateDuplicateEmail(t *testing.T) {
	db := newTestDB(t)

	_, err := db.CreateAccount("u1", "ana@example.com", "hash")
	require.NoError(t, err)

	_, err = db.CreateAccount("u2", "Ana@Example.com", "other")
	assert.ErrorIs(t, err, storage.ErrEmailExists)

	n, err := db.CountAccounts()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDuplicateLocalIDIsNotEmailExists(t *testing.T) {
	db := newTestDB(t)

	_, err := db.CreateAccount("u1", "a@example.com", "hash")
	require.NoError(t, err)

	_, err = db.CreateAccount("u1", "b@example.com", "hash")
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrEmailExists)
}

func TestGetAccountByEmailNotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetAccountByEmail("nobody@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCountAccounts(t *testing.T) {
	db := newTestDB(t)

	n, err := db.CountAccounts()
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, email := range []string{"a@x.io", "b@x.io", "c@x.io"} {
		_, err := db.CreateAccount(email+"-id", email, "hash")
		require.NoError(t, err)
	}

	n, err = db.CountAccounts()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestNewReopensExistingFile(t *testing.T) {
	cfg := &config.Config{StoragePath: filepath.Join(t.TempDir(), "accounts.db")}

	first, err := New(cfg)
	require.NoError(t, err)
	_, err = first.CreateAccount("u1", "a@example.com", "hash")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(cfg)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.GetAccountByEmail("a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.LocalID)
}
