package db

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "objects.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_AppliesMigrations(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	for _, table := range []string{"objects", "object_attachments"} {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s should exist", table)
	}
}

func TestNewDB_ReopenIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objects.db")

	first, err := NewDB(path)
	require.NoError(t, err)
	_, err = first.Exec(`INSERT INTO objects (object_id, collection, object_key, created_at_ns) VALUES ('id-1', 'c', 'k', 1)`)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewDB(path)
	require.NoError(t, err)
	defer second.Close()

	var n int
	require.NoError(t, second.QueryRow(`SELECT COUNT(*) FROM objects`).Scan(&n))
	assert.Equal(t, 1, n)
	assert.Equal(t, path, second.Path())
}

func TestNewDB_ForeignKeysEnforced(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Exec(`INSERT INTO object_attachments (object_id, name, size_bytes, data) VALUES ('missing', 'mesh', 1, x'00')`)
	assert.Error(t, err)
}

func TestAttachAdminRoutes_ObjectDBPage(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/objectdb", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	// Debug routes may be refused by tsweb's access check; they must exist.
	require.NotEqual(t, http.StatusNotFound, rec.Code)
	if rec.Code == http.StatusOK {
		assert.Contains(t, rec.Body.String(), "schema_version: 2")
		assert.Contains(t, rec.Body.String(), "objects: 0")
	}
}
