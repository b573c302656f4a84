package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureColumn(t *testing.T) {
	db, err := sqlx.Open("sqlite3", filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE items (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)

	exists, err := ColumnExists(db, "items", "note")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, EnsureColumn(db, "items", "note", "TEXT NOT NULL DEFAULT ''"))
	require.NoError(t, EnsureColumn(db, "items", "note", "TEXT NOT NULL DEFAULT ''"), "second call is a no-op")

	exists, err = ColumnExists(db, "items", "note")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = ColumnExists(db, "items; DROP TABLE items", "note")
	assert.Error(t, err)
}
