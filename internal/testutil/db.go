package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/ormso/internal/storage/sqlstore"
)

// NewSQLiteStore opens a store on a fresh database under t.TempDir and
// closes it when the test ends.
func NewSQLiteStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "OpenSQLite() failed")
	t.Cleanup(func() { s.Close() })
	return s
}
