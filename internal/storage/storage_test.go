package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"vetrefill/jobs/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "vetrefill.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}
