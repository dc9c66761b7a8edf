package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vetrefill/jobs/internal/models"
)

func TestNewDBRunsMigrations(t *testing.T) {
	db, err := NewDB(NewConfig(filepath.Join(t.TempDir(), "nested", "vetrefill.db")))
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM schema_migrations`))
	assert.Equal(t, 2, n)
}

func TestInsertFeedSourceRejectsDuplicateURL(t *testing.T) {
	db, err := NewDB(NewConfig(filepath.Join(t.TempDir(), "vetrefill.db")))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	src := models.NewFeedSource()
	src.URL = "https://example.com/rss"
	src.Name = "Example"
	src.DefaultCategory = models.CategoryCats

	require.NoError(t, db.InsertFeedSource(ctx, src))
	assert.NotZero(t, src.ID)

	dup := *src
	err = db.InsertFeedSource(ctx, &dup)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
}
