package testutil

import (
	"testing"

	"github.com/bluesky-social/agora/models"
	"github.com/bluesky-social/agora/util/cliutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// TestDB returns a fresh, migrated in-memory sqlite database.
func TestDB(t *testing.T) *gorm.DB {
	db, err := cliutil.SetupDatabase("sqlite://:memory:", cliutil.DatabaseOptions{})
	require.NoError(t, err)
	require.NoError(t, models.MigrateDatabase(db))

	t.Cleanup(func() {
		if sqldb, err := db.DB(); err == nil {
			sqldb.Close()
		}
	})
	return db
}
