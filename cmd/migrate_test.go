package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/config"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/store"
)

func TestMigrateCommand_SQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "migrate.db")
	withConfig(t, &config.Config{Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: dbPath}})

	migrateCmd.SetContext(context.Background())
	require.NoError(t, migrateCmd.RunE(migrateCmd, nil))

	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	job, err := st.CreateJob(context.Background(), &model.Job{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
}

func TestMigrateCommand_InvalidConfig(t *testing.T) {
	withConfig(t, &config.Config{Store: config.StoreConfig{Driver: "sqlite"}})

	migrateCmd.SetContext(context.Background())
	err := migrateCmd.RunE(migrateCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}
