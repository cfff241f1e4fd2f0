package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrationsRequiresHandle(t *testing.T) {
	assert.Error(t, RunMigrations(nil))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	assert.Equal(t, ups, downs)
}

func TestInitialMigrationEnforcesDedupKey(t *testing.T) {
	body, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_create_payment_records.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(body), "UNIQUE INDEX IF NOT EXISTS idx_payment_records_dedup_key")
}
