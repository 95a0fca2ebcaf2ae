package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The migration files ship inside the binary; a schema change that forgets
// the embed pattern, or an up migration without its down counterpart, should
// fail here rather than at deploy time.
func TestEmbeddedMigrationsComplete(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := make(map[string]bool)
	downs := make(map[string]bool)
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected migration file %q", name)
		}
	}

	for base := range ups {
		assert.True(t, downs[base], "migration %s has no down migration", base)
	}
	for base := range downs {
		assert.True(t, ups[base], "migration %s has no up migration", base)
	}

	content, err := migrationFiles.ReadFile("migrations/001_tenants_credentials.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(content), "CREATE TABLE")
}
