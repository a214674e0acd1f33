package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(files, "sql")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestInitialSchemaCreatesCoreTables(t *testing.T) {
	b, err := fs.ReadFile(files, "sql/000001_init.up.sql")
	require.NoError(t, err)
	schema := string(b)
	for _, table := range []string{"users", "facilities", "bookings", "payments", "matches", "chat_messages", "user_stats", "notifications"} {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table+" ", table)
	}
}
