package database

import (
	"errors"
	"strings"
	"testing"

	"commentaryapp/internal/config"
	"commentaryapp/internal/observability"
	contextutils "commentaryapp/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractDatabaseName(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"url form", "postgres://u:p@localhost:5432/commentary_test?sslmode=disable", "commentary_test"},
		{"key value form", "host=localhost dbname=exams sslmode=disable", "exams"},
		{"no name", "postgres://u:p@localhost:5432", "commentary"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractDatabaseName(tt.url))
		})
	}
}

func TestDefaultDatabaseConfig(t *testing.T) {
	t.Setenv("TEST_DATABASE_URL", "postgres://test@localhost/commentary_test")

	cfg := DefaultDatabaseConfig()
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, config.DatabaseConnMaxLifetime, cfg.ConnMaxLifetime)
	assert.Equal(t, "postgres://test@localhost/commentary_test", cfg.URL)
}

func TestWithPoolDefaults(t *testing.T) {
	cfg := withPoolDefaults(config.DatabaseConfig{URL: "postgres://localhost/commentary", MaxOpenConns: 40})
	assert.Equal(t, 40, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, config.DatabaseConnMaxLifetime, cfg.ConnMaxLifetime)
	assert.Equal(t, "postgres://localhost/commentary", cfg.URL)
}

func TestInitDBWithoutMigrations_EmptyURL(t *testing.T) {
	dm := NewManager(observability.NewNopLogger())

	db, err := dm.InitDBWithoutMigrations(config.DatabaseConfig{})
	require.Error(t, err)
	assert.Nil(t, db)
	assert.True(t, errors.Is(err, contextutils.ErrConfiguration))
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := EmbeddedMigrations()
	require.NoError(t, err)
	assert.Contains(t, names, "000001_commentary_schema.up.sql")
	assert.Contains(t, names, "000001_commentary_schema.down.sql")

	up, err := migrationFiles.ReadFile("migrations/000001_commentary_schema.up.sql")
	require.NoError(t, err)
	schema := string(up)
	for _, table := range []string{"questions", "answer_commentaries", "commentary_summaries", "commentary_settings"} {
		assert.True(t, strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table), table)
	}
	assert.Contains(t, schema, "'none', 'pending', 'processing', 'completed', 'failed'")
}
