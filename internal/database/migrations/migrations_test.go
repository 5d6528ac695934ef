package migrations_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/database/migrations"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    migrations.Target
		wantErr bool
	}{
		{name: "postgres", input: "postgres", want: migrations.TargetPostgres},
		{name: "mysql_uppercase", input: "MySQL", want: migrations.TargetMySQL},
		{name: "unknown", input: "sqlite", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := migrations.ParseTarget(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDirection(t *testing.T) {
	for _, name := range []string{"up", "down"} {
		t.Run(name, func(t *testing.T) {
			got, err := migrations.ParseDirection(name)
			require.NoError(t, err)
			assert.Equal(t, migrations.Direction(name), got)
		})
	}

	for _, name := range []string{"", "UP", "sideways"} {
		t.Run("invalid_"+name, func(t *testing.T) {
			_, err := migrations.ParseDirection(name)
			assert.Error(t, err)
		})
	}
}

func TestFiles(t *testing.T) {
	t.Run("postgres_pairs_up_and_down", func(t *testing.T) {
		files, err := migrations.Files(migrations.TargetPostgres)
		require.NoError(t, err)
		assert.Contains(t, files, "000001_access_codes.up.sql")
		assert.Contains(t, files, "000001_access_codes.down.sql")
		assert.Contains(t, files, "000002_access_sessions.up.sql")
		assert.Contains(t, files, "000002_access_sessions.down.sql")
	})

	t.Run("mysql_audit_table", func(t *testing.T) {
		files, err := migrations.Files(migrations.TargetMySQL)
		require.NoError(t, err)
		assert.Equal(t, []string{"000001_access_events.down.sql", "000001_access_events.up.sql"}, files)
	})
}

func TestDatabaseURL(t *testing.T) {
	assert.Equal(t,
		"mysql://user:pw@tcp(localhost:3306)/audit",
		migrations.DatabaseURL(migrations.TargetMySQL, "user:pw@tcp(localhost:3306)/audit"))
	assert.Equal(t,
		"mysql://user:pw@tcp(localhost:3306)/audit",
		migrations.DatabaseURL(migrations.TargetMySQL, "mysql://user:pw@tcp(localhost:3306)/audit"))
	assert.Equal(t,
		"postgres://u:p@localhost:5432/access",
		migrations.DatabaseURL(migrations.TargetPostgres, "postgres://u:p@localhost:5432/access"))
}

func TestRun_RejectsBadInput(t *testing.T) {
	t.Run("empty_url", func(t *testing.T) {
		err := migrations.Run(migrations.TargetPostgres, "", migrations.Up)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database URL is not set")
	})

	t.Run("bad_direction", func(t *testing.T) {
		err := migrations.Run(migrations.TargetPostgres, "postgres://localhost/access", "left")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "direction must be up or down")
	})

	t.Run("unknown_target", func(t *testing.T) {
		err := migrations.Run("sqlite", "postgres://localhost/access", migrations.Up)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown migration target")
	})
}
