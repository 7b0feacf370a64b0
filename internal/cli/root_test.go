package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommandStructure(t *testing.T) {
	cmd := NewRootCommand()

	require.Equal(t, "collabboard", cmd.Use)
	for _, name := range []string{"serve", "migrate"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		require.Equal(t, name, sub.Name())
	}
	for _, flag := range []string{"config", "addr", "log-level"} {
		require.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestMigrateCreatesSchemaAndConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	dbPath := filepath.Join(dir, "board.db")
	t.Setenv("COLLABBOARD_DATABASE_PATH", dbPath)

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"migrate", "--config", configPath, "--log-level", "error"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	_, err := os.Stat(configPath)
	require.NoError(t, err, "default config should be written")
	_, err = os.Stat(dbPath)
	require.NoError(t, err, "database should be created")
}

func TestMigrateRejectsUnknownDriver(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("COLLABBOARD_DATABASE_DRIVER", "oracle")

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"migrate", "--config", filepath.Join(dir, "config.yaml")})
	require.Error(t, cmd.ExecuteContext(context.Background()))
}
