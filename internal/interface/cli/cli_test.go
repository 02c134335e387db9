package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/application/command"
)

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "development")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_HOST", "")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("ENGINE_RULES_FILE", "")
	t.Setenv("ENGINE_CATALOG_FILE", "")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand("test")
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "test")
}

func TestRulesDump(t *testing.T) {
	setTestEnv(t)

	out, err := run(t, "rules", "dump")
	require.NoError(t, err)
	assert.Contains(t, out, "[xp]")
	assert.Contains(t, out, "task_completed")
	assert.Contains(t, out, "[levels.global]")

	out, err = run(t, "rules", "dump", "--catalog")
	require.NoError(t, err)
	assert.Contains(t, out, "version:")
	assert.Contains(t, out, "id: level_5")
}

func TestRulesDump_UsesRulesFile(t *testing.T) {
	setTestEnv(t)
	path := filepath.Join(t.TempDir(), "rules.toml")
	require.NoError(t, os.WriteFile(path, []byte("[xp]\ndefault_xp = 7\n"), 0o600))
	t.Setenv("ENGINE_RULES_FILE", path)

	out, err := run(t, "rules", "dump")
	require.NoError(t, err)
	assert.Contains(t, out, "default_xp = 7")
}

func TestRulesValidate(t *testing.T) {
	setTestEnv(t)

	out, err := run(t, "rules", "validate")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ok:"))

	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[levels.global]\nscale = -1\n"), 0o600))
	_, err = run(t, "rules", "validate", bad)
	assert.Error(t, err)
}

func TestHistoryPurge(t *testing.T) {
	setTestEnv(t)

	out, err := run(t, "history", "purge", "--user", "user-1", "--older-than", "720h")
	require.NoError(t, err)

	var res command.PurgeHistoryResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "user-1", res.UserID)
	assert.Zero(t, res.PurgedTransactions)

	_, err = run(t, "history", "purge", "--user", "user-1")
	assert.Error(t, err)
}

func TestHistoryCompact(t *testing.T) {
	setTestEnv(t)

	out, err := run(t, "history", "compact")
	require.NoError(t, err)

	var res command.CompactResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Zero(t, res.Users)
}

func TestMigrate(t *testing.T) {
	setTestEnv(t)
	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to migrate")

	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_DIR", t.TempDir())
	out, err = run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema up to date")

	out, err = run(t, "migrate", "down")
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite: nothing to roll back")
}

func TestWorkerOnce(t *testing.T) {
	setTestEnv(t)
	t.Setenv("HISTORY_SCHEDULE", "@every 1h")

	_, err := run(t, "worker", "--once")
	require.NoError(t, err)
}

func TestInvalidConfig(t *testing.T) {
	setTestEnv(t)
	t.Setenv("STORE_DRIVER", "mongo")

	_, err := run(t, "history", "compact")
	assert.Error(t, err)
}
