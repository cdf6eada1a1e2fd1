package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rovers/pkg/protocol"
)

func TestResolvePaths_Defaults(t *testing.T) {
	isolate(t)
	t.Setenv("ROVERS_HOME", "")

	home, err := os.UserHomeDir()
	require.NoError(t, err)

	paths, err := ResolvePaths()
	require.NoError(t, err)

	base := filepath.Join(home, protocol.RoversDir)
	assert.Equal(t, base, paths.Home)
	assert.Equal(t, filepath.Join(base, "events.db"), paths.DBPath)
	assert.Equal(t, filepath.Join(base, "config.toml"), paths.ConfigPath)
	assert.Equal(t, filepath.Join(base, "scenarios"), paths.ScenarioDir)
}

func TestResolvePaths_HomeOverride(t *testing.T) {
	home := isolate(t)

	paths, err := ResolvePaths()
	require.NoError(t, err)

	assert.Equal(t, home, paths.Home)
	assert.Equal(t, filepath.Join(home, "events.db"), paths.DBPath)
}

func TestResolvePaths_EnvOverrides(t *testing.T) {
	isolate(t)
	tmp := t.TempDir()
	t.Setenv("ROVERS_DB_PATH", filepath.Join(tmp, "custom.db"))
	t.Setenv("ROVERS_CONFIG", filepath.Join(tmp, "custom.toml"))
	t.Setenv("ROVERS_SCENARIOS", filepath.Join(tmp, "fields"))

	paths, err := ResolvePaths()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(tmp, "custom.db"), paths.DBPath)
	assert.Equal(t, filepath.Join(tmp, "custom.toml"), paths.ConfigPath)
	assert.Equal(t, filepath.Join(tmp, "fields"), paths.ScenarioDir)
}

func TestLoadDotEnvKeepsExistingVars(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, ".env", "ROVERS_TEST_A=from-file\nROVERS_TEST_B=from-file\n")

	t.Setenv("ROVERS_TEST_A", "")
	require.NoError(t, os.Unsetenv("ROVERS_TEST_A"))
	t.Setenv("ROVERS_TEST_B", "preset")

	warnings := loadDotEnv(p, filepath.Join(dir, "missing.env"))

	assert.Empty(t, warnings, "missing files are skipped silently")
	assert.Equal(t, "from-file", os.Getenv("ROVERS_TEST_A"))
	assert.Equal(t, "preset", os.Getenv("ROVERS_TEST_B"))
}

func TestLoadStartupEnvReadsHomeFile(t *testing.T) {
	home := isolate(t)
	writeFile(t, home, ".env", "ROVERS_TEST_HOME_VAR=yes\n")
	t.Setenv("ROVERS_TEST_HOME_VAR", "")
	require.NoError(t, os.Unsetenv("ROVERS_TEST_HOME_VAR"))
	t.Chdir(t.TempDir())

	assert.Empty(t, loadStartupEnv())
	assert.Equal(t, "yes", os.Getenv("ROVERS_TEST_HOME_VAR"))
}
