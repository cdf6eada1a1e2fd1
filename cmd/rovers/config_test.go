package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rovers/pkg/config"
)

func TestVersionFlag(t *testing.T) {
	isolate(t)
	out, err := runCLI(t, "--version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "rovers "), out)
}

func TestConfigInitWritesDefaults(t *testing.T) {
	home := isolate(t)

	out, err := runCLI(t, "config", "init")
	require.NoError(t, err)
	path := filepath.Join(home, "config.toml")
	assert.Contains(t, out, path)

	res := config.Load(path)
	require.NoError(t, res.ParseError)
	assert.True(t, res.Found)
	assert.Equal(t, config.Default(), res.Config)

	_, err = runCLI(t, "config", "init")
	require.ErrorContains(t, err, "already exists")

	_, err = runCLI(t, "config", "init", "--force")
	require.NoError(t, err)
}

func TestConfigShowUsesConfigFlag(t *testing.T) {
	isolate(t)
	p := writeFile(t, t.TempDir(), "fleet.toml", "[planner]\nmax_iterations = 777\n")

	out, err := runCLI(t, "config", "show", "--config", p)
	require.NoError(t, err)
	assert.Contains(t, out, "max_iterations = 777")
	assert.Contains(t, out, "[dispatcher]")
}

func TestConfigShowRejectsInvalidFile(t *testing.T) {
	isolate(t)
	p := writeFile(t, t.TempDir(), "bad.toml", "[planner]\nstep_size = -1\n")

	_, err := runCLI(t, "config", "show", "--config", p)
	require.ErrorIs(t, err, config.ErrInvalid)
}

func TestBadLogLevel(t *testing.T) {
	isolate(t)
	_, err := runCLI(t, "sim", "--steps", "1", "--no-events", "--log-level", "loud")
	require.ErrorContains(t, err, "--log-level")
}
