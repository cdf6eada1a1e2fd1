package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// isolate points every rovers path at a fresh temp home and clears the
// overrides a developer shell might carry.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("ROVERS_HOME", home)
	t.Setenv("ROVERS_DB_PATH", "")
	t.Setenv("ROVERS_CONFIG", "")
	t.Setenv("ROVERS_SCENARIOS", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("NO_COLOR", "")
	return home
}

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

const dryFieldYAML = `
name: dry-field
agents:
  - id: rover-a
    position: {x: -3, y: -3}
worksites:
  - name: parched
    position: {x: 2, y: 2}
    readings: {moisture: 20, acidity: 7}
  - name: fine
    position: {x: -3, y: 3}
    readings: {moisture: 65, acidity: 7}
`

const fastTicksTOML = `
[sim]
tick_ms = 1
background_tick_ms = 5
`
