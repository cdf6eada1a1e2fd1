package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rovers/pkg/config"
	"rovers/pkg/dispatcher"
	"rovers/pkg/protocol"
	"rovers/pkg/sim"
)

func TestSimRandomFieldWritesEventLog(t *testing.T) {
	home := isolate(t)

	out, err := runCLI(t, "sim", "--steps", "200", "--seed", "3", "--sites", "3", "--agents", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Fleet summary")
	assert.Contains(t, out, "steps 200")
	assert.Contains(t, out, "rover-0")
	assert.Contains(t, out, "rover-1")
	assert.Contains(t, out, "field-2")
	assert.Contains(t, out, "run ")
	assert.FileExists(t, filepath.Join(home, "events.db"))

	runs, err := runCLI(t, "events", "runs")
	require.NoError(t, err)
	assert.Contains(t, runs, "random-3")

	events, err := runCLI(t, "events", "--type", protocol.EventAgentRegistered)
	require.NoError(t, err)
	assert.Contains(t, events, "rover-0")
	assert.Contains(t, events, "rover-1")
}

func TestSimScenarioAssignsDryWorksite(t *testing.T) {
	isolate(t)
	p := writeFile(t, t.TempDir(), "dry.yaml", dryFieldYAML)

	out, err := runCLI(t, "sim", "--steps", "20", "--scenario", p)
	require.NoError(t, err)
	assert.Contains(t, out, "rover-a")
	assert.Contains(t, out, "parched")

	events, err := runCLI(t, "events", "--type", protocol.EventAssign)
	require.NoError(t, err)
	assert.Contains(t, events, "parched")
	assert.NotContains(t, events, "| fine ")

	filtered, err := runCLI(t, "events", "--agent", "nobody")
	require.NoError(t, err)
	assert.Contains(t, filtered, "no events found")
}

func TestSimNoEventsSkipsDatabase(t *testing.T) {
	home := isolate(t)

	_, err := runCLI(t, "sim", "--steps", "5", "--no-events")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(home, "events.db"))

	_, err = runCLI(t, "events")
	require.ErrorContains(t, err, "open event log")
}

func TestSimRejectsScenarioWithoutAgents(t *testing.T) {
	isolate(t)
	p := writeFile(t, t.TempDir(), "empty.yaml", "name: lonely\nworksites:\n  - name: w\n    readings: {moisture: 50, acidity: 7}\n")

	_, err := runCLI(t, "sim", "--scenario", p, "--no-events")
	require.ErrorContains(t, err, "no agents")
}

func TestSimRealtimePicksUpWatchedScenario(t *testing.T) {
	isolate(t)
	cfgPath := writeFile(t, t.TempDir(), "fast.toml", fastTicksTOML)
	watch := t.TempDir()
	writeFile(t, watch, "late.yaml", "worksites:\n  - name: dropped-in\n    position: {x: 3, y: -3}\n    readings: {moisture: 60, acidity: 7}\n")

	out, err := runCLI(t, "sim", "--config", cfgPath, "--realtime", "--steps", "300", "--watch", watch, "--no-events")
	require.NoError(t, err)
	assert.Contains(t, out, "dropped-in")
	assert.Contains(t, out, "steps 300")
}

func TestRunSimMappingHidesRandomWorksites(t *testing.T) {
	isolate(t)
	cfg := config.Default()
	cfg.Dispatcher.Mapping = true

	sc, err := simScenario(cfg, simOptions{seed: 4, sites: 3})
	require.NoError(t, err)
	assert.Empty(t, sc.Worksites)
	require.Len(t, sc.Markers, 3)
	assert.Equal(t, 2, sc.Markers[2].ID)

	var buf bytes.Buffer
	err = runSim(context.Background(), cfg, simOptions{seed: 4, sites: 3, steps: 10, noEvents: true},
		&buf, false, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "mode "+string(dispatcher.ModeMapping))
}

func TestPrintSummaryStyledAndPlain(t *testing.T) {
	t.Parallel()
	s := sim.Summary{
		Steps: 10,
		Mode:  dispatcher.ModeNormal,
		Agents: []sim.AgentSummary{
			{ID: "rover-0", Status: protocol.AgentIdle, Power: "charging", Battery: 12},
			{ID: "rover-1", Status: protocol.AgentMoving, Power: "moving", Battery: 0},
		},
		Worksites: []protocol.Worksite{{Name: "north", Readings: protocol.Readings{Moisture: 61.4, Acidity: 7}}},
	}

	for _, styled := range []bool{false, true} {
		var buf bytes.Buffer
		printSummary(&buf, s, "run-1", 20, styled)
		out := buf.String()
		assert.Contains(t, out, "Fleet summary")
		assert.Contains(t, out, "run run-1")
		assert.Contains(t, out, "rover-1")
		assert.Contains(t, out, "north")
		assert.Contains(t, out, "61.4")
	}
}

func TestStyledOutputOnlyForTerminals(t *testing.T) {
	isolate(t)
	assert.False(t, styledOutput(&bytes.Buffer{}))

	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, styledOutput(f), "regular files are not terminals")
}
