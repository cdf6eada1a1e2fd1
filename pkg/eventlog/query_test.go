package eventlog_test

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rovers/pkg/dispatcher"
	"rovers/pkg/eventlog"
	"rovers/pkg/protocol"
)

var _ dispatcher.EventSink = (*eventlog.Store)(nil)

// setupTestDB opens a file-backed database in a temp dir.
func setupTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "events.db")
	db, err := eventlog.OpenDB(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, dbPath
}

func openReader(t *testing.T, dbPath string) *eventlog.Reader {
	t.Helper()
	r, err := eventlog.NewReader(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestStoreRecordAndQuery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, dbPath := setupTestDB(t)
	store, err := eventlog.NewStore(ctx, db, "valley.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, store.RunID())

	events := []protocol.Event{
		{Type: protocol.EventAgentRegistered, Source: "rover-1", AgentID: "rover-1"},
		{Type: protocol.EventTaskGenerated, Source: "dispatcher", TaskID: 1, Worksite: "plot-a", Payload: "kind=restore_moisture priority=1"},
		{Type: protocol.EventAssign, Source: "dispatcher", AgentID: "rover-1", TaskID: 1, Worksite: "plot-a"},
		{Type: protocol.EventComplete, Source: "dispatcher", AgentID: "rover-1", TaskID: 1, Worksite: "plot-a"},
		{Type: protocol.EventAgentRegistered, Source: "rover-2", AgentID: "rover-2"},
	}
	for _, ev := range events {
		require.NoError(t, store.Record(ctx, ev))
	}

	r := openReader(t, dbPath)

	all, err := r.Query(ctx, eventlog.QueryOpts{RunID: store.RunID()})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "rover-2", all[0].AgentID, "newest first")
	assert.Equal(t, store.RunID(), all[0].RunID)
	assert.False(t, all[0].CreatedAt.IsZero())

	gen := all[3]
	assert.Equal(t, protocol.EventTaskGenerated, gen.Type)
	assert.Empty(t, gen.AgentID, "NULL agent reads back empty")
	assert.Equal(t, int64(1), gen.TaskID)
	assert.Equal(t, "plot-a", gen.Worksite)

	byAgent, err := r.Query(ctx, eventlog.QueryOpts{AgentID: "rover-1"})
	require.NoError(t, err)
	assert.Len(t, byAgent, 3)

	byType, err := r.Query(ctx, eventlog.QueryOpts{EventType: protocol.EventAgentRegistered, Limit: 1})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "rover-2", byType[0].AgentID)

	bySite, err := r.Query(ctx, eventlog.QueryOpts{Worksite: "plot-a", EventType: protocol.EventAssign})
	require.NoError(t, err)
	assert.Len(t, bySite, 1)

	none, err := r.Query(ctx, eventlog.QueryOpts{AgentID: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRunsAreSeparated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, dbPath := setupTestDB(t)

	first, err := eventlog.NewStore(ctx, db, "a.yaml")
	require.NoError(t, err)
	second, err := eventlog.NewStore(ctx, db, "")
	require.NoError(t, err)
	require.NotEqual(t, first.RunID(), second.RunID())

	require.NoError(t, first.Record(ctx, protocol.Event{Type: protocol.EventAssign, Source: "dispatcher"}))
	require.NoError(t, first.Record(ctx, protocol.Event{Type: protocol.EventComplete, Source: "dispatcher"}))
	require.NoError(t, second.Record(ctx, protocol.Event{Type: protocol.EventAssign, Source: "dispatcher"}))

	r := openReader(t, dbPath)
	runs, err := r.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID(), runs[0].ID)
	assert.Equal(t, 1, runs[0].Events)
	assert.Empty(t, runs[0].Scenario)
	assert.Equal(t, "a.yaml", runs[1].Scenario)
	assert.Equal(t, 2, runs[1].Events)

	evs, err := r.Query(ctx, eventlog.QueryOpts{RunID: first.RunID()})
	require.NoError(t, err)
	assert.Len(t, evs, 2)
}

func TestStoreAsDispatcherSink(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, dbPath := setupTestDB(t)
	store, err := eventlog.NewStore(ctx, db, "")
	require.NoError(t, err)

	d := dispatcher.New(dispatcher.Config{}, store, slog.New(slog.DiscardHandler))
	d.RegisterWorksite(ctx, protocol.Worksite{
		Name:     "plot-a",
		Position: protocol.Position{X: 1, Y: 1},
		Readings: protocol.Readings{Moisture: 20, Acidity: 7},
	})
	d.RegisterAgent(ctx, "rover-1", protocol.Position{})
	d.GenerateTasks(ctx)
	task, ok := d.RequestTask(ctx, "rover-1")
	require.True(t, ok)
	d.ReportTaskComplete(ctx, "rover-1", task.ID, true, &protocol.Readings{Moisture: 70, Acidity: 7})

	r := openReader(t, dbPath)
	evs, err := r.Query(ctx, eventlog.QueryOpts{RunID: store.RunID()})
	require.NoError(t, err)

	var types []string
	for i := len(evs) - 1; i >= 0; i-- {
		types = append(types, evs[i].Type)
	}
	assert.Equal(t, []string{
		protocol.EventWorksiteAdded,
		protocol.EventAgentRegistered,
		protocol.EventTaskGenerated,
		protocol.EventAssign,
		protocol.EventComplete,
	}, types)
}

func TestQueryAfter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, dbPath := setupTestDB(t)
	store, err := eventlog.NewStore(ctx, db, "")
	require.NoError(t, err)
	require.NoError(t, store.Record(ctx, protocol.Event{Type: protocol.EventAssign, Source: "dispatcher"}))

	r := openReader(t, dbPath)
	past := time.Now().Add(-time.Hour)
	evs, err := r.Query(ctx, eventlog.QueryOpts{After: &past})
	require.NoError(t, err)
	assert.Len(t, evs, 1)

	future := time.Now().Add(time.Hour)
	evs, err = r.Query(ctx, eventlog.QueryOpts{After: &future})
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestNewReaderMissingDB(t *testing.T) {
	t.Parallel()

	_, err := eventlog.NewReader(filepath.Join(t.TempDir(), "nope.db"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "database not found"))
}

func TestReaderCloseTwice(t *testing.T) {
	t.Parallel()

	_, dbPath := setupTestDB(t)
	r, err := eventlog.NewReader(dbPath)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}
