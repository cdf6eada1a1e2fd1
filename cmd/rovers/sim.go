package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"rovers/internal/appversion"
	"rovers/pkg/config"
	"rovers/pkg/dispatcher"
	"rovers/pkg/eventlog"
	"rovers/pkg/sim"
	"rovers/pkg/telemetry"
)

// simOptions holds the flags of the sim command.
type simOptions struct {
	steps    int
	scenario string
	sites    int
	agents   int
	seed     uint64
	mapping  bool
	realtime bool
	watchDir string
	dbPath   string
	noEvents bool
}

// newSimCmd creates the "rovers sim" subcommand.
func newSimCmd(root *rootOptions) *cobra.Command {
	var so simOptions

	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run a fleet simulation",
		Long: "Runs the dispatcher and every rover against the in-memory world and prints\n" +
			"a fleet summary. Without --scenario a random field is generated from --seed.\n" +
			"With --realtime the loops follow the configured tick rates and new scenario\n" +
			"files dropped into the scenarios directory are registered while running.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				cfg.Planner.Seed = so.seed
				cfg.Dispatcher.Seed = so.seed
			}
			if so.mapping {
				cfg.Dispatcher.Mapping = true
			}
			if so.agents > 0 {
				cfg.Sim.Agents = so.agents
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := root.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return runSim(cmd.Context(), cfg, so, out, styledOutput(out), logger)
		},
	}

	cmd.Flags().IntVar(&so.steps, "steps", 2000, "main-loop steps to run (0 with --realtime runs until interrupted)")
	cmd.Flags().StringVar(&so.scenario, "scenario", "", "scenario YAML file (default: random field)")
	cmd.Flags().IntVar(&so.sites, "sites", 6, "worksites in a random field")
	cmd.Flags().IntVar(&so.agents, "agents", 0, "rovers in a random field (default from config)")
	cmd.Flags().Uint64Var(&so.seed, "seed", 1, "seed for the random field, planners and dispatcher")
	cmd.Flags().BoolVar(&so.mapping, "mapping", false, "start in mapping mode; random fields hide their worksites as markers")
	cmd.Flags().BoolVar(&so.realtime, "realtime", false, "run on wall-clock tickers and watch the scenarios directory")
	cmd.Flags().StringVar(&so.watchDir, "watch", "", "scenario directory watched with --realtime (default $ROVERS_SCENARIOS)")
	cmd.Flags().StringVar(&so.dbPath, "db", "", "event log database (default $ROVERS_DB_PATH)")
	cmd.Flags().BoolVar(&so.noEvents, "no-events", false, "do not write the event log")

	return cmd
}

// runSim builds the scenario and sinks, runs the simulation, and prints the
// summary to w.
func runSim(ctx context.Context, cfg config.Config, so simOptions, w io.Writer, styled bool, logger *slog.Logger) error {
	sc, err := simScenario(cfg, so)
	if err != nil {
		return err
	}
	for _, msg := range sc.Warnings {
		logger.Warn("scenario entry skipped", "scenario", sc.Name, "detail", msg)
	}
	if len(sc.Agents) == 0 {
		return fmt.Errorf("scenario %q has no agents", sc.Name)
	}

	endpoint := cfg.Telemetry.Endpoint
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		endpoint = v
	}
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: appversion.String(),
		OTLPEndpoint:   endpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	var (
		sink  dispatcher.EventSink
		runID string
	)
	if !so.noEvents {
		store, closeDB, err := openEventStore(ctx, so.dbPath, sc.Name)
		if err != nil {
			return err
		}
		defer closeDB()
		sink, runID = store, store.RunID()
	}

	r := sim.NewRunner(ctx, cfg, sc, sink, telemetry.Tracer(nil), logger)

	if so.realtime {
		dir := so.watchDir
		if dir == "" {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			dir = paths.ScenarioDir
		}
		runCtx, cancel := context.WithCancel(ctx)
		watcher := sim.NewWatcher(dir, func(_ string, s *sim.Scenario) {
			r.AddSites(runCtx, s)
		}, logger)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := watcher.Run(runCtx); err != nil {
				logger.Warn("scenario watcher stopped", "dir", dir, "error", err)
			}
		}()
		r.Run(runCtx, so.steps)
		cancel()
		<-done
	} else {
		r.RunSteps(ctx, so.steps)
	}

	printSummary(w, r.Summary(), runID, cfg.Power.Reserve, styled)
	return nil
}

// simScenario loads --scenario or generates a random field.
func simScenario(cfg config.Config, so simOptions) (*sim.Scenario, error) {
	if so.scenario != "" {
		return sim.LoadScenarioFile(so.scenario)
	}
	sc := sim.RandomScenario(so.seed, so.sites, cfg.Sim.Agents)
	if cfg.Dispatcher.Mapping {
		hideWorksites(sc)
	}
	return sc, nil
}

// hideWorksites turns every known worksite into a marker waiting to be found.
func hideWorksites(sc *sim.Scenario) {
	for i, ws := range sc.Worksites {
		sc.Markers = append(sc.Markers, sim.Marker{ID: i, Position: ws.Position, Readings: ws.Readings})
	}
	sc.Worksites = nil
}

// openEventStore opens the event log database, creating its directory, and
// starts a run.
func openEventStore(ctx context.Context, dbPath, scenario string) (*eventlog.Store, func(), error) {
	if dbPath == "" {
		paths, err := ResolvePaths()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve paths: %w", err)
		}
		dbPath = paths.DBPath
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := eventlog.OpenDB(ctx, dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	store, err := eventlog.NewStore(ctx, db, scenario)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, func() { _ = db.Close() }, nil
}
