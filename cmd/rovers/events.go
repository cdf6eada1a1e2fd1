package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"rovers/pkg/eventlog"
)

// eventsOptions holds the flags of the events command.
type eventsOptions struct {
	dbPath   string
	runID    string
	allRuns  bool
	agent    string
	typ      string
	worksite string
	limit    int
}

// newEventsCmd creates the "rovers events" subcommand.
func newEventsCmd() *cobra.Command {
	var eo eventsOptions

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query the fleet event log",
		Long: "Displays dispatcher events from the event log, oldest first.\n" +
			"By default only the most recent run is shown.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openReader(eo.dbPath)
			if err != nil {
				return err
			}
			defer r.Close()

			opts := eventlog.QueryOpts{
				RunID:     eo.runID,
				AgentID:   eo.agent,
				EventType: eo.typ,
				Worksite:  eo.worksite,
				Limit:     eo.limit,
			}
			if opts.RunID == "" && !eo.allRuns {
				runs, err := r.Runs(cmd.Context())
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
					return nil
				}
				opts.RunID = runs[0].ID
			}

			events, err := r.Query(cmd.Context(), opts)
			if err != nil {
				return err
			}
			printEvents(cmd.OutOrStdout(), events)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&eo.dbPath, "db", "", "event log database (default $ROVERS_DB_PATH)")
	cmd.Flags().StringVar(&eo.runID, "run", "", "run id (default: most recent run)")
	cmd.Flags().BoolVar(&eo.allRuns, "all", false, "include every run")
	cmd.Flags().StringVar(&eo.agent, "agent", "", "filter by agent id")
	cmd.Flags().StringVar(&eo.typ, "type", "", "filter by event type (assign, complete, discovery, ...)")
	cmd.Flags().StringVar(&eo.worksite, "worksite", "", "filter by worksite name")
	cmd.Flags().IntVar(&eo.limit, "limit", 50, "most recent events to show (0 = all)")

	cmd.AddCommand(newEventsRunsCmd(&eo))
	return cmd
}

// newEventsRunsCmd creates "rovers events runs".
func newEventsRunsCmd(eo *eventsOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List recorded simulation runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openReader(eo.dbPath)
			if err != nil {
				return err
			}
			defer r.Close()

			runs, err := r.Runs(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(w, "no runs recorded")
				return nil
			}
			for _, run := range runs {
				fmt.Fprintf(w, "%s | %s | %-16s | %d events\n",
					run.ID, run.StartedAt.Format(time.DateTime), run.Scenario, run.Events)
			}
			return nil
		},
	}
}

func openReader(dbPath string) (*eventlog.Reader, error) {
	if dbPath == "" {
		paths, err := ResolvePaths()
		if err != nil {
			return nil, fmt.Errorf("resolve paths: %w", err)
		}
		dbPath = paths.DBPath
	}
	r, err := eventlog.NewReader(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return r, nil
}

// printEvents writes events oldest first. Query returns them newest first.
func printEvents(w io.Writer, events []eventlog.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "no events found")
		return
	}
	for _, ev := range slices.Backward(events) {
		task := ""
		if ev.TaskID != 0 {
			task = strconv.FormatInt(ev.TaskID, 10)
		}
		// Format: timestamp | agent | event_type | task | worksite | payload
		fmt.Fprintf(w, "%s | %-10s | %-16s | %-5s | %-12s | %s\n",
			ev.CreatedAt.Format(time.DateTime), ev.AgentID, ev.Type, task, ev.Worksite, ev.Payload)
	}
}
