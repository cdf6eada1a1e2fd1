package main

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"

	"rovers/pkg/planner"
	"rovers/pkg/protocol"
)

// planOptions holds the flags of the plan command.
type planOptions struct {
	from      string
	to        string
	obstacles []string
	seed      uint64
}

// newPlanCmd creates the "rovers plan" subcommand.
func newPlanCmd(root *rootOptions) *cobra.Command {
	var po planOptions

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan one path with the configured planner",
		Long: "Runs the RRT* planner once, with the configured retry budget, and prints\n" +
			"the waypoints. Obstacles are circles given as x,y,r.",
		Example: "  rovers plan --from -5,-5 --to 4,3 --obstacle 0,0,1.5 --obstacle 2,2,0.5",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			seed := cfg.Planner.Seed
			if cmd.Flags().Changed("seed") {
				seed = po.seed
			}
			start, err := parsePoint(po.from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			goal, err := parsePoint(po.to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			obstacles := make([]protocol.Circle, 0, len(po.obstacles))
			for _, s := range po.obstacles {
				c, err := parseCircle(s)
				if err != nil {
					return fmt.Errorf("--obstacle: %w", err)
				}
				obstacles = append(obstacles, c)
			}

			p := planner.New(cfg.PlannerOptions(), seed)
			res := p.PlanWithRetry(start, goal, obstacles)
			printPlan(cmd.OutOrStdout(), res)
			if !res.Feasible {
				return fmt.Errorf("no path from %v to %v", start, goal)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&po.from, "from", "", "start point x,y")
	cmd.Flags().StringVar(&po.to, "to", "", "goal point x,y")
	cmd.Flags().StringArrayVar(&po.obstacles, "obstacle", nil, "circular obstacle x,y,r (repeatable)")
	cmd.Flags().Uint64Var(&po.seed, "seed", 0, "planner seed (default from config)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func printPlan(w io.Writer, res planner.Result) {
	if !res.Feasible {
		fmt.Fprintf(w, "infeasible after %d attempts (last budget %d iterations); staying at %s\n",
			res.Attempts, res.Iterations, formatPoint(res.Path[0]))
		return
	}
	fmt.Fprintf(w, "feasible after %d attempt(s), budget %d iterations, %d waypoints, length %.2f\n",
		res.Attempts, res.Iterations, len(res.Path), planner.Length(res.Path))
	for i, pt := range res.Path {
		fmt.Fprintf(w, "%4d  %s\n", i, formatPoint(pt))
	}
}

func formatPoint(pt orb.Point) string {
	return fmt.Sprintf("(%.3f, %.3f)", pt.X(), pt.Y())
}

// parsePoint parses "x,y".
func parsePoint(s string) (orb.Point, error) {
	v, err := parseFloats(s, 2)
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{v[0], v[1]}, nil
}

// parseCircle parses "x,y,r" with a positive radius.
func parseCircle(s string) (protocol.Circle, error) {
	v, err := parseFloats(s, 3)
	if err != nil {
		return protocol.Circle{}, err
	}
	if v[2] <= 0 {
		return protocol.Circle{}, fmt.Errorf("radius must be positive in %q", s)
	}
	return protocol.Circle{Center: orb.Point{v[0], v[1]}, Radius: v[2]}, nil
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("want %d comma-separated numbers, got %q", n, s)
	}
	out := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", p, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("non-finite value %q", p)
		}
		out[i] = f
	}
	return out, nil
}
