package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rovers/pkg/sim"
)

// newScenarioCmd creates the "rovers scenario" command group.
func newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Validate and generate scenario files",
	}
	cmd.AddCommand(newScenarioValidateCmd(), newScenarioNewCmd())
	return cmd
}

// newScenarioValidateCmd creates "rovers scenario validate".
func newScenarioValidateCmd() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check scenario files and list skipped entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			var errs []error
			for _, path := range args {
				sc, err := sim.LoadScenarioFile(path)
				if err != nil {
					fmt.Fprintf(w, "%s: %v\n", path, err)
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(w, "%s: %d agents, %d worksites, %d markers, %d skipped\n",
					path, len(sc.Agents), len(sc.Worksites), len(sc.Markers), len(sc.Warnings))
				for _, msg := range sc.Warnings {
					fmt.Fprintf(w, "  skipped %s\n", msg)
				}
				if strict && len(sc.Warnings) > 0 {
					errs = append(errs, fmt.Errorf("%s: %d malformed entries", path, len(sc.Warnings)))
				}
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "fail when any entry is skipped")
	return cmd
}

// newScenarioNewCmd creates "rovers scenario new".
func newScenarioNewCmd() *cobra.Command {
	var (
		seed    uint64
		sites   int
		agents  int
		markers bool
		out     string
	)

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Write a random scenario as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := sim.RandomScenario(seed, sites, agents)
			if markers {
				hideWorksites(sc)
			}
			b, err := sc.Encode()
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}
			if err := os.WriteFile(out, b, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&seed, "seed", 1, "layout seed")
	cmd.Flags().IntVar(&sites, "sites", 6, "number of worksites")
	cmd.Flags().IntVar(&agents, "agents", 2, "number of rovers")
	cmd.Flags().BoolVar(&markers, "markers", false, "hide the worksites as markers for mapping runs")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	return cmd
}
