package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"rovers/internal/appversion"
	"rovers/pkg/config"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
}

// newRootCmd creates the root rovers command with all subcommands attached.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "rovers",
		Short:         "Rover fleet dispatcher and simulator",
		Long:          "rovers runs a fleet of maintenance rovers against a central dispatcher.\nIt simulates missions, plans paths, and inspects the event log.",
		Version:       fmt.Sprintf("rovers %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $ROVERS_CONFIG or ~/.rovers/config.toml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	cmd.AddCommand(
		newSimCmd(opts),
		newPlanCmd(opts),
		newEventsCmd(),
		newScenarioCmd(),
		newConfigCmd(opts),
	)

	return cmd
}

// resolveConfigPath returns --config, falling back to the resolved default.
func (o *rootOptions) resolveConfigPath() (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	paths, err := ResolvePaths()
	if err != nil {
		return "", fmt.Errorf("resolve paths: %w", err)
	}
	return paths.ConfigPath, nil
}

// loadConfig reads the config file. A missing file yields the defaults.
func (o *rootOptions) loadConfig() (config.Config, error) {
	path, err := o.resolveConfigPath()
	if err != nil {
		return config.Config{}, err
	}
	res := config.Load(path)
	if res.ParseError != nil {
		return config.Config{}, fmt.Errorf("load config %s: %w", path, res.ParseError)
	}
	return res.Config, nil
}

// logger builds a text logger at the requested level.
func (o *rootOptions) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}
