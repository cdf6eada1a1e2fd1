package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"rovers/pkg/protocol"
)

// Paths holds all resolved rovers state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	Home        string // ~/.rovers or ROVERS_HOME
	DBPath      string // events.db or ROVERS_DB_PATH
	ConfigPath  string // config.toml or ROVERS_CONFIG
	ScenarioDir string // scenarios/ or ROVERS_SCENARIOS
}

// ResolvePaths returns all rovers paths, respecting env var overrides.
// Environment variables:
//   - ROVERS_HOME: base directory for all rovers state (default: ~/.rovers)
//   - ROVERS_DB_PATH: event log database (default: $ROVERS_HOME/events.db)
//   - ROVERS_CONFIG: TOML configuration (default: $ROVERS_HOME/config.toml)
//   - ROVERS_SCENARIOS: watched scenario directory (default: $ROVERS_HOME/scenarios)
func ResolvePaths() (*Paths, error) {
	home, err := resolveHome()
	if err != nil {
		return nil, err
	}

	return &Paths{
		Home:        home,
		DBPath:      resolvePathWithEnv("ROVERS_DB_PATH", home, protocol.DBFile),
		ConfigPath:  resolvePathWithEnv("ROVERS_CONFIG", home, protocol.ConfigFile),
		ScenarioDir: resolvePathWithEnv("ROVERS_SCENARIOS", home, protocol.ScenariosDir),
	}, nil
}

// resolveHome returns ROVERS_HOME or ~/.rovers.
func resolveHome() (string, error) {
	if v := os.Getenv("ROVERS_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.RoversDir), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}

// loadStartupEnv reads .env from the working directory, then from the
// rovers home. The first may point ROVERS_HOME elsewhere.
func loadStartupEnv() []string {
	warnings := loadDotEnv(".env")
	if home, err := resolveHome(); err == nil {
		warnings = append(warnings, loadDotEnv(filepath.Join(home, ".env"))...)
	}
	return warnings
}

// loadDotEnv loads each existing file into the environment. Variables that
// are already set win. It returns one warning per unreadable file.
func loadDotEnv(paths ...string) []string {
	var warnings []string
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			warnings = append(warnings, fmt.Sprintf("load %s: %v", p, err))
		}
	}
	return warnings
}
