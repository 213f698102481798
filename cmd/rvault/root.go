package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/rvault/internal/logging"
	"github.com/forest6511/rvault/pkg/config"
	"github.com/forest6511/rvault/pkg/vault"
)

var (
	v        *vault.Vault
	closeLog func() error

	// stdin is replaced in tests.
	stdin = os.Stdin
)

// Global flags
var (
	vaultName string
	logLevel  string
	logFormat string
	logOutput string
)

var rootCmd = &cobra.Command{
	Use:   "rvault",
	Short: "rvault is a local, encrypted password vault",
	Long: `rvault keeps passwords in an encrypted SQLite database on this machine.

Unlock once with the master password; later commands reuse the session
until it expires or you run 'rvault lock'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE builds the logger and the Vault for every command.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, closer, err := logging.New(logging.Config{
			Level:  logLevel,
			Format: logFormat,
			Output: logOutput,
		})
		if err != nil {
			return err
		}
		closeLog = closer

		paths, err := config.DefaultPaths()
		if err != nil {
			return err
		}
		v = vault.New(paths, vault.WithLogger(logger))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if closeLog != nil {
			return closeLog()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&vaultName, "vault", "V", "", "Vault to operate on (default: last used)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", os.Getenv("RVAULT_LOG_LEVEL"), "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text, json")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-file", "stderr", "Log destination: stderr, stdout, discard or a file path")
}

// currentVault resolves --vault, falling back to the last used vault.
func currentVault() (string, error) {
	if vaultName != "" {
		return vaultName, nil
	}
	cfg, err := v.Config()
	if err != nil {
		return "", err
	}
	if cfg.LastUsedVault == "" {
		return config.DefaultVault, nil
	}
	return cfg.LastUsedVault, nil
}

// parseDuration parses durations like "30d", "2w", "1y" in addition to the
// units accepted by time.ParseDuration.
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return time.ParseDuration(s)
	}

	switch unit {
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case 'y':
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		return time.ParseDuration(s)
	}
}
