package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/rvault/internal/cli"
	"github.com/forest6511/rvault/pkg/config"
)

var configFormat string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configTimeoutCmd)
	configCmd.AddCommand(configThemeCmd)

	configShowCmd.Flags().StringVarP(&configFormat, "format", "f", formatTable, "Output format: table, json, yaml")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change settings",
}

// configView omits the password hash.
type configView struct {
	Version        string `json:"version" yaml:"version"`
	SessionTimeout int    `json:"session_timeout_minutes" yaml:"session_timeout_minutes"`
	Theme          string `json:"theme" yaml:"theme"`
	LastUsedVault  string `json:"last_used_vault" yaml:"last_used_vault"`
	ConfigFile     string `json:"config_file" yaml:"config_file"`
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := v.Config()
		if err != nil {
			return err
		}
		view := configView{
			Version:        cfg.Version,
			SessionTimeout: int(cfg.SessionTimeout),
			Theme:          cfg.Theme,
			LastUsedVault:  cfg.LastUsedVault,
			ConfigFile:     v.Paths().ConfigFile(),
		}

		out := cmd.OutOrStdout()
		if configFormat != formatTable {
			return writeStructured(out, configFormat, view)
		}
		fmt.Fprintf(out, "Session timeout: %d minutes\n", view.SessionTimeout)
		fmt.Fprintf(out, "Theme:           %s\n", view.Theme)
		fmt.Fprintf(out, "Last used vault: %s\n", view.LastUsedVault)
		fmt.Fprintf(out, "Config file:     %s\n", view.ConfigFile)
		return nil
	},
}

var configTimeoutCmd = &cobra.Command{
	Use:   "timeout <minutes>",
	Short: "Set the session timeout in minutes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		minutes, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", args[0], err)
		}
		if err := v.SetSessionTimeout(minutes); err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), cli.OK(fmt.Sprintf("Session timeout set to %d minutes", minutes)))
		return nil
	},
}

var configThemeCmd = &cobra.Command{
	Use:       "theme <name>",
	Short:     "Set the UI theme (" + strings.Join(config.Themes, ", ") + ")",
	Args:      cobra.ExactArgs(1),
	ValidArgs: config.Themes,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := v.SetTheme(args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), cli.OK("Theme set to "+cli.Highlight.Sprint(args[0])))
		return nil
	},
}
