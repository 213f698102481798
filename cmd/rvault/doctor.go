package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/forest6511/rvault/internal/cli"
	"github.com/forest6511/rvault/pkg/security"
	"github.com/forest6511/rvault/pkg/vault"
)

// Doctor and check flags
var (
	doctorFormat string
	checkFormat  string
	checkLabels  bool
)

func init() {
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(checkCmd)

	doctorCmd.Flags().StringVarP(&doctorFormat, "format", "f", formatTable, "Output format: table, json, yaml")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", formatTable, "Output format: table, json, yaml")
	checkCmd.Flags().BoolVar(&checkLabels, "show-entries", false, "Name the affected entries in the report")
}

// doctorCmd checks files without the master password
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check keystore, database, permissions and disk space",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := v.CheckIntegrity()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if doctorFormat != formatTable {
			if err := writeStructured(out, doctorFormat, report); err != nil {
				return err
			}
		} else {
			printIntegrity(out, report)
		}
		if !report.Valid {
			return errors.New("integrity check found problems")
		}
		return nil
	},
}

func printIntegrity(w io.Writer, r *vault.IntegrityReport) {
	check := func(ok bool, label string) {
		if ok {
			fmt.Fprintln(w, cli.OK(label))
		} else {
			fmt.Fprintln(w, cli.Fail(label))
		}
	}
	check(r.KeystoreValid, fmt.Sprintf("Keystore %s", cli.Muted.Sprintf("version %d", r.KeystoreVersion)))
	check(r.ConfigValid, "Configuration")
	if r.DatabaseExists {
		check(r.DatabaseIntegrity, "Database integrity")
	}
	check(r.PermissionsValid, "File permissions")
	if r.Disk != nil {
		fmt.Fprintf(w, "%s Disk %s\n", cli.Info.Sprint("→"), cli.Muted.Sprintf("%d%% used", r.Disk.UsedPct))
	}
	for _, e := range r.Errors {
		fmt.Fprintln(w, "  "+cli.Error.Sprint(e))
	}
	for _, warning := range r.Warnings {
		fmt.Fprintln(w, cli.Warn(warning))
	}
}

// checkCmd scores the secrets of the current vault
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report weak, reused and stale passwords",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := currentVault()
		if err != nil {
			return err
		}
		report, skipped, err := v.Health(name, checkLabels)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if checkFormat != formatTable {
			return writeStructured(out, checkFormat, report)
		}
		printHealth(out, report)
		if skipped > 0 {
			fmt.Fprintln(out, cli.Warn(fmt.Sprintf("%d entries could not be decrypted and were skipped", skipped)))
		}
		return nil
	},
}

func printHealth(w io.Writer, r *security.Report) {
	score := cli.Success
	switch {
	case r.Overall < 50:
		score = cli.Error
	case r.Overall < 80:
		score = cli.Warning
	}
	fmt.Fprintf(w, "Security score: %s %s\n", score.Sprintf("%d/100", r.Overall), cli.Muted.Sprintf("%d entries", r.Entries))
	fmt.Fprintf(w, "  Strength:   %d/25\n", r.Components.StrengthScore)
	fmt.Fprintf(w, "  Uniqueness: %d/25\n", r.Components.UniquenessScore)
	fmt.Fprintf(w, "  Freshness:  %d/25\n", r.Components.FreshnessScore)

	if len(r.Issues) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Issues:")
		for _, issue := range r.Issues {
			line := fmt.Sprintf("  [%s] %s", issue.Severity, issue.Description)
			if issue.Entry != "" {
				line += " " + cli.Muted.Sprint(issue.Entry)
			}
			fmt.Fprintln(w, line)
		}
	}
	for _, s := range r.Suggestions {
		fmt.Fprintln(w, cli.Hint(s))
	}
}
