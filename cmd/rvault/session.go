package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/rvault/internal/cli"
	"github.com/forest6511/rvault/pkg/crypto"
	"github.com/forest6511/rvault/pkg/vault"
)

var statusJSON bool

func init() {
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

// readSecret prompts on stderr so stdout stays machine-readable.
func readSecret(cmd *cobra.Command, prompt string) ([]byte, error) {
	return cli.ReadSecret(stdin, cmd.ErrOrStderr(), prompt)
}

// requireSession fails before any prompt when no session is active.
func requireSession() error {
	mek, err := v.ActiveKey()
	if err != nil {
		return err
	}
	crypto.SecureWipe(mek)
	return nil
}

// setupCmd creates the keystore and configuration
var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create a new vault protected by a master password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if v.IsSetUp() {
			return vault.ErrAlreadySetUp
		}
		out := cmd.OutOrStdout()

		password, err := readSecret(cmd, "Enter master password: ")
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(password)

		// Piped input carries a single copy of the password.
		if cli.IsTerminal(stdin) {
			confirm, err := readSecret(cmd, "Confirm master password: ")
			if err != nil {
				return err
			}
			match := bytes.Equal(password, confirm)
			crypto.SecureWipe(confirm)
			if !match {
				return errors.New("passwords do not match")
			}
		}

		result := vault.ValidateMasterPassword(string(password))
		if !result.Valid {
			return result.Err
		}
		fmt.Fprintf(out, "Password strength: %s\n", cli.Highlight.Sprint(result.Strength))
		for _, w := range result.Warnings {
			fmt.Fprintln(out, cli.Warn(w))
		}

		stop := cli.StartSpinner(cmd.ErrOrStderr(), "Deriving keys...")
		if err := v.Setup(password); err != nil {
			stop("")
			return err
		}
		stop(cli.OK("Vault created"))

		fmt.Fprintf(out, "Configuration: %s\n", v.Paths().ConfigFile())
		fmt.Fprintln(out, cli.Hint("Run "+cli.Code.Sprint("rvault unlock")+" to start a session"))
		return nil
	},
}

// unlockCmd verifies the master password and starts a session
var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Unlock the vault for the configured session timeout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !v.IsSetUp() {
			return vault.ErrNotSetUp
		}

		password, err := readSecret(cmd, "Master password: ")
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(password)

		stop := cli.StartSpinner(cmd.ErrOrStderr(), "Unlocking...")
		if err := v.Unlock(password); err != nil {
			stop("")
			return err
		}
		st := v.Status()
		stop(cli.OK(fmt.Sprintf("Vault unlocked for %s", formatDuration(st.Remaining))))
		return nil
	},
}

// lockCmd ends the active session
var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Lock the vault and remove the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := v.Lock(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cli.OK("Vault locked"))
		return nil
	},
}

// statusCmd shows setup, session and cooldown state
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault and session status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st := v.Status()
		out := cmd.OutOrStdout()

		if statusJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}

		if !st.SetUp {
			fmt.Fprintln(out, "Vault: "+cli.Warning.Sprint("not set up"))
			return nil
		}
		if st.Unlocked {
			fmt.Fprintf(out, "Vault: %s %s\n", cli.Success.Sprint("unlocked"),
				cli.Muted.Sprintf("expires in %s", formatDuration(st.Remaining)))
		} else {
			fmt.Fprintln(out, "Vault: "+cli.Info.Sprint("locked"))
		}
		if name, err := currentVault(); err == nil {
			fmt.Fprintf(out, "Current vault: %s\n", cli.Highlight.Sprint(name))
		}
		if st.FailedAttempts > 0 {
			fmt.Fprintf(out, "Failed unlock attempts: %d\n", st.FailedAttempts)
		}
		if st.Cooldown > 0 {
			fmt.Fprintln(out, cli.Warn("Unlock cooldown: "+formatDuration(st.Cooldown)))
		}
		return nil
	},
}

// formatDuration rounds d to whole seconds for display.
func formatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}
