package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/rvault/internal/cli"
)

func init() {
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(vaultsCmd)
	rootCmd.AddCommand(useCmd)
}

var createCmd = &cobra.Command{
	Use:   "create <vault>",
	Short: "Create an empty vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := v.CreateVault(args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), cli.OK("Created vault "+cli.Highlight.Sprint(args[0])))
		return nil
	},
}

var vaultsCmd = &cobra.Command{
	Use:   "vaults",
	Short: "List vaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := v.Vaults()
		if err != nil {
			return err
		}
		current, err := currentVault()
		if err != nil {
			return err
		}
		renderVaults(cmd.OutOrStdout(), names, current)
		return nil
	},
}

var useCmd = &cobra.Command{
	Use:   "use <vault>",
	Short: "Select the vault later commands operate on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := v.UseVault(args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), cli.OK("Using vault "+cli.Highlight.Sprint(args[0])))
		return nil
	},
}
