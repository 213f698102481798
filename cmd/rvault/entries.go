package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/rvault/internal/cli"
	"github.com/forest6511/rvault/pkg/crypto"
	"github.com/forest6511/rvault/pkg/security"
	"github.com/forest6511/rvault/pkg/store"
)

// Add and update flags
var (
	entryGenerate bool
	entryLength   int
	entryShow     bool
	updateRename  string
	updateKeep    bool
)

// List flags
var (
	listSort     string
	listFormat   string
	listPlatform string
	listUser     string
)

func init() {
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(listCmd)

	for _, c := range []*cobra.Command{addCmd, updateCmd} {
		c.Flags().BoolVarP(&entryGenerate, "generate", "g", false, "Generate a random password instead of reading one")
		c.Flags().IntVarP(&entryLength, "length", "l", defaultPasswordLength, "Length of a generated password")
		c.Flags().BoolVar(&entryShow, "show", false, "Print the generated password")
	}
	updateCmd.Flags().StringVar(&updateRename, "rename", "", "New user identifier for the entry")
	updateCmd.Flags().BoolVar(&updateKeep, "keep-secret", false, "Keep the current secret (rename only)")

	listCmd.Flags().StringVarP(&listSort, "sort", "s", store.SortTimeDesc.String(), "Sort order: "+store.SortModeNames())
	listCmd.Flags().StringVarP(&listFormat, "format", "f", formatTable, "Output format: table, json, yaml")
	listCmd.Flags().StringVarP(&listPlatform, "platform", "p", "", "Filter by platform (glob, case-insensitive)")
	listCmd.Flags().StringVarP(&listUser, "user", "u", "", "Filter by user (glob, case-insensitive)")
}

// entrySecret generates or reads the secret for add and update.
func entrySecret(cmd *cobra.Command) ([]byte, error) {
	if entryGenerate {
		opts := crypto.DefaultGenerateOptions()
		opts.Length = entryLength
		pw, err := crypto.GeneratePassword(opts)
		if err != nil {
			return nil, err
		}
		return []byte(pw), nil
	}

	secret, err := readSecret(cmd, "Secret: ")
	if err != nil {
		return nil, err
	}
	if security.Strength(secret) == security.PasswordWeak {
		fmt.Fprintln(cmd.ErrOrStderr(), cli.Warn("This password is weak; consider "+cli.Code.Sprint("--generate")))
	}
	return secret, nil
}

// reportGenerated prints a generated secret only when --show is set.
func reportGenerated(cmd *cobra.Command, secret []byte) {
	if !entryGenerate {
		return
	}
	if entryShow {
		fmt.Fprintln(cmd.OutOrStdout(), string(secret))
		return
	}
	fmt.Fprintln(cmd.ErrOrStderr(), cli.Hint("Generated a "+fmt.Sprint(len(secret))+" character password"))
}

var addCmd = &cobra.Command{
	Use:   "add <platform> <user>",
	Short: "Store a password, replacing any existing entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := currentVault()
		if err != nil {
			return err
		}
		if err := requireSession(); err != nil {
			return err
		}

		secret, err := entrySecret(cmd)
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(secret)

		if err := v.Add(name, args[0], args[1], secret); err != nil {
			return err
		}
		reportGenerated(cmd, secret)
		fmt.Fprintln(cmd.ErrOrStderr(), cli.OK(fmt.Sprintf("Saved %s in %s", cli.Highlight.Sprint(args[0]+"/"+args[1]), name)))
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <platform> <user>",
	Short: "Print a stored password",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := currentVault()
		if err != nil {
			return err
		}
		secret, err := v.Get(name, args[0], args[1])
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(secret)

		out := cmd.OutOrStdout()
		if _, err := out.Write(secret); err != nil {
			return err
		}
		_, err = fmt.Fprintln(out)
		return err
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <platform> <user>",
	Short: "Change the password of an entry and optionally rename its user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := currentVault()
		if err != nil {
			return err
		}
		platform, user := args[0], args[1]
		newUser := user
		if updateRename != "" {
			newUser = updateRename
		}

		var secret []byte
		if updateKeep {
			if entryGenerate {
				return fmt.Errorf("--keep-secret and --generate are mutually exclusive")
			}
			secret, err = v.Get(name, platform, user)
		} else {
			if err := requireSession(); err != nil {
				return err
			}
			secret, err = entrySecret(cmd)
		}
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(secret)

		if err := v.Update(name, platform, user, newUser, secret); err != nil {
			return err
		}
		if !updateKeep {
			reportGenerated(cmd, secret)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), cli.OK("Updated "+cli.Highlight.Sprint(platform+"/"+newUser)))
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:     "remove <platform> <user>",
	Aliases: []string{"rm"},
	Short:   "Delete an entry",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := currentVault()
		if err != nil {
			return err
		}
		if err := v.Remove(name, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), cli.OK("Removed "+cli.Highlight.Sprint(args[0]+"/"+args[1])))
		return nil
	},
}

var pinCmd = &cobra.Command{
	Use:   "pin <platform> <user>",
	Short: "Pin or unpin an entry so it lists first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := currentVault()
		if err != nil {
			return err
		}
		pinned, err := v.TogglePin(name, args[0], args[1])
		if err != nil {
			return err
		}
		state := "Unpinned"
		if pinned {
			state = "Pinned"
		}
		fmt.Fprintln(cmd.ErrOrStderr(), cli.OK(state+" "+cli.Highlight.Sprint(args[0]+"/"+args[1])))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List entries, pinned first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := store.ParseSortMode(listSort)
		if err != nil {
			return err
		}
		name, err := currentVault()
		if err != nil {
			return err
		}
		entries, err := v.List(name, mode)
		if err != nil {
			return err
		}
		entries, err = cli.FilterEntries(entries, listPlatform, listUser)
		if err != nil {
			return err
		}
		return renderEntries(cmd.OutOrStdout(), listFormat, entries)
	},
}
