// Package main provides the rvault CLI commands.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/forest6511/rvault/internal/cli"
	"github.com/forest6511/rvault/pkg/session"
	"github.com/forest6511/rvault/pkg/store"
	"github.com/forest6511/rvault/pkg/vault"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cli.Fail(err.Error()))
		if hint := hintFor(err); hint != "" {
			fmt.Fprintln(os.Stderr, cli.Hint(hint))
		}
		os.Exit(1)
	}
}

// hintFor suggests a follow-up command for common failures.
func hintFor(err error) string {
	switch {
	case errors.Is(err, vault.ErrNotSetUp):
		return "Run " + cli.Code.Sprint("rvault setup") + " to create a vault"
	case errors.Is(err, session.ErrNoActiveSession), errors.Is(err, session.ErrExpired):
		return "Run " + cli.Code.Sprint("rvault unlock") + " to start a session"
	case errors.Is(err, store.ErrVaultNotFound):
		return "Run " + cli.Code.Sprint("rvault vaults") + " to see available vaults"
	case errors.Is(err, store.ErrPinLimitExceeded):
		return "Unpin an entry with " + cli.Code.Sprint("rvault pin <platform> <user>")
	}
	return ""
}
