package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/forest6511/rvault/pkg/audit"
	"github.com/forest6511/rvault/pkg/session"
	"github.com/forest6511/rvault/pkg/store"
)

// resetFlags restores every flag to its default between invocations.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// runCLI executes rvault with args, feeding input on stdin, and returns
// what the command wrote to stdout.
func runCLI(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	out, _, err := runCLIStderr(t, input, args...)
	return out, err
}

// runCLIStderr is runCLI that also returns what the command wrote to stderr.
func runCLIStderr(t *testing.T, input string, args ...string) (string, string, error) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "stdin")
	if err := os.WriteFile(path, []byte(input), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	oldStdin := stdin
	stdin = f
	defer func() { stdin = oldStdin }()

	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{"--log-file", "discard"}, args...))
	err = rootCmd.Execute()
	return out.String(), errOut.String(), err
}

// TestCommandsEndToEnd tests a full session through the command layer.
func TestCommandsEndToEnd(t *testing.T) {
	t.Setenv("RVAULT_HOME", t.TempDir())
	t.Setenv("NO_COLOR", "1")

	const master = "correct-horse-battery\n"

	out, status, err := runCLIStderr(t, master, "setup")
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if !strings.Contains(out, "Password strength") {
		t.Errorf("setup output missing strength: %q", out)
	}
	if !strings.Contains(status, "Vault created") {
		t.Errorf("setup status missing from stderr: %q", status)
	}

	if _, err := runCLI(t, master, "setup"); err == nil {
		t.Error("expected second setup to fail")
	}

	if _, err := runCLI(t, "", "get", "github", "alice"); !errors.Is(err, session.ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession before unlock, got %v", err)
	}

	_, status, err = runCLIStderr(t, master, "unlock")
	if err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if !strings.Contains(status, "Vault unlocked for") {
		t.Errorf("unlock status missing from stderr: %q", status)
	}

	if _, err := runCLI(t, "p@ss-word-1\n", "add", "github", "alice"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	out, err = runCLI(t, "", "get", "github", "alice")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if out != "p@ss-word-1\n" {
		t.Errorf("get = %q", out)
	}

	out, err = runCLI(t, "", "add", "gitlab", "bob", "--generate", "--show", "--length", "30")
	if err != nil {
		t.Fatalf("add --generate failed: %v", err)
	}
	if len(strings.TrimSpace(out)) != 30 {
		t.Errorf("expected a 30 character generated password, got %q", out)
	}

	if _, err := runCLI(t, "", "pin", "gitlab", "bob"); err != nil {
		t.Fatalf("pin failed: %v", err)
	}

	out, err = runCLI(t, "", "list", "--format", "json", "--sort", "platform-asc")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	var entries []store.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("list output is not JSON: %v", err)
	}
	if len(entries) != 2 || entries[0].Platform != "gitlab" || !entries[0].Pinned {
		t.Errorf("expected pinned gitlab first, got %+v", entries)
	}

	out, err = runCLI(t, "", "list", "--format", "json", "--user", "ALI*")
	if err != nil {
		t.Fatal(err)
	}
	entries = nil
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].UserID != "alice" {
		t.Errorf("expected only alice, got %+v", entries)
	}

	if _, err := runCLI(t, "", "update", "github", "alice", "--rename", "alice2", "--keep-secret"); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	out, err = runCLI(t, "", "get", "github", "alice2")
	if err != nil || out != "p@ss-word-1\n" {
		t.Errorf("renamed entry: %q, %v", out, err)
	}

	if _, err := runCLI(t, "", "create", "work"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := runCLI(t, "", "use", "work"); err != nil {
		t.Fatalf("use failed: %v", err)
	}
	out, err = runCLI(t, "", "vaults")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "* work") || !strings.Contains(out, "  main") {
		t.Errorf("unexpected vaults output %q", out)
	}
	out, err = runCLI(t, "", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No entries found") {
		t.Errorf("expected empty work vault, got %q", out)
	}
	if _, err := runCLI(t, "", "use", "missing"); !errors.Is(err, store.ErrVaultNotFound) {
		t.Errorf("expected ErrVaultNotFound, got %v", err)
	}

	out, err = runCLI(t, "", "audit", "list", "--format", "json", "--platform", "gitlab", "--user", "bob")
	if err != nil {
		t.Fatalf("audit list --platform failed: %v", err)
	}
	var events []audit.Event
	if err := json.Unmarshal([]byte(out), &events); err != nil {
		t.Fatalf("audit list output is not JSON: %v", err)
	}
	// add and pin
	if len(events) != 2 {
		t.Errorf("expected 2 events for gitlab/bob, got %d", len(events))
	}
	for _, e := range events {
		if e.Subject == "" || e.Subject != events[0].Subject {
			t.Errorf("event %s has subject %q", e.Operation, e.Subject)
		}
	}
	if _, err := runCLI(t, "", "audit", "list", "--platform", "gitlab"); err == nil {
		t.Error("expected --platform without --user to fail")
	}

	out, err = runCLI(t, "", "audit", "verify")
	if err != nil {
		t.Fatalf("audit verify failed: %v", err)
	}
	if !strings.Contains(out, "chain intact") {
		t.Errorf("unexpected verify output %q", out)
	}

	if _, err := runCLI(t, "", "lock"); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if _, err := runCLI(t, "", "get", "--vault", "main", "github", "alice2"); !errors.Is(err, session.ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession after lock, got %v", err)
	}

	out, err = runCLI(t, "", "status", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var st struct {
		SetUp    bool `json:"set_up"`
		Unlocked bool `json:"unlocked"`
	}
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatal(err)
	}
	if !st.SetUp || st.Unlocked {
		t.Errorf("unexpected status %+v", st)
	}
}

// TestUnlockWrongPasswordCommand tests that a failed unlock reports the
// error without echoing the password.
func TestUnlockWrongPasswordCommand(t *testing.T) {
	t.Setenv("RVAULT_HOME", t.TempDir())
	t.Setenv("NO_COLOR", "1")

	if _, err := runCLI(t, "correct-horse-battery\n", "setup"); err != nil {
		t.Fatal(err)
	}
	_, err := runCLI(t, "not-the-password\n", "unlock")
	if err == nil {
		t.Fatal("expected unlock to fail")
	}
	if strings.Contains(err.Error(), "not-the-password") {
		t.Error("error message contains the password")
	}
}
