package session

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/forest6511/rvault/internal/fsutil"
)

// fakeClock is a settable time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestManager(t *testing.T, timeout time.Duration) (*Manager, *fakeClock, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "sessions")
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(dir, func() time.Duration { return timeout }, WithClock(clock.Now))
	return m, clock, dir
}

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

// TestStartActiveKey tests the basic session round trip
func TestStartActiveKey(t *testing.T) {
	m, _, dir := newTestManager(t, time.Hour)

	token, err := m.Start(testKey(1))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !validToken(token) {
		t.Errorf("token %q is not a %d character alphanumeric string", token, TokenLength)
	}

	key, err := m.ActiveKey()
	if err != nil {
		t.Fatalf("ActiveKey failed: %v", err)
	}
	if !bytes.Equal(key, testKey(1)) {
		t.Error("ActiveKey returned a different key")
	}

	current, err := os.ReadFile(filepath.Join(dir, currentFile))
	if err != nil || string(current) != token {
		t.Errorf("current pointer = %q, want %q (%v)", current, token, err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(filepath.Join(dir, token))
		if err != nil {
			t.Fatalf("Stat failed: %v", err)
		}
		if info.Mode().Perm() != fsutil.FileMode {
			t.Errorf("session file mode = %o, want %o", info.Mode().Perm(), fsutil.FileMode)
		}
	}
}

// TestStartReplacesPreviousSession tests at most one session exists
func TestStartReplacesPreviousSession(t *testing.T) {
	m, _, dir := newTestManager(t, time.Hour)

	first, err := m.Start(testKey(1))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	second, err := m.Start(testKey(2))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if first == second {
		t.Fatal("tokens should differ")
	}

	if _, err := os.Stat(filepath.Join(dir, first)); !os.IsNotExist(err) {
		t.Error("previous session file was not removed")
	}
	key, err := m.ActiveKey()
	if err != nil || !bytes.Equal(key, testKey(2)) {
		t.Errorf("ActiveKey returned wrong session: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Errorf("session dir has %d entries, want 2", len(entries))
	}
}

// TestSessionExpiry tests the TTL boundary
func TestSessionExpiry(t *testing.T) {
	const timeout = 10 * time.Minute
	m, clock, dir := newTestManager(t, timeout)
	start := clock.t

	token, err := m.Start(testKey(3))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	clock.t = start.Add(timeout - time.Second)
	if _, err := m.ActiveKey(); err != nil {
		t.Fatalf("ActiveKey before expiry failed: %v", err)
	}

	clock.t = start.Add(timeout)
	if _, err := m.ActiveKey(); !errors.Is(err, ErrExpired) {
		t.Fatalf("ActiveKey at expiry error = %v, want ErrExpired", err)
	}
	if _, err := os.Stat(filepath.Join(dir, token)); !os.IsNotExist(err) {
		t.Error("expired session file was not removed")
	}

	if _, err := m.ActiveKey(); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("ActiveKey after expiry error = %v, want ErrNoActiveSession", err)
	}
}

// TestTimeoutReadLive tests that timeout changes apply to a running session
func TestTimeoutReadLive(t *testing.T) {
	timeout := time.Hour
	dir := filepath.Join(t.TempDir(), "sessions")
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(dir, func() time.Duration { return timeout }, WithClock(clock.Now))

	if _, err := m.Start(testKey(4)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	clock.t = clock.t.Add(30 * time.Minute)
	if _, err := m.ActiveKey(); err != nil {
		t.Fatalf("ActiveKey failed: %v", err)
	}

	timeout = 15 * time.Minute
	if _, err := m.ActiveKey(); !errors.Is(err, ErrExpired) {
		t.Errorf("ActiveKey after lowering timeout error = %v, want ErrExpired", err)
	}
}

// TestStatus tests start and expiry reporting
func TestStatus(t *testing.T) {
	m, clock, _ := newTestManager(t, 20*time.Minute)
	start := clock.t

	if _, err := m.Status(); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("Status without session error = %v", err)
	}
	if _, err := m.Start(testKey(5)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	clock.t = start.Add(5 * time.Minute)
	info, err := m.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !info.StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v, want %v", info.StartedAt, start)
	}
	if got := info.Remaining(clock.t); got != 15*time.Minute {
		t.Errorf("Remaining = %v, want 15m", got)
	}
}

// TestEnd tests session removal and the no-session no-op
func TestEnd(t *testing.T) {
	m, _, dir := newTestManager(t, time.Hour)

	if err := m.End(); err != nil {
		t.Errorf("End without session error = %v, want nil", err)
	}

	token, err := m.Start(testKey(6))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	for _, name := range []string{token, currentFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s still exists after End", name)
		}
	}
	if _, err := m.ActiveKey(); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("ActiveKey after End error = %v", err)
	}
	if err := m.End(); err != nil {
		t.Errorf("second End error = %v", err)
	}
}

// TestCorruptedSession tests malformed pointer and key files
func TestCorruptedSession(t *testing.T) {
	t.Run("pointer escapes directory", func(t *testing.T) {
		m, _, dir := newTestManager(t, time.Hour)
		if err := os.MkdirAll(dir, fsutil.DirMode); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, currentFile), []byte("../../etc/passwd"), fsutil.FileMode); err != nil {
			t.Fatal(err)
		}
		if _, err := m.ActiveKey(); !errors.Is(err, ErrCorrupted) {
			t.Errorf("ActiveKey error = %v, want ErrCorrupted", err)
		}
	})

	t.Run("short key file", func(t *testing.T) {
		m, _, dir := newTestManager(t, time.Hour)
		token, err := m.Start(testKey(7))
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, token), []byte("short"), fsutil.FileMode); err != nil {
			t.Fatal(err)
		}
		// WriteFile moved the mtime to the wall clock; the fake clock is earlier.
		if err := os.Chtimes(filepath.Join(dir, token), time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)); err != nil {
			t.Fatal(err)
		}
		if _, err := m.ActiveKey(); !errors.Is(err, ErrCorrupted) {
			t.Errorf("ActiveKey error = %v, want ErrCorrupted", err)
		}
	})

	t.Run("dangling pointer", func(t *testing.T) {
		m, _, dir := newTestManager(t, time.Hour)
		token, err := m.Start(testKey(8))
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		os.Remove(filepath.Join(dir, token))
		if _, err := m.ActiveKey(); !errors.Is(err, ErrNoActiveSession) {
			t.Errorf("ActiveKey error = %v, want ErrNoActiveSession", err)
		}
	})
}

// TestStartRejectsBadKey tests key length validation
func TestStartRejectsBadKey(t *testing.T) {
	m, _, _ := newTestManager(t, time.Hour)
	if _, err := m.Start([]byte("short")); err == nil {
		t.Error("Start accepted a short key")
	}
}
