package store

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/forest6511/rvault/pkg/crypto"
)

var testEntryParams = crypto.KDFParams{Time: 1, MemoryKiB: 64, Parallelism: 1}

// testClock advances one second per call so updated_at values are distinct.
type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	clock := &testClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	path := filepath.Join(t.TempDir(), "data", "vault.db")
	return New(path, WithEntryKDF(testEntryParams), WithClock(clock.Now))
}

func testMEK(b byte) []byte {
	return bytes.Repeat([]byte{b}, crypto.KeyLength)
}

// TestPutGet tests the encrypt/decrypt round trip
func TestPutGet(t *testing.T) {
	s := newTestStore(t)
	mek := testMEK(1)

	if err := s.Put("main", mek, "github", "alice", []byte("p@ss1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get("main", mek, "github", "alice")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "p@ss1" {
		t.Errorf("Get() = %q, want %q", got, "p@ss1")
	}

	e, err := s.Entry("main", "github", "alice")
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if bytes.Contains(e.Ciphertext, []byte("p@ss1")) {
		t.Error("plaintext stored in the clear")
	}
	if len(e.Salt) != crypto.SaltLength || len(e.Nonce) != crypto.NonceLength {
		t.Errorf("salt/nonce lengths = %d/%d", len(e.Salt), len(e.Nonce))
	}
}

// TestPutReplaces tests upsert semantics and fresh salt per write
func TestPutReplaces(t *testing.T) {
	s := newTestStore(t)
	mek := testMEK(1)

	if err := s.Put("main", mek, "github", "alice", []byte("first")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	before, _ := s.Entry("main", "github", "alice")

	if err := s.Put("main", mek, "github", "alice", []byte("second")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	after, _ := s.Entry("main", "github", "alice")

	if after.ID != before.ID {
		t.Error("replace should keep the row")
	}
	if !after.CreatedAt.Equal(before.CreatedAt) {
		t.Error("created_at changed on replace")
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Error("updated_at not advanced on replace")
	}
	if bytes.Equal(after.Salt, before.Salt) || bytes.Equal(after.Nonce, before.Nonce) {
		t.Error("salt and nonce must be fresh for every write")
	}

	got, _ := s.Get("main", mek, "github", "alice")
	if string(got) != "second" {
		t.Errorf("Get() = %q, want second", got)
	}
	entries, _ := s.List("main", SortTimeDesc)
	if len(entries) != 1 {
		t.Errorf("List() returned %d entries, want 1", len(entries))
	}
}

// TestGetWrongKey tests that a different MEK is a decryption failure, not not-found
func TestGetWrongKey(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("main", testMEK(1), "github", "alice", []byte("p@ss1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get("main", testMEK(2), "github", "alice")
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("Get error = %v, want ErrDecryptionFailed", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("decryption failure reported as not found")
	}
	if got != nil {
		t.Error("Get returned data on failure")
	}
}

// TestGetSwappedCiphertext tests that ciphertext is bound to its row
func TestGetSwappedCiphertext(t *testing.T) {
	s := newTestStore(t)
	mek := testMEK(1)
	if err := s.Put("main", mek, "github", "alice", []byte("alice-secret")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put("main", mek, "github", "bob", []byte("bob-secret")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	alice, _ := s.Entry("main", "github", "alice")
	bob, _ := s.Entry("main", "github", "bob")
	bob.Ciphertext, bob.Nonce, bob.Salt = alice.Ciphertext, alice.Nonce, alice.Salt

	if _, err := s.Open(bob, mek); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Open with swapped ciphertext error = %v, want ErrDecryptionFailed", err)
	}
}

// TestGetNotFound tests missing entries and vaults
func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	mek := testMEK(1)

	if _, err := s.Get("main", mek, "github", "alice"); !errors.Is(err, ErrVaultNotFound) {
		t.Errorf("Get on missing vault error = %v, want ErrVaultNotFound", err)
	}
	if err := s.CreateTable("main"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if _, err := s.Get("main", mek, "github", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get on missing entry error = %v, want ErrNotFound", err)
	}
}

// TestRemove tests deletion and that absence is not an error
func TestRemove(t *testing.T) {
	s := newTestStore(t)
	mek := testMEK(1)

	if err := s.Remove("main", "github", "alice"); err != nil {
		t.Errorf("Remove on missing vault error = %v", err)
	}
	if err := s.Put("main", mek, "github", "alice", []byte("x")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Remove("main", "github", "alice"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := s.Get("main", mek, "github", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Remove error = %v, want ErrNotFound", err)
	}
	if err := s.Remove("main", "github", "alice"); err != nil {
		t.Errorf("second Remove error = %v", err)
	}
}

// TestTogglePinLimit tests the pin cap
func TestTogglePinLimit(t *testing.T) {
	s := newTestStore(t)
	mek := testMEK(1)

	for i := 0; i <= MaxPinned; i++ {
		if err := s.Put("main", mek, "site", fmt.Sprintf("user%02d", i), []byte("pw")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	for i := 0; i < MaxPinned; i++ {
		pinned, err := s.TogglePin("main", "site", fmt.Sprintf("user%02d", i))
		if err != nil || !pinned {
			t.Fatalf("TogglePin(%d) = %v, %v", i, pinned, err)
		}
	}

	eleventh := fmt.Sprintf("user%02d", MaxPinned)
	if _, err := s.TogglePin("main", "site", eleventh); !errors.Is(err, ErrPinLimitExceeded) {
		t.Fatalf("TogglePin over limit error = %v, want ErrPinLimitExceeded", err)
	}
	e, _ := s.Entry("main", "site", eleventh)
	if e.Pinned {
		t.Error("entry pinned despite limit")
	}

	pinned, err := s.TogglePin("main", "site", "user00")
	if err != nil || pinned {
		t.Fatalf("unpin = %v, %v", pinned, err)
	}
	pinned, err = s.TogglePin("main", "site", eleventh)
	if err != nil || !pinned {
		t.Errorf("TogglePin after unpin = %v, %v", pinned, err)
	}
}

// TestTogglePinNotFound tests pinning a missing entry
func TestTogglePinNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateTable("main"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if _, err := s.TogglePin("main", "github", "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("TogglePin error = %v, want ErrNotFound", err)
	}
}

// TestUpdate tests password change and rename
func TestUpdate(t *testing.T) {
	s := newTestStore(t)
	mek := testMEK(1)
	if err := s.Put("main", mek, "github", "alice", []byte("old")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := s.TogglePin("main", "github", "alice"); err != nil {
		t.Fatalf("TogglePin failed: %v", err)
	}

	if err := s.Update("main", mek, "github", "alice", "alice2", []byte("new")); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, err := s.Get("main", mek, "github", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old user still present: %v", err)
	}
	got, err := s.Get("main", mek, "github", "alice2")
	if err != nil || string(got) != "new" {
		t.Errorf("Get renamed = %q, %v", got, err)
	}
	e, _ := s.Entry("main", "github", "alice2")
	if !e.Pinned {
		t.Error("pin lost on update")
	}

	if err := s.Update("main", mek, "github", "alice2", "alice2", []byte("newer")); err != nil {
		t.Fatalf("Update without rename failed: %v", err)
	}
	got, _ = s.Get("main", mek, "github", "alice2")
	if string(got) != "newer" {
		t.Errorf("Get() = %q, want newer", got)
	}

	if err := s.Update("main", mek, "github", "ghost", "ghost2", []byte("x")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update missing error = %v, want ErrNotFound", err)
	}
}

// TestUpdateConflict tests that renaming onto an existing user changes nothing
func TestUpdateConflict(t *testing.T) {
	s := newTestStore(t)
	mek := testMEK(1)
	if err := s.Put("main", mek, "A", "u1", []byte("one")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put("main", mek, "A", "u2", []byte("two")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	before, _ := s.Entry("main", "A", "u1")

	if err := s.Update("main", mek, "A", "u1", "u2", []byte("changed")); !errors.Is(err, ErrConflict) {
		t.Fatalf("Update error = %v, want ErrConflict", err)
	}

	after, _ := s.Entry("main", "A", "u1")
	if !bytes.Equal(after.Ciphertext, before.Ciphertext) || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Error("original row modified by failed rename")
	}
	got, _ := s.Get("main", mek, "A", "u2")
	if string(got) != "two" {
		t.Errorf("target row modified: %q", got)
	}
}

// TestValidateTableName tests the identifier allow-list
func TestValidateTableName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"main", true},
		{"Work_2024", true},
		{"_", true},
		{"", false},
		{"has space", false},
		{"drop;table", false},
		{`quote"d`, false},
		{"dash-name", false},
		{"ünïcode", false},
		{"schema_version", false},
		{"sqlite_master", false},
		{string(bytes.Repeat([]byte("a"), MaxTableNameLength+1)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTableName(tt.name)
			if tt.valid && err != nil {
				t.Errorf("ValidateTableName(%q) error = %v", tt.name, err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidTableName) {
				t.Errorf("ValidateTableName(%q) error = %v, want ErrInvalidTableName", tt.name, err)
			}
		})
	}
}

// TestInvalidTableNameRejectedBeforeSQL tests that no database is touched
func TestInvalidTableNameRejectedBeforeSQL(t *testing.T) {
	s := newTestStore(t)
	mek := testMEK(1)
	bad := "x; DROP TABLE main"

	checks := map[string]error{
		"CreateTable": s.CreateTable(bad),
		"Put":         s.Put(bad, mek, "p", "u", []byte("x")),
		"Remove":      s.Remove(bad, "p", "u"),
	}
	_, checks["Get"] = s.Get(bad, mek, "p", "u")
	_, checks["TogglePin"] = s.TogglePin(bad, "p", "u")
	_, checks["List"] = s.List(bad, SortTimeDesc)
	checks["Update"] = s.Update(bad, mek, "p", "u", "v", []byte("x"))

	for op, err := range checks {
		if !errors.Is(err, ErrInvalidTableName) {
			t.Errorf("%s error = %v, want ErrInvalidTableName", op, err)
		}
	}
	if matches, _ := filepath.Glob(s.Path()); len(matches) != 0 {
		t.Error("database file created for an invalid vault name")
	}
}

// TestTables tests vault listing
func TestTables(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"work", "main", "personal"} {
		if err := s.CreateTable(name); err != nil {
			t.Fatalf("CreateTable(%s) failed: %v", name, err)
		}
	}
	tables, err := s.Tables()
	if err != nil {
		t.Fatalf("Tables failed: %v", err)
	}
	want := []string{"main", "personal", "work"}
	if fmt.Sprint(tables) != fmt.Sprint(want) {
		t.Errorf("Tables() = %v, want %v", tables, want)
	}
}

// TestTableNameCaseInsensitive tests that vault names differing only in
// case address the same table for every operation
func TestTableNameCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	mek := testMEK(1)

	if err := s.CreateTable("main"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if err := s.Put("MAIN", mek, "github", "alice", []byte("p@ss1")); err != nil {
		t.Fatalf("Put(MAIN) failed: %v", err)
	}

	got, err := s.Get("MAIN", mek, "github", "alice")
	if err != nil {
		t.Fatalf("Get(MAIN) failed: %v", err)
	}
	if string(got) != "p@ss1" {
		t.Errorf("Get(MAIN) = %q, want %q", got, "p@ss1")
	}
	if _, err := s.Get("main", mek, "github", "alice"); err != nil {
		t.Errorf("Get(main) failed: %v", err)
	}

	entries, err := s.List("Main", SortTimeDesc)
	if err != nil {
		t.Fatalf("List(Main) failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("List(Main) returned %d entries, want 1", len(entries))
	}
	if _, err := s.TogglePin("mAiN", "github", "alice"); err != nil {
		t.Errorf("TogglePin(mAiN) failed: %v", err)
	}

	stored, err := s.ResolveTable("MAIN")
	if err != nil {
		t.Fatalf("ResolveTable failed: %v", err)
	}
	if stored != "main" {
		t.Errorf("ResolveTable(MAIN) = %q, want main", stored)
	}

	if err := s.CreateTable("MAIN"); err != nil {
		t.Fatalf("CreateTable(MAIN) failed: %v", err)
	}
	tables, err := s.Tables()
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(tables) != "[main]" {
		t.Errorf("Tables() = %v, want [main]", tables)
	}

	if err := s.Remove("MAIN", "github", "alice"); err != nil {
		t.Fatalf("Remove(MAIN) failed: %v", err)
	}
	if _, err := s.Get("main", mek, "github", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Remove(MAIN) error = %v, want ErrNotFound", err)
	}

	if _, err := s.ResolveTable("other"); !errors.Is(err, ErrVaultNotFound) {
		t.Errorf("ResolveTable(other) error = %v, want ErrVaultNotFound", err)
	}
}

// TestListOrder tests pinned-first ordering for every sort mode
func TestListOrder(t *testing.T) {
	s := newTestStore(t)
	mek := testMEK(1)

	// Inserted in this order, so updated_at increases down the list.
	rows := []struct{ platform, user string }{
		{"github", "bob"},
		{"Amazon", "carol"},
		{"zoom", "alice"},
		{"bank", "Dave"},
	}
	for _, r := range rows {
		if err := s.Put("main", mek, r.platform, r.user, []byte("pw")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if _, err := s.TogglePin("main", "zoom", "alice"); err != nil {
		t.Fatalf("TogglePin failed: %v", err)
	}

	tests := []struct {
		mode SortMode
		want []string
	}{
		{SortTimeDesc, []string{"zoom", "bank", "Amazon", "github"}},
		{SortTimeAsc, []string{"zoom", "github", "Amazon", "bank"}},
		{SortPlatformAsc, []string{"zoom", "Amazon", "bank", "github"}},
		{SortPlatformDesc, []string{"zoom", "github", "bank", "Amazon"}},
		{SortUserAsc, []string{"zoom", "github", "Amazon", "bank"}},
		{SortUserDesc, []string{"zoom", "bank", "Amazon", "github"}},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			entries, err := s.List("main", tt.mode)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			var got []string
			for _, e := range entries {
				got = append(got, e.Platform)
				if len(e.Ciphertext) == 0 {
					t.Error("List returned an entry without ciphertext")
				}
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("List(%s) = %v, want %v", tt.mode, got, tt.want)
			}
			if !entries[0].Pinned {
				t.Error("pinned entry not first")
			}
		})
	}
}

// TestSortModes tests parsing and naming
func TestSortModes(t *testing.T) {
	for _, m := range SortModes() {
		parsed, err := ParseSortMode(m.String())
		if err != nil || parsed != m {
			t.Errorf("ParseSortMode(%q) = %v, %v", m.String(), parsed, err)
		}
	}
	if _, err := ParseSortMode("random"); err == nil {
		t.Error("ParseSortMode accepted an unknown mode")
	}
	if got := SortModeNames(); got != "time-desc, time-asc, platform-asc, platform-desc, user-asc, user-desc" {
		t.Errorf("SortModeNames() = %q", got)
	}
}

// TestMigrateLegacyTable tests upgrading a table written by an older version
func TestMigrateLegacyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	_, err = db.Exec(`CREATE TABLE main (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		platform TEXT NOT NULL,
		user_id TEXT NOT NULL,
		password TEXT NOT NULL,
		nonce TEXT,
		salt TEXT,
		UNIQUE(platform, user_id)
	)`)
	if err != nil {
		t.Fatalf("create legacy table failed: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO main (platform, user_id, password) VALUES ('old', 'legacy', 'plaintext')`); err != nil {
		t.Fatalf("insert legacy row failed: %v", err)
	}
	db.Close()

	s := New(path, WithEntryKDF(testEntryParams))
	mek := testMEK(1)

	entries, err := s.List("main", SortPlatformAsc)
	if err != nil {
		t.Fatalf("List after migration failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Platform != "old" || entries[0].Pinned {
		t.Fatalf("unexpected migrated entries: %+v", entries)
	}

	if _, err := s.Get("main", mek, "old", "legacy"); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("legacy row Get error = %v, want ErrDecryptionFailed", err)
	}

	if err := s.Put("main", mek, "new", "user", []byte("fresh")); err != nil {
		t.Fatalf("Put after migration failed: %v", err)
	}
	if _, err := s.TogglePin("main", "old", "legacy"); err != nil {
		t.Fatalf("TogglePin after migration failed: %v", err)
	}
	got, err := s.Get("main", mek, "new", "user")
	if err != nil || string(got) != "fresh" {
		t.Errorf("Get after migration = %q, %v", got, err)
	}

	db, _ = sql.Open("sqlite", path)
	defer db.Close()
	version, err := getSchemaVersion(db)
	if err != nil || version != CurrentSchemaVersion {
		t.Errorf("schema version = %d, %v", version, err)
	}
}

// TestIntegrityCheck tests the SQLite integrity check
func TestIntegrityCheck(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.IntegrityCheck(); err == nil {
		t.Error("IntegrityCheck on missing database should fail")
	}
	if err := s.CreateTable("main"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	result, err := s.IntegrityCheck()
	if err != nil || result != "ok" {
		t.Errorf("IntegrityCheck() = %q, %v", result, err)
	}
}
