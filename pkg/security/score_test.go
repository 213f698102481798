package security

import (
	"testing"
	"time"
)

var testNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestAnalyzer() *Analyzer {
	return NewAnalyzer(WithClock(func() time.Time { return testNow }))
}

func item(platform, user, secret string, age time.Duration) Item {
	return Item{Platform: platform, User: user, Secret: []byte(secret), UpdatedAt: testNow.Add(-age)}
}

// TestAnalyzeEmpty tests the perfect score for an empty vault.
func TestAnalyzeEmpty(t *testing.T) {
	r, err := newTestAnalyzer().Analyze(nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if r.Overall != 100 || len(r.Issues) != 0 {
		t.Errorf("unexpected report %+v", r)
	}
}

// TestAnalyzeHealthy tests a vault with strong unique fresh secrets.
func TestAnalyzeHealthy(t *testing.T) {
	items := []Item{
		item("github", "alice", "correct-horse-battery-staple", time.Hour),
		item("gitlab", "alice", "another-long-unique-passphrase", time.Hour),
	}
	r, err := newTestAnalyzer().Analyze(items, true)
	if err != nil {
		t.Fatal(err)
	}
	if r.Overall != 100 {
		t.Errorf("expected 100, got %d (%+v)", r.Overall, r.Components)
	}
	if len(r.Issues) != 0 || len(r.Suggestions) != 0 {
		t.Errorf("expected no issues, got %+v", r.Issues)
	}
	if r.Entries != 2 {
		t.Errorf("expected 2 entries, got %d", r.Entries)
	}
}

// TestAnalyzeIssues tests that weak, duplicate and stale entries are
// reported.
func TestAnalyzeIssues(t *testing.T) {
	items := []Item{
		item("github", "alice", "short", time.Hour),
		item("bank", "alice", "shared-password-value", time.Hour),
		item("mail", "alice", "shared-password-value", 2*DefaultMaxAge),
	}
	r, err := newTestAnalyzer().Analyze(items, true)
	if err != nil {
		t.Fatal(err)
	}

	counts := map[IssueType]int{}
	for _, issue := range r.Issues {
		counts[issue.Type]++
	}
	if counts[IssueWeakPassword] != 1 || counts[IssueDuplicatePassword] != 1 || counts[IssueStale] != 1 {
		t.Errorf("unexpected issue counts %v", counts)
	}
	if len(r.Suggestions) != 3 {
		t.Errorf("expected 3 suggestions, got %v", r.Suggestions)
	}
	if r.Overall >= 100 {
		t.Errorf("expected reduced score, got %d", r.Overall)
	}

	for _, issue := range r.Issues {
		if issue.Type == IssueWeakPassword && issue.Entry != "github/alice" {
			t.Errorf("expected weak entry github/alice, got %q", issue.Entry)
		}
	}
}

// TestAnalyzeWithoutLabels tests that labels are omitted on request.
func TestAnalyzeWithoutLabels(t *testing.T) {
	items := []Item{
		item("a", "u", "dup-password-1", time.Hour),
		item("b", "u", "dup-password-1", time.Hour),
		item("c", "u", "weak", time.Hour),
	}
	r, err := newTestAnalyzer().Analyze(items, false)
	if err != nil {
		t.Fatal(err)
	}
	for _, issue := range r.Issues {
		if issue.Entry != "" || len(issue.Entries) != 0 {
			t.Errorf("expected no labels, got %+v", issue)
		}
	}
}

// TestFindDuplicates tests grouping, ordering and limits.
func TestFindDuplicates(t *testing.T) {
	items := []Item{
		item("a", "u", "one", 0),
		item("b", "u", " one ", 0),
		item("c", "u", "two", 0),
		item("d", "u", "two", 0),
		item("e", "u", "two", 0),
		item("f", "u", "unique", 0),
		item("g", "u", "", 0),
		item("h", "u", "", 0),
	}
	a := newTestAnalyzer()

	groups, err := a.FindDuplicates(items, true, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].Count != 3 || groups[1].Count != 2 {
		t.Errorf("expected counts 3,2 got %d,%d", groups[0].Count, groups[1].Count)
	}
	if groups[1].Entries[0] != "a/u" || groups[1].Entries[1] != "b/u" {
		t.Errorf("unexpected labels %v", groups[1].Entries)
	}

	limited, err := a.FindDuplicates(items, false, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].Entries != nil {
		t.Errorf("unexpected limited result %+v", limited)
	}
}

// TestFindWeak tests weak detection.
func TestFindWeak(t *testing.T) {
	items := []Item{
		item("a", "u", "1234567", 0),
		item("b", "u", "12345678", 0),
	}
	issues := newTestAnalyzer().FindWeak(items, true)
	if len(issues) != 1 || issues[0].Entry != "a/u" {
		t.Errorf("unexpected issues %+v", issues)
	}
}
