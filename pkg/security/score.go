package security

import (
	"bytes"
	"strconv"
	"time"
)

// DefaultMaxAge is how long a secret may go unchanged before it is reported
// as stale.
const DefaultMaxAge = 365 * 24 * time.Hour

// Item is one decrypted entry to analyze.
type Item struct {
	Platform  string
	User      string
	Secret    []byte
	UpdatedAt time.Time
}

// Label identifies the item in reports.
func (i Item) Label() string {
	return i.Platform + "/" + i.User
}

// Report is the overall health assessment of a vault.
type Report struct {
	// Overall is the total score (0-100).
	Overall     int             `json:"overall"`
	Components  ScoreComponents `json:"components"`
	Issues      []Issue         `json:"issues"`
	Suggestions []string        `json:"suggestions"`
	Entries     int             `json:"entries"`
}

// ScoreComponents breaks the score into categories of up to 25 points each.
type ScoreComponents struct {
	StrengthScore   int `json:"strength"`
	UniquenessScore int `json:"uniqueness"`
	FreshnessScore  int `json:"freshness"`
}

// IssueType identifies the type of issue.
type IssueType string

const (
	IssueWeakPassword      IssueType = "weak"
	IssueDuplicatePassword IssueType = "duplicate"
	IssueStale             IssueType = "stale"
)

// Severity indicates the urgency of an issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Issue is one detected problem.
type Issue struct {
	Type     IssueType `json:"type"`
	Severity Severity  `json:"severity"`
	// Entry is the affected "platform/user" label, when requested.
	Entry string `json:"entry,omitempty"`
	// Entries is set for duplicate issues.
	Entries     []string `json:"entries,omitempty"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion,omitempty"`
}

// Analyzer computes health reports.
type Analyzer struct {
	now     func() time.Time
	maxAge  time.Duration
	hmacKey []byte
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// WithMaxAge sets the stale threshold.
func WithMaxAge(d time.Duration) Option {
	return func(a *Analyzer) { a.maxAge = d }
}

// NewAnalyzer returns an Analyzer.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{now: time.Now, maxAge: DefaultMaxAge}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze scores items. When includeLabels is false, issues omit entry
// labels.
func (a *Analyzer) Analyze(items []Item, includeLabels bool) (*Report, error) {
	if len(items) == 0 {
		return &Report{
			Overall:     100,
			Components:  ScoreComponents{StrengthScore: 25, UniquenessScore: 25, FreshnessScore: 25},
			Issues:      []Issue{},
			Suggestions: []string{},
		}, nil
	}

	strength, weak := a.strengthScore(items, includeLabels)
	uniqueness, dups, err := a.uniquenessScore(items, includeLabels)
	if err != nil {
		return nil, err
	}
	freshness, stale := a.freshnessScore(items, includeLabels)

	issues := make([]Issue, 0, len(weak)+len(dups)+len(stale))
	issues = append(issues, weak...)
	issues = append(issues, dups...)
	issues = append(issues, stale...)

	return &Report{
		Overall: (strength + uniqueness + freshness) * 100 / 75,
		Components: ScoreComponents{
			StrengthScore:   strength,
			UniquenessScore: uniqueness,
			FreshnessScore:  freshness,
		},
		Issues:      issues,
		Suggestions: suggestions(issues),
		Entries:     len(items),
	}, nil
}

// FindWeak returns issues for items rated PasswordWeak.
func (a *Analyzer) FindWeak(items []Item, includeLabels bool) []Issue {
	_, issues := a.strengthScore(items, includeLabels)
	return issues
}

func (a *Analyzer) strengthScore(items []Item, includeLabels bool) (int, []Issue) {
	var issues []Issue
	total, counted := 0, 0

	for _, it := range items {
		if len(it.Secret) == 0 {
			continue
		}
		counted++
		s := Strength(it.Secret)
		total += s.Points()
		if s != PasswordWeak {
			continue
		}
		issue := Issue{
			Type:        IssueWeakPassword,
			Severity:    SeverityWarning,
			Description: "Password has insufficient strength (" + formatLength(len([]rune(string(it.Secret)))) + ")",
			Suggestion:  "Use a longer password (14+ characters recommended)",
		}
		if includeLabels {
			issue.Entry = it.Label()
		}
		issues = append(issues, issue)
	}

	if counted == 0 {
		return 25, issues
	}
	return total / counted, issues
}

func (a *Analyzer) uniquenessScore(items []Item, includeLabels bool) (int, []Issue, error) {
	groups, err := a.FindDuplicates(items, includeLabels, 0)
	if err != nil {
		return 0, nil, err
	}

	seen := make(map[string]bool)
	total := 0
	for _, it := range items {
		v := bytes.TrimSpace(it.Secret)
		if len(v) == 0 {
			continue
		}
		total++
		seen[a.valueHash(v)] = true
	}
	if total == 0 {
		return 25, nil, nil
	}

	var issues []Issue
	for _, g := range groups {
		issue := Issue{
			Type:        IssueDuplicatePassword,
			Severity:    SeverityWarning,
			Description: strconv.Itoa(g.Count) + " entries share the same password",
			Suggestion:  "Use unique passwords for each entry",
		}
		if includeLabels {
			issue.Entries = g.Entries
		}
		issues = append(issues, issue)
	}
	return len(seen) * 25 / total, issues, nil
}

func (a *Analyzer) freshnessScore(items []Item, includeLabels bool) (int, []Issue) {
	var issues []Issue
	now := a.now()
	fresh := 0

	for _, it := range items {
		if it.UpdatedAt.IsZero() || now.Sub(it.UpdatedAt) < a.maxAge {
			fresh++
			continue
		}
		days := int(now.Sub(it.UpdatedAt).Hours() / 24)
		issue := Issue{
			Type:        IssueStale,
			Severity:    SeverityInfo,
			Description: "Password unchanged for " + formatDays(days),
			Suggestion:  "Rotate long-lived passwords",
		}
		if includeLabels {
			issue.Entry = it.Label()
		}
		issues = append(issues, issue)
	}
	return fresh * 25 / len(items), issues
}

func suggestions(issues []Issue) []string {
	var hasWeak, hasDuplicate, hasStale bool
	for _, issue := range issues {
		switch issue.Type {
		case IssueWeakPassword:
			hasWeak = true
		case IssueDuplicatePassword:
			hasDuplicate = true
		case IssueStale:
			hasStale = true
		}
	}

	out := []string{}
	if hasWeak {
		out = append(out, "Update weak passwords with stronger alternatives (14+ characters)")
	}
	if hasDuplicate {
		out = append(out, "Replace duplicate passwords with unique values")
	}
	if hasStale {
		out = append(out, "Rotate passwords that have not changed in over a year")
	}
	return out
}

func formatLength(n int) string {
	if n == 1 {
		return "1 character"
	}
	return strconv.Itoa(n) + " characters"
}

func formatDays(days int) string {
	if days == 1 {
		return "1 day"
	}
	return strconv.Itoa(days) + " days"
}
