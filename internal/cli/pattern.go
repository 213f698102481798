// Package cli provides shared utilities for rvault commands.
package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/forest6511/rvault/pkg/store"
)

// ValidatePattern checks glob syntax.
func ValidatePattern(pattern string) error {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid pattern '%s': %w", pattern, err)
	}
	return nil
}

// Match reports whether s matches the glob pattern, ignoring case. A
// pattern without glob characters must equal s. An empty pattern matches
// everything.
func Match(pattern, s string) (bool, error) {
	if pattern == "" {
		return true, nil
	}
	pattern, s = strings.ToLower(pattern), strings.ToLower(s)
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == s, nil
	}
	return filepath.Match(pattern, s)
}

// FilterEntries keeps entries whose platform and user match the given
// patterns, preserving order.
func FilterEntries(entries []*store.Entry, platform, user string) ([]*store.Entry, error) {
	for _, p := range []string{platform, user} {
		if err := ValidatePattern(p); err != nil {
			return nil, err
		}
	}

	var out []*store.Entry
	for _, e := range entries {
		ok, err := Match(platform, e.Platform)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if ok, err = Match(user, e.UserID); err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}
