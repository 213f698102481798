package store

import (
	"fmt"
	"strings"
)

// SortMode orders List results after pinned entries.
type SortMode int

const (
	SortTimeDesc SortMode = iota // most recently updated first
	SortTimeAsc
	SortPlatformAsc
	SortPlatformDesc
	SortUserAsc
	SortUserDesc
)

var sortNames = map[SortMode]string{
	SortTimeDesc:     "time-desc",
	SortTimeAsc:      "time-asc",
	SortPlatformAsc:  "platform-asc",
	SortPlatformDesc: "platform-desc",
	SortUserAsc:      "user-asc",
	SortUserDesc:     "user-desc",
}

// orderBy is the only source of ORDER BY text; nothing user supplied reaches it.
var orderBy = map[SortMode]string{
	SortTimeDesc:     "updated_at DESC, id DESC",
	SortTimeAsc:      "updated_at ASC, id ASC",
	SortPlatformAsc:  "platform COLLATE NOCASE ASC, user_id COLLATE NOCASE ASC, id ASC",
	SortPlatformDesc: "platform COLLATE NOCASE DESC, user_id COLLATE NOCASE DESC, id DESC",
	SortUserAsc:      "user_id COLLATE NOCASE ASC, platform COLLATE NOCASE ASC, id ASC",
	SortUserDesc:     "user_id COLLATE NOCASE DESC, platform COLLATE NOCASE DESC, id DESC",
}

func (m SortMode) String() string {
	if name, ok := sortNames[m]; ok {
		return name
	}
	return fmt.Sprintf("SortMode(%d)", int(m))
}

// SortModes lists every mode in display order.
func SortModes() []SortMode {
	return []SortMode{SortTimeDesc, SortTimeAsc, SortPlatformAsc, SortPlatformDesc, SortUserAsc, SortUserDesc}
}

// SortModeNames returns the names of SortModes, comma separated.
func SortModeNames() string {
	names := make([]string, 0, len(sortNames))
	for _, m := range SortModes() {
		names = append(names, m.String())
	}
	return strings.Join(names, ", ")
}

// ParseSortMode parses a name such as "platform-asc".
func ParseSortMode(s string) (SortMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for mode, name := range sortNames {
		if name == s {
			return mode, nil
		}
	}
	return SortTimeDesc, fmt.Errorf("store: unknown sort mode %q (use %s)", s, SortModeNames())
}
