package security

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// DuplicateGroup is a set of entries sharing the same secret.
type DuplicateGroup struct {
	// Entries holds "platform/user" labels when requested.
	Entries []string `json:"entries,omitempty"`
	Count   int      `json:"count"`
}

// FindDuplicates groups items whose secrets are equal after trimming
// surrounding whitespace. Secrets are compared as HMAC-SHA256 digests under
// a random per-Analyzer key that is never persisted. Groups are returned
// largest first; limit 0 means no limit.
func (a *Analyzer) FindDuplicates(items []Item, includeLabels bool, limit int) ([]DuplicateGroup, error) {
	if err := a.ensureKey(); err != nil {
		return nil, err
	}

	byHash := make(map[string][]Item)
	var order []string
	for _, it := range items {
		v := bytes.TrimSpace(it.Secret)
		if len(v) == 0 {
			continue
		}
		h := a.valueHash(v)
		if _, ok := byHash[h]; !ok {
			order = append(order, h)
		}
		byHash[h] = append(byHash[h], it)
	}

	var groups []DuplicateGroup
	for _, h := range order {
		members := byHash[h]
		if len(members) < 2 {
			continue
		}
		g := DuplicateGroup{Count: len(members)}
		if includeLabels {
			for _, m := range members {
				g.Entries = append(g.Entries, m.Label())
			}
		}
		groups = append(groups, g)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Count > groups[j].Count
	})
	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}
	return groups, nil
}

func (a *Analyzer) ensureKey() error {
	if a.hmacKey != nil {
		return nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return err
	}
	a.hmacKey = key
	return nil
}

func (a *Analyzer) valueHash(v []byte) string {
	h := hmac.New(sha256.New, a.hmacKey)
	h.Write(v)
	return hex.EncodeToString(h.Sum(nil))
}
