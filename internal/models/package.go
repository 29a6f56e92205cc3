// Package models defines the domain types for pkgsnap.
package models

import (
	"sort"
	"strings"
	"time"
)

// Entity is one normalized package record of the current snapshot.
type Entity struct {
	Name    *string
	ID      string
	Version string
	Tags    []string
}

// TrackedEntity is an Entity carrying the moment its (ID, Version) pair was
// first observed.
type TrackedEntity struct {
	Entity
	LastChanged time.Time
}

// DisplayName returns the package name, or the empty string when absent.
func (e Entity) DisplayName() string {
	if e.Name == nil {
		return ""
	}
	return *e.Name
}

// SameID reports whether two ids are equal under case-insensitive comparison.
func SameID(a, b string) bool {
	return strings.EqualFold(a, b)
}

// CompareID orders ids case-insensitively. Both sides are upper-cased so the
// order matches an ordinal comparison of invariant upper-case strings.
func CompareID(a, b string) int {
	return strings.Compare(strings.ToUpper(a), strings.ToUpper(b))
}

// NormalizeTags trims, drops empties, removes case-insensitive duplicates
// (first spelling wins) and sorts the result ascending.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToUpper(t)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := CompareID(out[i], out[j]); c != 0 {
			return c < 0
		}
		return out[i] < out[j]
	})
	return out
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
