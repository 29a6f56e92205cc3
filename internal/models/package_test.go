package models

import (
	"reflect"
	"testing"
)

func TestNormalizeTags(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil", nil, []string{}},
		{"sorted", []string{"zip", "archive"}, []string{"archive", "zip"}},
		{"case-insensitive dedup keeps first", []string{"Git", "git", "GIT"}, []string{"Git"}},
		{"trims and drops empty", []string{" cli ", "", "  "}, []string{"cli"}},
		{"case-insensitive order", []string{"b", "A", "c"}, []string{"A", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeTags(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NormalizeTags(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCompareID(t *testing.T) {
	if CompareID("baz.qux", "Foo.Bar") >= 0 {
		t.Error("baz.qux should sort before Foo.Bar")
	}
	if CompareID("Foo.Bar", "FOO.BAR") != 0 {
		t.Error("ids differing only by case should compare equal")
	}
	if !SameID("Foo.Bar", "foo.bar") {
		t.Error("SameID should ignore case")
	}
}

func TestDisplayName(t *testing.T) {
	if got := (Entity{}).DisplayName(); got != "" {
		t.Errorf("DisplayName() = %q, want empty", got)
	}
	if got := (Entity{Name: StringPtr("Git")}).DisplayName(); got != "Git" {
		t.Errorf("DisplayName() = %q, want Git", got)
	}
}
