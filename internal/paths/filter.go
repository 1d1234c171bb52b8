// Package paths selects the files of a working tree that belong to a publish.
package paths

import (
	"path/filepath"
	"strings"
)

// Filter matches relative paths against an ordered list of prefixes.
//
// Matching is a plain string prefix test and is not aware of path segments:
// the prefix "dist" matches both "dist/app.js" and "distribution.txt". Use
// "dist/" when only the directory is wanted.
type Filter struct {
	prefixes []string
}

// NewFilter returns a Filter for the given prefixes. Prefixes are converted to
// slash form. A Filter without prefixes matches nothing.
func NewFilter(prefixes ...string) Filter {
	normalized := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		normalized = append(normalized, filepath.ToSlash(p))
	}
	return Filter{prefixes: normalized}
}

// Match reports whether rel starts with any configured prefix.
func (f Filter) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, p := range f.prefixes {
		if strings.HasPrefix(rel, p) {
			return true
		}
	}
	return false
}

// ParsePrefixes splits comma or newline separated input into prefixes. Entries
// are trimmed, a leading "./" is dropped and duplicates are removed keeping the
// first occurrence.
func ParsePrefixes(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})

	prefixes := make([]string, 0, len(fields))
	seen := make(map[string]struct{})

	for _, field := range fields {
		prefix := strings.TrimSpace(field)
		for strings.HasPrefix(prefix, "./") {
			prefix = strings.TrimPrefix(prefix, "./")
		}
		if prefix == "" {
			continue
		}

		if _, exists := seen[prefix]; exists {
			continue
		}

		seen[prefix] = struct{}{}
		prefixes = append(prefixes, prefix)
	}

	return prefixes
}
