// Package strings provides string list helpers shared by configuration and
// upload validation.
package strings

import "strings"

// Normalize maps every value through fn, drops values that normalize to
// the empty string and removes duplicates. Order of first occurrence is
// preserved. A nil fn trims whitespace.
//
//	Normalize([]string{" image/PNG", "image/png; q=1", ""}, mimeKey)
//	// []string{"image/png"}
func Normalize(values []string, fn func(string) string) []string {
	if len(values) == 0 {
		return values
	}
	if fn == nil {
		fn = strings.TrimSpace
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		key := fn(v)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, key)
	}
	return result
}
