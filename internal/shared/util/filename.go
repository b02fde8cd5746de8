package util

import "strings"

// SafeFileName flattens name into a single path segment. Separators become
// underscores, ".." runs are removed, and an empty result becomes fallback.
func SafeFileName(name, fallback string) string {
	s := strings.TrimSpace(name)
	s = strings.NewReplacer("/", "_", "\\", "_").Replace(s)
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", ".")
	}
	s = strings.Trim(s, ". ")
	if s == "" {
		return fallback
	}
	return s
}
