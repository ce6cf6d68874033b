// Package toolset resolves per-agent tool sources into a flattened, callable
// toolset, caching per-connection results and bounding discovery time so one
// slow connection cannot block generation.
package toolset

import "strings"

// Slugify normalizes a tool name for filter matching and model-facing
// identifiers: lowercase, runs of non-alphanumerics collapse to a single
// underscore, leading/trailing underscores trimmed.
func Slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	lastUnderscore := true
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	return strings.TrimSuffix(b.String(), "_")
}
