package flatten

import (
	"regexp"
	"strings"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	nonAlnumRun   = regexp.MustCompile(`[^A-Za-z0-9]+`)
)

// Unnamed is the identifier used when a name sanitizes to nothing.
const Unnamed = "unnamed"

// Sanitize turns arbitrary text into a stable column identifier:
// whitespace runs collapse to one space, the result is trimmed, every run of
// characters outside [A-Za-z0-9] becomes a single underscore, and leading or
// trailing underscores are dropped. Empty results map to "unnamed".
//
// Sanitize is idempotent; identical input always yields identical output,
// which is what lets equally-titled questions share a column.
func Sanitize(name string) string {
	name = strings.TrimSpace(whitespaceRun.ReplaceAllString(name, " "))
	name = nonAlnumRun.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		return Unnamed
	}
	return name
}

// SanitizeValue sanitizes the cell text of an arbitrary value.
func SanitizeValue(v Value) string {
	return Sanitize(ToCell(v))
}
