// Package classify sorts log lines into severity levels for coloring and
// for the error feed.
package classify

import "strings"

// Level is the severity assigned to a log line.
type Level int

const (
	Normal Level = iota
	Warning
	Error
)

func (l Level) String() string {
	switch l {
	case Error:
		return "error"
	case Warning:
		return "warning"
	default:
		return "normal"
	}
}

// errorMarkers are matched case-insensitively. The ✗ marker is what the
// session itself prefixes to failures it reports.
var errorMarkers = []string{"error", "✗", "[error]"}

// Classify returns the level for a single line. Error markers take
// precedence over warnings.
func Classify(line string) Level {
	lower := strings.ToLower(line)
	for _, m := range errorMarkers {
		if strings.Contains(lower, m) {
			return Error
		}
	}
	if strings.Contains(lower, "warn") {
		return Warning
	}
	return Normal
}

// IsError reports whether line belongs in the error feed.
func IsError(line string) bool {
	return Classify(line) == Error
}
