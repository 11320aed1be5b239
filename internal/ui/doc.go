// Package ui renders logpanel output for terminals: colored log lines,
// session state badges, metric bars and sparklines, server tables, spinners
// and the interactive server picker.
//
// Log lines are colored by classify level:
//
//	Error   (red)    - lines containing "error", "[error]" or ✗
//	Warning (yellow) - lines containing "warn"
//	System  (cyan)   - banners and notices written by logpanel itself
//	Normal           - everything else
//
// Use DisableColors() to switch to plain output (for --no-color or when
// stdout is not a terminal).
package ui
