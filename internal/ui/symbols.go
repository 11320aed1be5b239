package ui

// Unicode symbols for status indicators.
const (
	SymbolSuccess  = "✓" // Operation succeeded
	SymbolFail     = "✗" // Operation failed
	SymbolPending  = "○" // Not started / disconnected
	SymbolProgress = "◐" // Connecting, starting, stopping
	SymbolComplete = "●" // Connected or running
	SymbolSkipped  = "⊘" // Nothing to do

	// Log banners written by sessions.
	SymbolStart = "▶"
	SymbolExit  = "■"
	SymbolInput = ">"
)
