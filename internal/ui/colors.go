package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Semantic colors for status indication. ANSI codes keep them readable on
// both light and dark terminals.
const (
	ColorSuccess lipgloss.Color = "2" // Green
	ColorError   lipgloss.Color = "1" // Red
	ColorWarning lipgloss.Color = "3" // Yellow
	ColorInfo    lipgloss.Color = "6" // Cyan
)

// Text colors for content hierarchy
const (
	ColorPrimary   lipgloss.Color = "7" // White/default
	ColorSecondary lipgloss.Color = "4" // Blue
	ColorMuted     lipgloss.Color = "8" // Gray (bright black)
)

// SpinnerColors cycle while a spinner animates.
var SpinnerColors = []lipgloss.Color{ColorInfo, ColorSecondary, ColorInfo, ColorSuccess}

// DisableColors switches all rendering to plain text (--no-color, pipes).
func DisableColors() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// EnableColors forces ANSI colors regardless of the detected terminal.
func EnableColors() {
	lipgloss.SetColorProfile(termenv.ANSI256)
}
