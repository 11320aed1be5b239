package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Sparkline block characters representing 8 vertical levels (lowest to highest).
var sparklineBlocks = []rune("▁▂▃▄▅▆▇█")

// History keeps the most recent values of one metric for a sparkline.
type History struct {
	values []float64
	size   int
}

// NewHistory keeps up to size values.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 1
	}
	return &History{size: size}
}

// Add appends v, dropping the oldest value when full.
func (h *History) Add(v float64) {
	h.values = append(h.values, v)
	if len(h.values) > h.size {
		h.values = h.values[len(h.values)-h.size:]
	}
}

// Values returns the retained values, oldest first.
func (h *History) Values() []float64 {
	return h.values
}

// Reset drops all values.
func (h *History) Reset() {
	h.values = nil
}

// RenderSparkline draws the most recent width values of a percentage series
// on a fixed 0-100 scale, colored by the last value.
func RenderSparkline(data []float64, width int) string {
	if len(data) == 0 || width <= 0 {
		return ""
	}
	if len(data) > width {
		data = data[len(data)-width:]
	}

	var sb strings.Builder
	sb.Grow(len(data) * 3)
	top := len(sparklineBlocks) - 1
	for _, v := range data {
		level := int(ClampPercent(v) / 100 * float64(top))
		sb.WriteRune(sparklineBlocks[level])
	}

	last := data[len(data)-1]
	return lipgloss.NewStyle().Foreground(ThresholdColor(last)).Render(sb.String())
}
