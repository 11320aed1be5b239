package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/skarch/logpanel/internal/metrics"
)

// Bar block characters.
const (
	BarFilled = '█'
	BarEmpty  = '░'
)

// NotAvailable is shown instead of a metric while disconnected.
const NotAvailable = "—"

// ClampPercent clamps a percentage to the 0-100 range.
func ClampPercent(percent float64) float64 {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

// ThresholdColor returns colors for resource usage, where higher is worse:
// 0-60% green, 60-80% yellow, 80%+ red.
func ThresholdColor(percent float64) lipgloss.Color {
	switch {
	case percent >= 80:
		return ColorError
	case percent >= 60:
		return ColorWarning
	default:
		return ColorSuccess
	}
}

// RenderBar renders [████░░░░]  42% for a 0-100 percentage. The width is
// the number of block characters.
func RenderBar(percent float64, width int) string {
	if width <= 0 {
		return ""
	}
	percent = ClampPercent(percent)
	filled := int(percent / 100.0 * float64(width))

	var sb strings.Builder
	sb.Grow(width*3 + 2)
	sb.WriteRune('[')
	for i := 0; i < width; i++ {
		if i < filled {
			sb.WriteRune(BarFilled)
		} else {
			sb.WriteRune(BarEmpty)
		}
	}
	sb.WriteRune(']')

	style := lipgloss.NewStyle().Foreground(ThresholdColor(percent))
	return style.Render(sb.String()) + fmt.Sprintf(" %3.0f%%", percent)
}

// FormatRate renders a network rate in MB/s.
func FormatRate(mbps float64) string {
	if mbps < 0 {
		mbps = 0
	}
	if mbps < 10 {
		return fmt.Sprintf("%.2f MB/s", mbps)
	}
	return fmt.Sprintf("%.1f MB/s", mbps)
}

// RenderMetrics renders a one-line CPU / RAM / network summary. Without a
// live connection or a sample every value shows as NotAvailable.
func RenderMetrics(s metrics.Sample, live bool, barWidth int) string {
	label := lipgloss.NewStyle().Foreground(ColorMuted)
	if !live || s.IsZero() {
		na := label.Render(NotAvailable)
		return fmt.Sprintf("%s %s  %s %s  %s %s",
			label.Render("CPU"), na, label.Render("RAM"), na, label.Render("NET"), na)
	}
	return fmt.Sprintf("%s %s  %s %s  %s %s",
		label.Render("CPU"), RenderBar(s.CPUPercent, barWidth),
		label.Render("RAM"), RenderBar(s.RAMPercent, barWidth),
		label.Render("NET"), FormatRate(s.NetworkMBps))
}
