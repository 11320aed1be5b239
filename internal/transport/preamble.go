package transport

import (
	"strings"
	"sync"
	"time"
)

// Console noise cmd.exe prints before the command's own output.
var (
	codePageMarkers = []string{"active code page", "활성 코드 페이지"}
	bannerMarkers   = []string{"microsoft windows [version", "(c) microsoft corporation"}
)

// preambleFilter drops shell start-up noise from the first lines of a local
// stream. It only filters while its window is open; the window closes on
// the UTF-8 code page acknowledgement, on the first real output line, or
// when the deadline passes.
type preambleFilter struct {
	mu       sync.Mutex
	open     bool
	deadline time.Time
	now      func() time.Time
}

func newPreambleFilter(enabled bool, window time.Duration, now func() time.Time) *preambleFilter {
	if now == nil {
		now = time.Now
	}
	return &preambleFilter{
		open:     enabled && window > 0,
		deadline: now().Add(window),
		now:      now,
	}
}

// Keep reports whether line is real output.
func (f *preambleFilter) Keep(line string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open {
		return true
	}
	if f.now().After(f.deadline) {
		f.open = false
		return true
	}

	t := strings.ToLower(strings.TrimSpace(line))
	switch {
	case t == "":
		return false
	case containsAny(t, codePageMarkers):
		if strings.Contains(t, "65001") {
			f.open = false
		}
		return false
	case containsAny(t, bannerMarkers):
		return false
	}

	f.open = false
	return true
}

// Open reports whether the filter is still inspecting lines.
func (f *preambleFilter) Open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
