package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/skarch/logpanel/internal/logbuf"
	"github.com/stretchr/testify/require"
)

type sourcedLine struct {
	Source logbuf.Source
	Text   string
}

// collector is a Sink that records every line.
type collector struct {
	mu    sync.Mutex
	lines []sourcedLine
}

func (c *collector) Line(src logbuf.Source, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, sourcedLine{src, text})
}

func (c *collector) texts(src logbuf.Source) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, l := range c.lines {
		if l.Source == src {
			out = append(out, l.Text)
		}
	}
	return out
}

func (c *collector) waitFor(t *testing.T, src logbuf.Source, text string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, l := range c.texts(src) {
			if l == text {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "never saw %q on %s", text, src)
}

func waitDone(t *testing.T, s Stream) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("stream did not finish")
	}
}
