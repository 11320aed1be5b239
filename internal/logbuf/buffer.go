// Package logbuf holds the bounded, ordered log of one server session.
package logbuf

import (
	"sync"
	"time"

	"github.com/skarch/logpanel/internal/classify"
)

// DefaultCapacity is the number of lines kept when no capacity is given.
const DefaultCapacity = 500

// Source identifies where a line came from.
type Source string

const (
	Stdout Source = "stdout"
	Stderr Source = "stderr"
	// System lines are produced by logpanel itself (banners, failures).
	System Source = "system"
)

// Line is one retained log line. Seq increases by one per append and is
// never reused within a buffer.
type Line struct {
	Seq    uint64    `json:"seq"`
	Text   string    `json:"text"`
	Source Source    `json:"source"`
	Time   time.Time `json:"time"`
}

// Level classifies the line on demand.
func (l Line) Level() classify.Level {
	return classify.Classify(l.Text)
}

// Buffer is a fixed-capacity FIFO of lines. All methods are safe for
// concurrent use.
type Buffer struct {
	mu      sync.Mutex
	data    []Line
	head    int
	count   int
	nextSeq uint64
	now     func() time.Time
}

// New creates a buffer holding at most capacity lines.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		data:    make([]Line, capacity),
		nextSeq: 1,
		now:     time.Now,
	}
}

// Capacity returns the maximum number of retained lines.
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// Append adds a line, evicting the oldest one when full.
func (b *Buffer) Append(src Source, text string) Line {
	b.mu.Lock()
	defer b.mu.Unlock()

	line := Line{Seq: b.nextSeq, Text: text, Source: src, Time: b.now()}
	b.nextSeq++

	size := len(b.data)
	if b.count < size {
		b.data[(b.head+b.count)%size] = line
		b.count++
	} else {
		b.data[b.head] = line
		b.head = (b.head + 1) % size
	}

	return line
}

// Snapshot returns a copy of all retained lines, oldest first.
func (b *Buffer) Snapshot() []Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Buffer) snapshotLocked() []Line {
	out := make([]Line, b.count)
	size := len(b.data)
	for i := 0; i < b.count; i++ {
		out[i] = b.data[(b.head+i)%size]
	}
	return out
}

// Since returns retained lines with Seq greater than seq. Lines already
// evicted are silently skipped; callers can detect the gap by comparing the
// first returned Seq with seq+1.
func (b *Buffer) Since(seq uint64) []Line {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := len(b.data)
	out := make([]Line, 0)
	for i := 0; i < b.count; i++ {
		l := b.data[(b.head+i)%size]
		if l.Seq > seq {
			out = append(out, l)
		}
	}
	return out
}

// Errors returns retained lines classified as errors, oldest first.
func (b *Buffer) Errors() []Line {
	var out []Line
	for _, l := range b.Snapshot() {
		if l.Level() == classify.Error {
			out = append(out, l)
		}
	}
	return out
}

// Len returns the number of retained lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// LastSeq returns the sequence number of the most recent append, or 0.
func (b *Buffer) LastSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextSeq - 1
}

// Remove deletes every retained line whose text equals text and returns how
// many were removed. Sequence numbers of the remaining lines are unchanged.
func (b *Buffer) Remove(text string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.snapshotLocked()
	n := 0
	for _, l := range kept {
		if l.Text != text {
			kept[n] = l
			n++
		}
	}
	removed := b.count - n
	if removed == 0 {
		return 0
	}

	for i := range b.data {
		b.data[i] = Line{}
	}
	copy(b.data, kept[:n])
	b.head = 0
	b.count = n
	return removed
}

// Clear drops all retained lines. Sequence numbers keep increasing.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.data {
		b.data[i] = Line{}
	}
	b.head = 0
	b.count = 0
}
