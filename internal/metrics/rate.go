package metrics

import (
	"sync"
	"time"
)

const bytesPerMB = 1024 * 1024

// RateTracker turns a cumulative byte counter into MB/s between readings.
type RateTracker struct {
	mu        sync.Mutex
	prevBytes uint64
	prevTime  time.Time
}

// Observe records a counter reading and returns the rate since the previous
// one. The first reading, a counter reset, or a zero interval yields 0.
func (r *RateTracker) Observe(total uint64, now time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	defer func() {
		r.prevBytes = total
		r.prevTime = now
	}()

	if r.prevTime.IsZero() || total < r.prevBytes {
		return 0
	}
	elapsed := now.Sub(r.prevTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(total-r.prevBytes) / bytesPerMB / elapsed
}
