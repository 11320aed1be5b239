// Package metrics gathers CPU, memory and network readings for a session and
// schedules periodic sampling.
package metrics

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/skarch/logpanel/internal/errors"
)

// Sample is a point-in-time reading. Values are last-known: a field that
// could not be refreshed keeps its previous value.
type Sample struct {
	CPUPercent  float64   `json:"cpuPercent"`
	RAMPercent  float64   `json:"ramPercent"`
	NetworkMBps float64   `json:"networkMBps"`
	Time        time.Time `json:"time"`
}

// IsZero reports whether no sample has been taken yet.
func (s Sample) IsZero() bool {
	return s.Time.IsZero()
}

// Field identifies one metric within a sample.
type Field int

const (
	CPU Field = iota
	RAM
	Network
)

// Fields lists every field in sample order.
var Fields = []Field{CPU, RAM, Network}

func (f Field) String() string {
	switch f {
	case CPU:
		return "cpu"
	case RAM:
		return "ram"
	case Network:
		return "network"
	default:
		return fmt.Sprintf("field(%d)", int(f))
	}
}

func (s Sample) get(f Field) float64 {
	switch f {
	case CPU:
		return s.CPUPercent
	case RAM:
		return s.RAMPercent
	default:
		return s.NetworkMBps
	}
}

func (s *Sample) set(f Field, v float64) {
	if v < 0 {
		v = 0
	}
	switch f {
	case CPU:
		s.CPUPercent = v
	case RAM:
		s.RAMPercent = v
	default:
		s.NetworkMBps = v
	}
}

// Prober reads a single field.
type Prober interface {
	Probe(ctx context.Context, f Field) (float64, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, f Field) (float64, error)

// Probe calls fn.
func (fn ProberFunc) Probe(ctx context.Context, f Field) (float64, error) {
	return fn(ctx, f)
}

// Gather probes every field concurrently. A failed field keeps its value from
// prev and the returned error has reason PartialFailure. If every field fails
// prev is returned unchanged with reason TotalFailure. Neither is fatal.
func Gather(ctx context.Context, p Prober, prev Sample, now time.Time) (Sample, error) {
	type result struct {
		field Field
		value float64
		err   error
	}

	results := make([]result, len(Fields))
	var wg sync.WaitGroup
	for i, f := range Fields {
		wg.Add(1)
		go func(i int, f Field) {
			defer wg.Done()
			v, err := p.Probe(ctx, f)
			results[i] = result{field: f, value: v, err: err}
		}(i, f)
	}
	wg.Wait()

	next := prev
	var failed []string
	for _, r := range results {
		if r.err != nil {
			failed = append(failed, fmt.Sprintf("%s: %s", r.field, errors.Summary(r.err)))
			next.set(r.field, prev.get(r.field))
			continue
		}
		next.set(r.field, r.value)
	}

	switch {
	case len(failed) == len(Fields):
		return prev, errors.New(errors.ErrMetrics,
			"All metrics probes failed: "+strings.Join(failed, "; "), "").
			WithReason(errors.TotalFailure)
	case len(failed) > 0:
		next.Time = now
		return next, errors.New(errors.ErrMetrics,
			"Some metrics probes failed: "+strings.Join(failed, "; "), "").
			WithReason(errors.PartialFailure)
	default:
		next.Time = now
		return next, nil
	}
}
