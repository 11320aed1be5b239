package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// HostProber reads metrics of the machine logpanel itself runs on.
type HostProber struct {
	rate RateTracker
	now  func() time.Time
}

// NewHostProber returns a prober backed by gopsutil.
func NewHostProber() *HostProber {
	return &HostProber{now: time.Now}
}

// Probe implements Prober.
func (h *HostProber) Probe(ctx context.Context, f Field) (float64, error) {
	switch f {
	case CPU:
		// Interval 0 compares against the previous call, so it never blocks.
		pct, err := cpu.PercentWithContext(ctx, 0, false)
		if err != nil {
			return 0, err
		}
		if len(pct) == 0 {
			return 0, fmt.Errorf("no cpu reading")
		}
		return clampPercent(pct[0]), nil
	case RAM:
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return 0, err
		}
		return clampPercent(vm.UsedPercent), nil
	case Network:
		counters, err := net.IOCountersWithContext(ctx, false)
		if err != nil {
			return 0, err
		}
		if len(counters) == 0 {
			return 0, fmt.Errorf("no network counters")
		}
		total := counters[0].BytesRecv + counters[0].BytesSent
		return h.rate.Observe(total, h.now()), nil
	default:
		return 0, fmt.Errorf("unknown field %s", f)
	}
}
