package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/skarch/logpanel/internal/logger"
)

// DefaultInterval is the sampling period when none is configured.
const DefaultInterval = 5 * time.Second

// SampleFunc takes one sample. It should honor ctx; ctx is cancelled when
// the sampler stops.
type SampleFunc func(ctx context.Context)

// Sampler runs a SampleFunc on a fixed interval. A tick that fires while the
// previous sample is still running is skipped, not queued.
type Sampler struct {
	interval time.Duration
	log      logger.Logger
	job      cron.Job
	fn       SampleFunc

	mu      sync.Mutex
	wg      sync.WaitGroup
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewSampler creates a stopped sampler.
func NewSampler(interval time.Duration, fn SampleFunc, log logger.Logger) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Sampler{
		interval: interval,
		log:      logger.OrDefault(log),
		fn:       fn,
		ctx:      context.Background(),
	}
	cl := cronLogger{s.log}
	s.job = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(s.runOnce))
	return s
}

func (s *Sampler) runOnce() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	s.fn(ctx)
}

// Start begins sampling. The first sample is taken immediately. Calling
// Start on a running sampler does nothing.
func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cron.New(cron.WithLogger(cronLogger{s.log}))
	s.cron.Schedule(cron.Every(s.interval), s.job)
	s.cron.Start()
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.job.Run()
	}()
}

// Stop cancels any in-flight sample and waits for it to return. Safe to call
// on a stopped sampler.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c := s.cron
	s.cancel()
	s.mu.Unlock()

	<-c.Stop().Done()
	s.wg.Wait()
}

// Running reports whether the sampler is scheduled.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// cronLogger routes cron's own logging into a logger.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("metrics sampler: %s %s", msg, formatKV(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("metrics sampler: %s: %v %s", msg, err, formatKV(keysAndValues))
}

func formatKV(kv []interface{}) string {
	out := ""
	for i := 0; i+1 < len(kv); i += 2 {
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%v=%v", kv[i], kv[i+1])
	}
	return out
}
