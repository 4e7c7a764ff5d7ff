package llm

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/sync/semaphore"

	"github.com/podsight/backend/internal/pkg/logger"
)

type PoolClass string

const (
	PoolMining PoolClass = "mining"
	PoolEval   PoolClass = "eval"
)

// Pools enforces the hardware-derived concurrency ceilings: one weighted
// semaphore per pool class. A background monitor samples memory pressure and
// throttles by parking permits; in-flight calls are never interrupted.
type Pools struct {
	log    *logger.Logger
	mining *throttledSem
	eval   *throttledSem

	threshold float64 // fraction of memory used that triggers throttling
	interval  time.Duration
	sample    func() (usedFrac float64, ok bool)

	stopOnce sync.Once
	stop     chan struct{}
}

type PoolsOption func(*Pools)

// WithMemorySampler replaces the gopsutil sampler. Tests use this.
func WithMemorySampler(f func() (float64, bool)) PoolsOption {
	return func(p *Pools) { p.sample = f }
}

func WithMonitorInterval(d time.Duration) PoolsOption {
	return func(p *Pools) { p.interval = d }
}

func NewPools(hw HardwareProfile, threshold float64, baseLog *logger.Logger, opts ...PoolsOption) *Pools {
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.85
	}
	p := &Pools{
		log:       baseLog.With("component", "LLMPools"),
		mining:    newThrottledSem(int64(hw.MiningWorkers)),
		eval:      newThrottledSem(int64(hw.EvalWorkers)),
		threshold: threshold,
		interval:  5 * time.Second,
		sample:    sampleMemory,
		stop:      make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	go p.monitor()
	return p
}

func sampleMemory() (float64, bool) {
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Total == 0 {
		return 0, false
	}
	return float64(vm.Used) / float64(vm.Total), true
}

// Acquire blocks until a worker slot for the class is free or ctx is done.
func (p *Pools) Acquire(ctx context.Context, class PoolClass) error {
	return p.sem(class).acquire(ctx)
}

func (p *Pools) Release(class PoolClass) {
	p.sem(class).release()
}

func (p *Pools) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Pools) sem(class PoolClass) *throttledSem {
	if class == PoolEval {
		return p.eval
	}
	return p.mining
}

func (p *Pools) monitor() {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			p.mining.restore()
			p.eval.restore()
			return
		case <-t.C:
			used, ok := p.sample()
			if !ok {
				continue
			}
			if used >= p.threshold {
				if p.mining.throttle() || p.eval.throttle() {
					p.log.Warn("memory pressure, reducing runnable workers",
						"used_frac", used, "threshold", p.threshold)
				}
			} else {
				if p.mining.restore() || p.eval.restore() {
					p.log.Info("memory pressure cleared, restoring workers", "used_frac", used)
				}
			}
		}
	}
}

// throttledSem is a weighted semaphore whose capacity can be shrunk to half
// (minimum one runnable worker) by parking permits.
type throttledSem struct {
	mu       sync.Mutex
	capacity int64
	parked   int64
	sem      *semaphore.Weighted
}

func newThrottledSem(capacity int64) *throttledSem {
	if capacity < 1 {
		capacity = 1
	}
	return &throttledSem{capacity: capacity, sem: semaphore.NewWeighted(capacity)}
}

func (s *throttledSem) acquire(ctx context.Context) error { return s.sem.Acquire(ctx, 1) }
func (s *throttledSem) release()                          { s.sem.Release(1) }

// throttle parks permits down to ceil(capacity/2), at least one left
// runnable. Non-blocking: permits held by in-flight calls are parked as they
// are released, via repeated TryAcquire on later ticks.
func (s *throttledSem) throttle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := s.capacity / 2
	if s.capacity-target < 1 {
		target = s.capacity - 1
	}
	changed := false
	for s.parked < target && s.sem.TryAcquire(1) {
		s.parked++
		changed = true
	}
	return changed
}

func (s *throttledSem) restore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parked == 0 {
		return false
	}
	s.sem.Release(s.parked)
	s.parked = 0
	return true
}
