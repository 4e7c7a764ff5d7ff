package llm

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/podsight/backend/internal/pkg/logger"
)

func TestPoolsEnforceCeilings(t *testing.T) {
	hw := HardwareProfile{MiningWorkers: 2, EvalWorkers: 1}
	p := NewPools(hw, 0.85, logger.NewNop(),
		WithMemorySampler(func() (float64, bool) { return 0.1, true }),
		WithMonitorInterval(time.Hour))
	defer p.Close()

	ctx := context.Background()
	if err := p.Acquire(ctx, PoolMining); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := p.Acquire(ctx, PoolMining); err != nil {
		t.Fatalf("second acquire: %v", err)
	}

	// Third mining slot must block until a release.
	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if err := p.Acquire(short, PoolMining); err == nil {
		t.Fatal("third acquire should block at ceiling 2")
	}

	// Pools are independent: eval still has its slot.
	if err := p.Acquire(ctx, PoolEval); err != nil {
		t.Fatalf("eval acquire: %v", err)
	}
	p.Release(PoolEval)

	p.Release(PoolMining)
	if err := p.Acquire(ctx, PoolMining); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	p.Release(PoolMining)
	p.Release(PoolMining)
}

func TestPoolsThrottleOnMemoryPressure(t *testing.T) {
	var pressured atomic.Bool
	pressured.Store(true)
	hw := HardwareProfile{MiningWorkers: 4, EvalWorkers: 2}
	p := NewPools(hw, 0.85, logger.NewNop(),
		WithMemorySampler(func() (float64, bool) {
			if pressured.Load() {
				return 0.95, true
			}
			return 0.2, true
		}),
		WithMonitorInterval(5*time.Millisecond))
	defer p.Close()

	// Give the monitor a few ticks to park permits (4 -> 2 runnable).
	time.Sleep(50 * time.Millisecond)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := p.Acquire(ctx, PoolMining); err != nil {
			t.Fatalf("acquire %d under throttle: %v", i, err)
		}
	}
	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	if err := p.Acquire(short, PoolMining); err == nil {
		t.Fatal("throttled pool should cap runnable workers at half")
	}
	cancel()

	// Pressure clears, parked permits return.
	pressured.Store(false)
	time.Sleep(50 * time.Millisecond)
	if err := p.Acquire(ctx, PoolMining); err != nil {
		t.Fatalf("acquire after restore: %v", err)
	}
	for i := 0; i < 3; i++ {
		p.Release(PoolMining)
	}
}

func TestClassifyTiers(t *testing.T) {
	cases := []struct {
		memGiB uint64
		cores  int
		want   Tier
	}{
		{8, 4, TierConsumer},
		{16, 8, TierProsumer},
		{16, 4, TierConsumer}, // memory alone is not enough
		{32, 12, TierProfessional},
		{64, 16, TierServer},
		{128, 32, TierServer},
	}
	for _, tc := range cases {
		if got := classify(tc.memGiB*gib, tc.cores); got != tc.want {
			t.Fatalf("classify(%dGiB, %d cores) = %s, want %s", tc.memGiB, tc.cores, got, tc.want)
		}
	}
}

func TestDetectHardwareOverrides(t *testing.T) {
	t.Setenv("PODSIGHT_TIER", "server")
	t.Setenv("PODSIGHT_MINING_WORKERS", "3")
	p := DetectHardware()
	if p.Tier != TierServer {
		t.Fatalf("tier override not applied: %s", p.Tier)
	}
	if p.MiningWorkers != 3 {
		t.Fatalf("worker override not applied: %d", p.MiningWorkers)
	}
	if p.EvalWorkers != 5 {
		t.Fatalf("expected server eval workers 5, got %d", p.EvalWorkers)
	}
}
