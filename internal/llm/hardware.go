package llm

import (
	"runtime"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/podsight/backend/internal/pkg/envutil"
)

type Tier string

const (
	TierConsumer     Tier = "consumer"
	TierProsumer     Tier = "prosumer"
	TierProfessional Tier = "professional"
	TierServer       Tier = "server"
)

// HardwareProfile is computed once at process start and passed explicitly.
// No ambient global lookup anywhere downstream.
type HardwareProfile struct {
	Tier          Tier
	MemoryBytes   uint64
	Cores         int
	MiningWorkers int
	EvalWorkers   int
}

const gib = uint64(1) << 30

// DetectHardware maps total memory and core count onto the worker table.
// PODSIGHT_TIER forces a tier; PODSIGHT_{MINING,EVAL}_WORKERS override
// individual pool sizes.
func DetectHardware() HardwareProfile {
	var total uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		total = vm.Total
	}
	cores := runtime.NumCPU()

	tier := classify(total, cores)
	if forced := envutil.String("PODSIGHT_TIER", ""); forced != "" {
		tier = Tier(forced)
	}

	p := HardwareProfile{Tier: tier, MemoryBytes: total, Cores: cores}
	switch tier {
	case TierServer:
		p.MiningWorkers, p.EvalWorkers = 10, 5
	case TierProfessional:
		p.MiningWorkers, p.EvalWorkers = 6, 3
	case TierProsumer:
		p.MiningWorkers, p.EvalWorkers = 4, 2
	default:
		p.MiningWorkers, p.EvalWorkers = 2, 1
	}
	p.MiningWorkers = envutil.Int("PODSIGHT_MINING_WORKERS", p.MiningWorkers)
	p.EvalWorkers = envutil.Int("PODSIGHT_EVAL_WORKERS", p.EvalWorkers)
	return p
}

func classify(total uint64, cores int) Tier {
	switch {
	case total >= 64*gib && cores >= 16:
		return TierServer
	case total >= 32*gib && cores >= 12:
		return TierProfessional
	case total >= 16*gib && cores >= 8:
		return TierProsumer
	default:
		return TierConsumer
	}
}
