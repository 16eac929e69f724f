// Package scheduler picks which GPU should receive the next work unit and
// tracks per-GPU load/capability so that selection adapts to real
// throughput instead of assigning blindly. Grounded on original_source's
// mineos-core/src/gpu_scheduler.rs.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreminer/kawpowd/core/types"
	"github.com/coreminer/kawpowd/log"
)

// Strategy selects among the scoring policies below.
type Strategy int

const (
	RoundRobin Strategy = iota
	LeastLoaded
	PerformanceBased
	PowerEfficient
	Weighted
)

func (s Strategy) String() string {
	switch s {
	case RoundRobin:
		return "round_robin"
	case LeastLoaded:
		return "least_loaded"
	case PerformanceBased:
		return "performance_based"
	case PowerEfficient:
		return "power_efficient"
	case Weighted:
		return "weighted"
	default:
		return "unknown"
	}
}

// Capability describes one device's performance envelope.
type Capability struct {
	GPUIndex         int
	MaxHashrate      float64
	MemoryMB         int
	MaxPowerWatts    float64
	ThermalLimitC    float64
	PerformanceTier  int
}

// Config parameterizes the Scheduler.
type Config struct {
	Strategy             Strategy
	LoadBalanceThreshold float64
	ThermalThrottle      float64
	PowerLimitWatts      float64 // 0 disables the power-limit check
	AdaptiveScheduling   bool
	RebalanceInterval    time.Duration
	TargetUtilization    float64
}

// DefaultConfig mirrors GpuSchedulerConfig::default().
func DefaultConfig() Config {
	return Config{
		Strategy:             PerformanceBased,
		LoadBalanceThreshold: 20.0,
		ThermalThrottle:      85.0,
		AdaptiveScheduling:   true,
		RebalanceInterval:    30 * time.Second,
		TargetUtilization:    95.0,
	}
}

// Stats summarizes scheduling activity.
type Stats struct {
	TotalScheduled      uint64
	RebalancesPerformed uint64
	ThermalThrottles    uint64
	PowerThrottles      uint64
	LoadMigrations      uint64
}

// Scheduler selects a GPU for each new work unit and accumulates load
// telemetry to inform that selection.
type Scheduler struct {
	cfg Config

	mu           sync.RWMutex
	loads        map[int]types.GpuLoad
	capabilities map[int]Capability
	numGPUs      int
	lastRebalance time.Time

	roundRobinCounter uint64

	statsMu sync.Mutex
	stats   Stats

	log *log.Logger
}

// New constructs a Scheduler for numGPUs devices, each seeded with a
// conservative default capability until UpdateCapability overrides it.
func New(cfg Config, numGPUs int) *Scheduler {
	s := &Scheduler{
		cfg:           cfg,
		loads:         make(map[int]types.GpuLoad, numGPUs),
		capabilities:  make(map[int]Capability, numGPUs),
		numGPUs:       numGPUs,
		lastRebalance: time.Now(),
		log:           log.Root().With("component", "scheduler"),
	}
	for i := 0; i < numGPUs; i++ {
		s.loads[i] = types.GpuLoad{GPUIndex: i}
		s.capabilities[i] = Capability{
			GPUIndex:        i,
			MaxHashrate:     100_000_000,
			MemoryMB:        8192,
			MaxPowerWatts:   300,
			ThermalLimitC:   90,
			PerformanceTier: 1,
		}
	}
	return s
}

// UpdateLoad records a fresh telemetry reading and raises throttle
// warnings/counters if thresholds are exceeded.
func (s *Scheduler) UpdateLoad(load types.GpuLoad) {
	s.mu.Lock()
	s.loads[load.GPUIndex] = load
	s.mu.Unlock()

	if load.TemperatureC > s.cfg.ThermalThrottle {
		s.log.Warn("thermal throttle", "gpu", load.GPUIndex, "temp_c", load.TemperatureC)
		s.statsMu.Lock()
		s.stats.ThermalThrottles++
		s.statsMu.Unlock()
	}
	if s.cfg.PowerLimitWatts > 0 && load.PowerWatts > s.cfg.PowerLimitWatts {
		s.log.Warn("power throttle", "gpu", load.GPUIndex, "watts", load.PowerWatts)
		s.statsMu.Lock()
		s.stats.PowerThrottles++
		s.statsMu.Unlock()
	}
}

// UpdateCapability overrides the default capability estimate for a device.
func (s *Scheduler) UpdateCapability(cap Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capabilities[cap.GPUIndex] = cap
}

// SelectGPU returns the index of the device that should receive the next
// work unit, or (-1, false) if there are no devices to choose from.
func (s *Scheduler) SelectGPU() (int, bool) {
	if s.numGPUs == 0 {
		return -1, false
	}

	s.statsMu.Lock()
	s.stats.TotalScheduled++
	s.statsMu.Unlock()

	if s.cfg.AdaptiveScheduling {
		s.checkRebalance()
	}

	switch s.cfg.Strategy {
	case RoundRobin:
		return s.selectRoundRobin()
	case LeastLoaded:
		return s.selectLeastLoaded()
	case PerformanceBased:
		return s.selectPerformanceBased()
	case PowerEfficient:
		return s.selectPowerEfficient()
	case Weighted:
		return s.selectWeighted()
	default:
		return s.selectPerformanceBased()
	}
}

func (s *Scheduler) selectRoundRobin() (int, bool) {
	n := atomic.AddUint64(&s.roundRobinCounter, 1) - 1
	return int(n % uint64(s.numGPUs)), true
}

func (s *Scheduler) selectLeastLoaded() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := -1
	minScore := float64(1<<63 - 1)
	for idx, load := range s.loads {
		if load.TemperatureC > s.cfg.ThermalThrottle {
			continue
		}
		score := load.UtilizationPct*0.7 + load.MemoryPct*0.3
		if score < minScore {
			minScore = score
			best = idx
		}
	}
	return best, best >= 0
}

func (s *Scheduler) selectPerformanceBased() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := -1
	bestScore := -1.0
	for idx, load := range s.loads {
		if load.TemperatureC > s.cfg.ThermalThrottle {
			continue
		}
		cap, ok := s.capabilities[idx]
		if !ok {
			continue
		}
		score := cap.MaxHashrate
		score *= (100.0 - load.UtilizationPct) / 100.0
		tempFactor := (s.cfg.ThermalThrottle - load.TemperatureC) / s.cfg.ThermalThrottle
		score *= tempFactor
		score *= 1.0 + float64(cap.PerformanceTier)*0.1
		if score > bestScore {
			bestScore = score
			best = idx
		}
	}
	return best, best >= 0
}

func (s *Scheduler) selectPowerEfficient() (int, bool) {
	s.mu.RLock()
	best := -1
	bestEfficiency := -1.0
	for idx, load := range s.loads {
		if load.PowerWatts == 0 || load.Hashrate == 0 {
			continue
		}
		efficiency := load.Hashrate / load.PowerWatts
		tempFactor := 1.0
		if load.TemperatureC >= s.cfg.ThermalThrottle {
			tempFactor = 0.5
		}
		adjusted := efficiency * tempFactor
		if adjusted > bestEfficiency {
			bestEfficiency = adjusted
			best = idx
		}
	}
	s.mu.RUnlock()

	if best >= 0 {
		return best, true
	}
	return s.selectLeastLoaded()
}

func (s *Scheduler) selectWeighted() (int, bool) {
	const (
		performanceWeight = 0.4
		loadWeight        = 0.3
		thermalWeight     = 0.2
		powerWeight       = 0.1
	)

	s.mu.RLock()
	defer s.mu.RUnlock()

	best := -1
	bestScore := -1.0
	for idx, load := range s.loads {
		cap, ok := s.capabilities[idx]
		if !ok {
			continue
		}
		perfScore := cap.MaxHashrate / 1_000_000_000.0
		loadScore := (100.0 - load.UtilizationPct) / 100.0
		thermalScore := (s.cfg.ThermalThrottle - load.TemperatureC) / s.cfg.ThermalThrottle
		powerScore := 1.0
		if load.PowerWatts > 0 && cap.MaxPowerWatts > 0 {
			powerScore = (cap.MaxPowerWatts - load.PowerWatts) / cap.MaxPowerWatts
		}
		total := perfScore*performanceWeight + loadScore*loadWeight + thermalScore*thermalWeight + powerScore*powerWeight
		if total > bestScore {
			bestScore = total
			best = idx
		}
	}
	return best, best >= 0
}

func (s *Scheduler) checkRebalance() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.lastRebalance) < s.cfg.RebalanceInterval {
		return
	}

	var total, maxUtil float64
	minUtil := 100.0
	for _, load := range s.loads {
		total += load.UtilizationPct
		if load.UtilizationPct > maxUtil {
			maxUtil = load.UtilizationPct
		}
		if load.UtilizationPct < minUtil {
			minUtil = load.UtilizationPct
		}
	}
	avg := total / float64(s.numGPUs)

	if maxUtil-minUtil > s.cfg.LoadBalanceThreshold {
		s.log.Info("load imbalance detected", "max_pct", maxUtil, "min_pct", minUtil, "avg_pct", avg)
		s.statsMu.Lock()
		s.stats.RebalancesPerformed++
		s.statsMu.Unlock()
		s.lastRebalance = time.Now()
	}
}

// GetGPULoads returns a snapshot of every device's last known load.
func (s *Scheduler) GetGPULoads() []types.GpuLoad {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.GpuLoad, 0, len(s.loads))
	for _, load := range s.loads {
		out = append(out, load)
	}
	return out
}

// Stats returns a snapshot of scheduling statistics.
func (s *Scheduler) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// RecommendedWorkSize estimates a nonce-range size intended to keep a GPU
// busy for roughly 30 seconds given its capability and current load.
func (s *Scheduler) RecommendedWorkSize(gpuIndex int) uint64 {
	const (
		targetSeconds = 30.0
		minSize       = 10_000_000
		maxSize       = 1_000_000_000
	)

	s.mu.RLock()
	load, hasLoad := s.loads[gpuIndex]
	cap, hasCap := s.capabilities[gpuIndex]
	s.mu.RUnlock()

	if !hasLoad || !hasCap {
		return 100_000_000
	}

	base := uint64(cap.MaxHashrate * targetSeconds)
	utilFactor := (100.0 - load.UtilizationPct) / 100.0
	adjusted := uint64(float64(base) * utilFactor)

	if adjusted < minSize {
		return minSize
	}
	if adjusted > maxSize {
		return maxSize
	}
	return adjusted
}
