package scheduler

import (
	"testing"

	"github.com/coreminer/kawpowd/core/types"
)

func TestSelectGPUExcludesOverheatedDevice(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = LeastLoaded
	cfg.ThermalThrottle = 85
	cfg.AdaptiveScheduling = false
	s := New(cfg, 2)

	s.UpdateLoad(types.GpuLoad{GPUIndex: 0, TemperatureC: 92, UtilizationPct: 10, Known: true})
	s.UpdateLoad(types.GpuLoad{GPUIndex: 1, TemperatureC: 60, UtilizationPct: 80, Known: true})

	idx, ok := s.SelectGPU()
	if !ok {
		t.Fatal("expected a GPU to be selectable")
	}
	if idx != 1 {
		t.Fatalf("expected overheated gpu 0 to be excluded, got %d", idx)
	}
}

func TestRoundRobinCyclesThroughDevices(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = RoundRobin
	cfg.AdaptiveScheduling = false
	s := New(cfg, 3)

	seen := make([]int, 6)
	for i := range seen {
		idx, ok := s.SelectGPU()
		if !ok {
			t.Fatal("expected selection to succeed")
		}
		seen[i] = idx
	}
	for i := 0; i < 3; i++ {
		if seen[i] != i || seen[i+3] != i {
			t.Fatalf("expected round robin cycle 0,1,2,0,1,2; got %v", seen)
		}
	}
}

func TestUpdateLoadCountsThermalThrottle(t *testing.T) {
	cfg := DefaultConfig()
	s := New(cfg, 1)
	s.UpdateLoad(types.GpuLoad{GPUIndex: 0, TemperatureC: cfg.ThermalThrottle + 1, Known: true})

	if stats := s.Stats(); stats.ThermalThrottles != 1 {
		t.Fatalf("expected 1 thermal throttle recorded, got %d", stats.ThermalThrottles)
	}
}

func TestSelectGPUNoDevicesReturnsFalse(t *testing.T) {
	s := New(DefaultConfig(), 0)
	if _, ok := s.SelectGPU(); ok {
		t.Fatal("expected selection over zero devices to fail")
	}
}

func TestPerformanceBasedPrefersHigherTier(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = PerformanceBased
	cfg.AdaptiveScheduling = false
	s := New(cfg, 2)

	s.UpdateCapability(Capability{GPUIndex: 0, MaxHashrate: 100_000_000, ThermalLimitC: 90, PerformanceTier: 1})
	s.UpdateCapability(Capability{GPUIndex: 1, MaxHashrate: 100_000_000, ThermalLimitC: 90, PerformanceTier: 5})
	s.UpdateLoad(types.GpuLoad{GPUIndex: 0, TemperatureC: 50, UtilizationPct: 0, Known: true})
	s.UpdateLoad(types.GpuLoad{GPUIndex: 1, TemperatureC: 50, UtilizationPct: 0, Known: true})

	idx, ok := s.SelectGPU()
	if !ok || idx != 1 {
		t.Fatalf("expected higher performance tier gpu 1 to win, got idx=%d ok=%v", idx, ok)
	}
}

func TestRecommendedWorkSizeClampsToBounds(t *testing.T) {
	s := New(DefaultConfig(), 1)
	s.UpdateCapability(Capability{GPUIndex: 0, MaxHashrate: 1, ThermalLimitC: 90, PerformanceTier: 1})

	size := s.RecommendedWorkSize(0)
	if size < 10_000_000 {
		t.Fatalf("expected work size to be clamped to the minimum, got %d", size)
	}
}
