package gpu

import (
	"time"

	sigar "github.com/elastic/gosigar"

	"github.com/coreminer/kawpowd/core/types"
	"github.com/coreminer/kawpowd/log"
)

// Telemetry reports live load/thermal/power readings for a device. A real
// vendor backend (NVML, ROCm-SMI) would implement this directly; this
// module ships only a host-level fallback since neither is reachable from
// pure Go without cgo.
type Telemetry interface {
	Read(index int) types.GpuLoad
}

// NullTelemetry always reports Known: false, the degraded state the rest
// of the engine must tolerate when no telemetry backend is wired up.
type NullTelemetry struct{}

func (NullTelemetry) Read(index int) types.GpuLoad {
	return types.GpuLoad{GPUIndex: index, LastUpdate: time.Now(), Known: false}
}

// HostTelemetry substitutes host-wide CPU and memory utilization for true
// per-device GPU metrics, grounded on original_source's
// mineos-hardware/src/monitor/metrics.rs MetricsCollector shape. It is a
// coarse proxy, not a real GPU reading: temperature and power are never
// known this way, only utilization and a memory fraction.
type HostTelemetry struct {
	log *log.Logger
}

// NewHostTelemetry constructs a HostTelemetry.
func NewHostTelemetry() *HostTelemetry {
	return &HostTelemetry{log: log.Root().With("component", "gpu-telemetry")}
}

// Read samples host CPU and memory utilization via gosigar. Temperature
// and power remain zero; Known is true because the utilization/memory
// fields it does fill in are real readings, just not GPU-specific ones.
func (h *HostTelemetry) Read(index int) types.GpuLoad {
	load := types.GpuLoad{GPUIndex: index, LastUpdate: time.Now()}

	cpu := sigar.Cpu{}
	if err := cpu.Get(); err != nil {
		h.log.Debug("cpu sample failed", "err", err)
		return load
	}
	cpu2 := sigar.Cpu{}
	time.Sleep(50 * time.Millisecond)
	if err := cpu2.Get(); err != nil {
		h.log.Debug("cpu resample failed", "err", err)
		return load
	}
	delta := cpu2.Delta(cpu)
	total := delta.User + delta.Nice + delta.Sys + delta.Idle + delta.Wait + delta.Irq + delta.SoftIrq + delta.Stolen
	if total > 0 {
		load.UtilizationPct = 100 * float64(total-delta.Idle) / float64(total)
	}

	mem := sigar.Mem{}
	if err := mem.Get(); err == nil && mem.Total > 0 {
		load.MemoryPct = 100 * float64(mem.Used) / float64(mem.Total)
	}

	load.Known = true
	return load
}
