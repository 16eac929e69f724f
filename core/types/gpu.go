package types

import "time"

// GpuLoad is a point-in-time telemetry snapshot for one device.
type GpuLoad struct {
	GPUIndex         int
	UtilizationPct   float64
	MemoryPct        float64
	TemperatureC     float64
	PowerWatts       float64
	Hashrate         float64
	ActiveWorkUnits  int
	LastUpdate       time.Time
	Known            bool // false when no telemetry backend reported this reading
}
