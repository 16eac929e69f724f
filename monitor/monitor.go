// Package monitor aggregates engine-wide performance metrics into a
// ring-buffered history and raises threshold alerts. Grounded on
// original_source's mineos-core/src/monitoring.rs.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/coreminer/kawpowd/core/types"
	"github.com/coreminer/kawpowd/log"
)

// AlertType classifies an alert condition.
type AlertType int

const (
	LowHashrate AlertType = iota
	HighTemperature
	HighPower
	LowUtilization
	HighRejectRate
	GPUOffline
)

func (t AlertType) String() string {
	switch t {
	case LowHashrate:
		return "low_hashrate"
	case HighTemperature:
		return "high_temperature"
	case HighPower:
		return "high_power"
	case LowUtilization:
		return "low_utilization"
	case HighRejectRate:
		return "high_reject_rate"
	case GPUOffline:
		return "gpu_offline"
	default:
		return "unknown"
	}
}

// Severity grades an Alert.
type Severity int

const (
	Info Severity = iota
	Warning
	Critical
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Alert is a single threshold violation observed at UpdateMetrics time.
type Alert struct {
	Type      AlertType
	GPUIndex  *int
	Message   string
	Severity  Severity
	Timestamp time.Time
}

// Thresholds configures when UpdateMetrics raises an Alert.
type Thresholds struct {
	MinHashratePercent float64
	MaxTemperatureC    float64
	MaxPowerWatts       float64
	MinUtilizationPct  float64
	MaxRejectRatePct   float64
}

// DefaultThresholds mirrors AlertThresholds::default().
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinHashratePercent: 90.0,
		MaxTemperatureC:    85.0,
		MaxPowerWatts:      350.0,
		MinUtilizationPct:  90.0,
		MaxRejectRatePct:   5.0,
	}
}

// Config parameterizes a Monitor.
type Config struct {
	HistoryDuration    time.Duration
	MaxHistorySamples  int
	Thresholds         Thresholds
}

// DefaultConfig mirrors MonitoringConfig::default().
func DefaultConfig() Config {
	return Config{
		HistoryDuration:   time.Hour,
		MaxHistorySamples: 720,
		Thresholds:        DefaultThresholds(),
	}
}

// Metrics is a point-in-time performance snapshot.
type Metrics struct {
	TotalHashrate        float64
	GPUHashrates         map[int]float64
	AvgGPUUtilizationPct float64
	AvgGPUTemperatureC   float64
	TotalPowerWatts      float64
	EfficiencyHW         float64
	SharesPerMinute      float64
	AcceptanceRatePct    float64
	AvgWorkTime          time.Duration
	WorkUnitsPerMinute   float64
	Timestamp            time.Time
}

type snapshot struct {
	timestamp   time.Time
	hashrate    float64
	temperature float64
	power       float64
	shares      uint64
}

// Stats summarizes monitor activity.
type Stats struct {
	TotalUpdates    uint64
	AlertsTriggered uint64
	PeakHashrate    float64
	PeakTemperature float64
	PeakPower       float64
}

// Monitor aggregates load readings into rolling metrics, a bounded
// history ring, and threshold alerts.
type Monitor struct {
	cfg Config

	mu               sync.RWMutex
	current          Metrics
	history          []snapshot
	alerts           []Alert
	stats            Stats
	lastUpdate       time.Time
	expectedHashrate map[int]float64

	log *log.Logger
}

// New constructs a Monitor.
func New(cfg Config) *Monitor {
	return &Monitor{
		cfg:              cfg,
		history:          make([]snapshot, 0, cfg.MaxHistorySamples),
		expectedHashrate: make(map[int]float64),
		lastUpdate:       time.Now(),
		log:              log.Root().With("component", "monitor"),
	}
}

// SetExpectedHashrate records the baseline a GPU is expected to sustain,
// used by the low-hashrate alert.
func (m *Monitor) SetExpectedHashrate(gpuIndex int, hashrate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expectedHashrate[gpuIndex] = hashrate
}

// UpdateMetrics folds a fresh round of counters and GPU loads into the
// current snapshot, appends to history, and recomputes alerts.
func (m *Monitor) UpdateMetrics(gpuHashrates map[int]float64, loads []types.GpuLoad, sharesAccepted, sharesRejected, workUnitsCompleted uint64, avgWorkTime time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(m.lastUpdate)

	var sharesPerMinute, workUnitsPerMinute float64
	if elapsed.Seconds() > 0 {
		sharesPerMinute = float64(sharesAccepted) / elapsed.Seconds() * 60
		workUnitsPerMinute = float64(workUnitsCompleted) / elapsed.Seconds() * 60
	}

	acceptanceRate := 100.0
	if sharesAccepted+sharesRejected > 0 {
		acceptanceRate = float64(sharesAccepted) / float64(sharesAccepted+sharesRejected) * 100
	}

	var avgUtil, avgTemp, totalPower float64
	knownCount := 0
	for _, l := range loads {
		if !l.Known {
			continue
		}
		avgUtil += l.UtilizationPct
		avgTemp += l.TemperatureC
		totalPower += l.PowerWatts
		knownCount++
	}
	if knownCount > 0 {
		avgUtil /= float64(knownCount)
		avgTemp /= float64(knownCount)
	}

	var totalHashrate float64
	for _, hr := range gpuHashrates {
		totalHashrate += hr
	}

	efficiency := 0.0
	if totalPower > 0 {
		efficiency = totalHashrate / totalPower
	}

	metrics := Metrics{
		TotalHashrate:        totalHashrate,
		GPUHashrates:         gpuHashrates,
		AvgGPUUtilizationPct: avgUtil,
		AvgGPUTemperatureC:   avgTemp,
		TotalPowerWatts:      totalPower,
		EfficiencyHW:         efficiency,
		SharesPerMinute:      sharesPerMinute,
		AcceptanceRatePct:    acceptanceRate,
		AvgWorkTime:          avgWorkTime,
		WorkUnitsPerMinute:   workUnitsPerMinute,
		Timestamp:            now,
	}
	m.current = metrics

	m.addToHistory(snapshot{
		timestamp:   now,
		hashrate:    totalHashrate,
		temperature: avgTemp,
		power:       totalPower,
		shares:      uint64(sharesPerMinute * 60),
	})

	m.checkAlerts(metrics, loads)
	m.updateStats(metrics)
	m.lastUpdate = now

	m.log.Debug("updated metrics", "mhs", totalHashrate/1e6, "temp_c", avgTemp, "watts", totalPower, "acceptance_pct", acceptanceRate)
}

func (m *Monitor) addToHistory(s snapshot) {
	m.history = append(m.history, s)
	cutoff := time.Now().Add(-m.cfg.HistoryDuration)
	for len(m.history) > 0 && (m.history[0].timestamp.Before(cutoff) || len(m.history) > m.cfg.MaxHistorySamples) {
		m.history = m.history[1:]
	}
}

func (m *Monitor) checkAlerts(metrics Metrics, loads []types.GpuLoad) {
	var alerts []Alert
	t := m.cfg.Thresholds

	var expectedTotal float64
	for _, hr := range m.expectedHashrate {
		expectedTotal += hr
	}
	if expectedTotal > 0 {
		pct := metrics.TotalHashrate / expectedTotal * 100
		if pct < t.MinHashratePercent {
			alerts = append(alerts, Alert{Type: LowHashrate, Severity: Warning, Timestamp: time.Now(),
				Message: formatPct("total hashrate", pct, "of expected")})
		}
	}

	if metrics.AvgGPUTemperatureC > t.MaxTemperatureC {
		alerts = append(alerts, Alert{Type: HighTemperature, Severity: Critical, Timestamp: time.Now(),
			Message: formatC("average GPU temperature", metrics.AvgGPUTemperatureC)})
	}

	if len(loads) > 0 && metrics.TotalPowerWatts > t.MaxPowerWatts*float64(len(loads)) {
		alerts = append(alerts, Alert{Type: HighPower, Severity: Warning, Timestamp: time.Now(),
			Message: formatW("total power draw", metrics.TotalPowerWatts)})
	}

	if metrics.AvgGPUUtilizationPct < t.MinUtilizationPct {
		alerts = append(alerts, Alert{Type: LowUtilization, Severity: Warning, Timestamp: time.Now(),
			Message: formatPct("average GPU utilization", metrics.AvgGPUUtilizationPct, "")})
	}

	if metrics.AcceptanceRatePct < 100-t.MaxRejectRatePct {
		alerts = append(alerts, Alert{Type: HighRejectRate, Severity: Warning, Timestamp: time.Now(),
			Message: formatPct("share acceptance rate", metrics.AcceptanceRatePct, "")})
	}

	for _, l := range loads {
		if !l.Known || l.TemperatureC <= t.MaxTemperatureC {
			continue
		}
		idx := l.GPUIndex
		alerts = append(alerts, Alert{Type: HighTemperature, GPUIndex: &idx, Severity: Critical, Timestamp: time.Now(),
			Message: formatGPUC(idx, l.TemperatureC)})
	}

	m.alerts = alerts
	if len(alerts) > 0 {
		m.stats.AlertsTriggered += uint64(len(alerts))
		for _, a := range alerts {
			m.log.Warn("alert", "severity", a.Severity, "message", a.Message)
		}
	}
}

func (m *Monitor) updateStats(metrics Metrics) {
	m.stats.TotalUpdates++
	if metrics.TotalHashrate > m.stats.PeakHashrate {
		m.stats.PeakHashrate = metrics.TotalHashrate
	}
	if metrics.AvgGPUTemperatureC > m.stats.PeakTemperature {
		m.stats.PeakTemperature = metrics.AvgGPUTemperatureC
	}
	if metrics.TotalPowerWatts > m.stats.PeakPower {
		m.stats.PeakPower = metrics.TotalPowerWatts
	}
}

// CurrentMetrics returns the most recent aggregated snapshot.
func (m *Monitor) CurrentMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Alerts returns the alerts raised by the most recent UpdateMetrics call.
func (m *Monitor) Alerts() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// Stats returns monitor-level statistics.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// CalculateAverages averages history samples within the trailing window.
func (m *Monitor) CalculateAverages(window time.Duration) (Metrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	var hashrate, temp, power float64
	var n int
	for _, s := range m.history {
		if s.timestamp.Before(cutoff) {
			continue
		}
		hashrate += s.hashrate
		temp += s.temperature
		power += s.power
		n++
	}
	if n == 0 {
		return Metrics{}, false
	}

	avgHashrate := hashrate / float64(n)
	avgPower := power / float64(n)
	efficiency := 0.0
	if avgPower > 0 {
		efficiency = avgHashrate / avgPower
	}
	return Metrics{
		TotalHashrate:      avgHashrate,
		AvgGPUTemperatureC: temp / float64(n),
		TotalPowerWatts:    avgPower,
		EfficiencyHW:       efficiency,
	}, true
}

func formatPct(label string, pct float64, suffix string) string {
	if suffix != "" {
		return fmt.Sprintf("%s: %.1f%% %s", label, pct, suffix)
	}
	return fmt.Sprintf("%s: %.1f%%", label, pct)
}

func formatC(label string, c float64) string { return fmt.Sprintf("%s: %.1f°C", label, c) }
func formatW(label string, w float64) string { return fmt.Sprintf("%s: %.1fW", label, w) }
func formatGPUC(idx int, c float64) string {
	return fmt.Sprintf("gpu %d temperature %.1f°C", idx, c)
}
