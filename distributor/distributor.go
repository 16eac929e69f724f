// Package distributor hands out WorkUnits to GPUs: per-GPU queues, EMA
// hashrate tracking that drives dynamic work sizing, work stealing from
// the most-backed-up queue, and timeout detection. Grounded on
// original_source's mineos-core/src/work_distributor.rs.
package distributor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohae/deepcopy"

	"github.com/coreminer/kawpowd/common"
	"github.com/coreminer/kawpowd/core/types"
	"github.com/coreminer/kawpowd/log"
	"github.com/coreminer/kawpowd/noncemgr"
)

// Config parameterizes the Distributor.
type Config struct {
	BaseWorkSize          uint64
	MinWorkSize           uint64
	MaxWorkSize           uint64
	QueueDepth            int
	WorkTimeout           time.Duration
	DynamicSizing         bool
	WorkStealingThreshold float64
}

// DefaultConfig mirrors WorkDistributorConfig::default().
func DefaultConfig() Config {
	return Config{
		BaseWorkSize:          100_000_000,
		MinWorkSize:           10_000_000,
		MaxWorkSize:           1_000_000_000,
		QueueDepth:            3,
		WorkTimeout:           60 * time.Second,
		DynamicSizing:         true,
		WorkStealingThreshold: 0.1,
	}
}

// GpuStats tracks a device's throughput history.
type GpuStats struct {
	UnitsCompleted   uint64
	TotalHashes      uint64
	CurrentHashrate  float64
	AverageHashrate  float64
	LastCompletion   time.Time
	SolutionsFound   uint64
	StaleShares      uint64
}

// Distributor owns per-GPU work queues and statistics for the job
// currently being mined.
type Distributor struct {
	cfg Config

	mu         sync.RWMutex
	currentJob *types.MiningJob
	header     types.BlockHeader
	target     common.Hash256

	nextWorkID uint64
	nonces     *noncemgr.Manager

	statsMu sync.Mutex
	stats   map[int]*GpuStats

	queuesMu sync.Mutex
	queues   map[int][]types.WorkUnit
	active   map[uint64]types.WorkUnit

	numGPUs int
	log     *log.Logger
}

// New constructs a Distributor backed by nonces for nonce-range
// allocation across numGPUs devices.
func New(cfg Config, numGPUs int, nonces *noncemgr.Manager) *Distributor {
	d := &Distributor{
		cfg:     cfg,
		nonces:  nonces,
		stats:   make(map[int]*GpuStats, numGPUs),
		queues:  make(map[int][]types.WorkUnit, numGPUs),
		active:  make(map[uint64]types.WorkUnit),
		numGPUs: numGPUs,
		log:     log.Root().With("component", "distributor"),
	}
	for i := 0; i < numGPUs; i++ {
		d.stats[i] = &GpuStats{}
		d.queues[i] = nil
	}
	return d
}

// UpdateJob installs a new current job, clearing all queued/active work
// first if the job is a clean job, then pre-generating a queue's worth of
// work for every device.
func (d *Distributor) UpdateJob(job *types.MiningJob, header types.BlockHeader, target common.Hash256) {
	d.log.Info("updating mining job", "job", job.JobID)

	if job.CleanJobs {
		d.clearAllWork()
	}

	d.mu.Lock()
	d.currentJob = job
	d.header = header
	d.target = target
	d.mu.Unlock()

	d.nonces.ClearJob(job.JobID)

	for i := 0; i < d.numGPUs; i++ {
		for k := 0; k < d.cfg.QueueDepth; k++ {
			d.generateWorkForGPU(i)
		}
	}
}

// GetWork returns the next work unit for gpuIndex, pulling from its
// queue, topping the queue back up, and falling back to work stealing
// when the queue is empty.
func (d *Distributor) GetWork(gpuIndex int) (types.WorkUnit, bool) {
	d.queuesMu.Lock()
	q := d.queues[gpuIndex]
	if len(q) > 0 {
		work := q[len(q)-1]
		d.queues[gpuIndex] = q[:len(q)-1]
		d.active[work.ID] = work
		needsRefill := len(d.queues[gpuIndex]) < d.cfg.QueueDepth
		d.queuesMu.Unlock()

		if needsRefill {
			d.generateWorkForGPU(gpuIndex)
		}
		return work, true
	}
	d.queuesMu.Unlock()

	if d.cfg.WorkStealingThreshold > 0 {
		return d.stealWork(gpuIndex)
	}
	return types.WorkUnit{}, false
}

// SubmitResult records a completed work unit's statistics and replenishes
// that device's queue.
func (d *Distributor) SubmitResult(result types.WorkResult) {
	d.log.Debug("work completed", "gpu", result.GPUIndex, "work_id", result.WorkID, "duration", result.Duration)

	d.queuesMu.Lock()
	delete(d.active, result.WorkID)
	d.queuesMu.Unlock()

	d.statsMu.Lock()
	if s, ok := d.stats[result.GPUIndex]; ok {
		s.UnitsCompleted++
		s.TotalHashes += result.HashesComputed
		s.CurrentHashrate = result.EffectiveHashrate

		const alpha = 0.1
		s.AverageHashrate = (1-alpha)*s.AverageHashrate + alpha*result.EffectiveHashrate
		s.LastCompletion = time.Now()

		if result.Solution != nil {
			s.SolutionsFound++
		}
	}
	d.statsMu.Unlock()

	d.mu.RLock()
	hasJob := d.currentJob != nil
	d.mu.RUnlock()
	if hasJob {
		d.generateWorkForGPU(result.GPUIndex)
	}
}

func (d *Distributor) generateWorkForGPU(gpuIndex int) {
	d.mu.RLock()
	job := d.currentJob
	header := deepcopy.Copy(d.header).(types.BlockHeader)
	target := d.target
	d.mu.RUnlock()
	if job == nil {
		return
	}

	workSize := d.calculateWorkSize(gpuIndex)
	nr, ok := d.nonces.AllocateRange(job.JobID, gpuIndex, workSize)
	if !ok {
		d.log.Warn("nonce allocation failed", "gpu", gpuIndex, "job", job.JobID)
		return
	}

	work := types.WorkUnit{
		ID:                atomic.AddUint64(&d.nextWorkID, 1) - 1,
		JobID:             job.JobID,
		Header:            header,
		Target:            target,
		NonceStart:        nr.Start,
		NonceCount:        nr.Size(),
		GPUIndex:          gpuIndex,
		CreatedAt:         time.Now(),
		EstimatedDuration: d.estimateDuration(gpuIndex, workSize),
		Clean:             false,
	}

	d.queuesMu.Lock()
	if len(d.queues[gpuIndex]) < d.cfg.QueueDepth*2 {
		d.queues[gpuIndex] = append(d.queues[gpuIndex], work)
	} else {
		d.nonces.CompleteRange(job.JobID, nr)
	}
	d.queuesMu.Unlock()
}

func (d *Distributor) calculateWorkSize(gpuIndex int) uint64 {
	if !d.cfg.DynamicSizing {
		return d.cfg.BaseWorkSize
	}

	d.statsMu.Lock()
	avgHashrate := 100_000_000.0
	if s, ok := d.stats[gpuIndex]; ok && s.AverageHashrate > 0 {
		avgHashrate = s.AverageHashrate
	}
	var total float64
	for _, s := range d.stats {
		total += s.AverageHashrate
	}
	d.statsMu.Unlock()

	if total == 0 {
		return d.cfg.BaseWorkSize
	}

	share := avgHashrate / total
	scaled := uint64(float64(d.cfg.BaseWorkSize) * share * float64(d.numGPUs))
	if scaled < d.cfg.MinWorkSize {
		return d.cfg.MinWorkSize
	}
	if scaled > d.cfg.MaxWorkSize {
		return d.cfg.MaxWorkSize
	}
	return scaled
}

func (d *Distributor) estimateDuration(gpuIndex int, workSize uint64) time.Duration {
	d.statsMu.Lock()
	hashrate := 100_000_000.0
	if s, ok := d.stats[gpuIndex]; ok && s.AverageHashrate > 0 {
		hashrate = s.AverageHashrate
	}
	d.statsMu.Unlock()

	if hashrate <= 0 {
		return 30 * time.Second
	}
	return time.Duration(float64(workSize) / hashrate * float64(time.Second))
}

func (d *Distributor) stealWork(gpuIndex int) (types.WorkUnit, bool) {
	d.queuesMu.Lock()
	defer d.queuesMu.Unlock()

	victim := -1
	maxLen := 1
	for idx, q := range d.queues {
		if idx != gpuIndex && len(q) > maxLen {
			maxLen = len(q)
			victim = idx
		}
	}
	if victim < 0 {
		return types.WorkUnit{}, false
	}

	q := d.queues[victim]
	work := q[len(q)-1]
	d.queues[victim] = q[:len(q)-1]
	work.GPUIndex = gpuIndex
	d.active[work.ID] = work
	d.log.Debug("work stealing", "gpu", gpuIndex, "victim", victim, "work_id", work.ID)
	return work, true
}

func (d *Distributor) clearAllWork() {
	d.log.Info("clearing all active work for clean job")
	d.queuesMu.Lock()
	defer d.queuesMu.Unlock()
	d.active = make(map[uint64]types.WorkUnit)
	for idx := range d.queues {
		d.queues[idx] = nil
	}
}

// GetStats returns a snapshot of every device's statistics, indexed by
// GPU index.
func (d *Distributor) GetStats() map[int]GpuStats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	out := make(map[int]GpuStats, len(d.stats))
	for idx, s := range d.stats {
		out[idx] = *s
	}
	return out
}

// TotalHashrate sums CurrentHashrate across every device.
func (d *Distributor) TotalHashrate() float64 {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	var total float64
	for _, s := range d.stats {
		total += s.CurrentHashrate
	}
	return total
}

// CheckTimeouts returns and evicts active work units that have run past
// the configured timeout, incrementing each owning GPU's stale-share
// counter.
func (d *Distributor) CheckTimeouts() []types.WorkUnit {
	now := time.Now()
	var timedOut []types.WorkUnit

	d.queuesMu.Lock()
	for id, work := range d.active {
		if now.Sub(work.CreatedAt) > d.cfg.WorkTimeout {
			d.log.Warn("work timed out", "work_id", work.ID, "gpu", work.GPUIndex)
			timedOut = append(timedOut, work)
			delete(d.active, id)
		}
	}
	d.queuesMu.Unlock()

	if len(timedOut) > 0 {
		d.statsMu.Lock()
		for _, work := range timedOut {
			if s, ok := d.stats[work.GPUIndex]; ok {
				s.StaleShares++
			}
		}
		d.statsMu.Unlock()
	}
	return timedOut
}
