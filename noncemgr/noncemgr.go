// Package noncemgr is the authoritative allocator of non-overlapping
// nonce ranges per (job, GPU), grounded on original_source's
// mineos-core/src/nonce_manager.rs.
package noncemgr

import (
	"container/list"
	"errors"
	"sync"

	mapset "github.com/deckarep/golang-set"

	"github.com/coreminer/kawpowd/log"
)

// ErrAllocationFailed names the failure to allocate a range — the job's
// nonce space is exhausted or the per-job active range cap would be
// exceeded. AllocateRange itself reports that failure by returning false;
// it does not return this error.
var ErrAllocationFailed = errors.New("noncemgr: allocation failed")

// NonceRange is a half-open [Start, End) interval of the 64-bit nonce
// space allocated to one GPU for one job.
type NonceRange struct {
	Start    uint64
	End      uint64
	GPUIndex int
	JobID    string
}

// Size returns End-Start.
func (r NonceRange) Size() uint64 { return r.End - r.Start }

// Contains reports whether nonce lies in [Start, End).
func (r NonceRange) Contains(nonce uint64) bool { return nonce >= r.Start && nonce < r.End }

// Split divides r at an interior point, returning the left/right halves.
// Returns false if at is not strictly interior to r.
func (r NonceRange) Split(at uint64) (left, right NonceRange, ok bool) {
	if at <= r.Start || at >= r.End {
		return NonceRange{}, NonceRange{}, false
	}
	left = NonceRange{Start: r.Start, End: at, GPUIndex: r.GPUIndex, JobID: r.JobID}
	right = NonceRange{Start: at, End: r.End, GPUIndex: r.GPUIndex, JobID: r.JobID}
	return left, right, true
}

// Config parameterizes the Manager.
type Config struct {
	InitialNonce      uint64
	MaxNonce          uint64
	DefaultRangeSize  uint64
	EnableRecycling   bool
	MaxRangesPerJob   int
}

// DefaultConfig mirrors original_source's NonceManagerConfig::default().
func DefaultConfig() Config {
	return Config{
		InitialNonce:     0,
		MaxNonce:         ^uint64(0),
		DefaultRangeSize: 100_000_000,
		EnableRecycling:  true,
		MaxRangesPerJob:  10000,
	}
}

// Stats summarizes allocator activity across all jobs.
type Stats struct {
	TotalRangesAllocated uint64
	TotalNoncesAllocated uint64
	RangesRecycled       uint64
	NoncesRecycled       uint64
	ActiveJobs           int
	ActiveRanges         int
}

// Manager allocates, recycles and tracks nonce ranges. Per spec.md §5,
// allocation is serialized per job (a single writer-exclusive lock guards
// mutation; is_nonce_allocated takes the same lock for reading, matching
// Go's RWMutex semantics closely enough — concurrent allocations across
// different jobs still only contend on this one lock, which is acceptable
// at the allocation rates this engine operates at).
type Manager struct {
	mu             sync.RWMutex
	cfg            Config
	jobOffsets     map[string]uint64
	activeRanges   map[string][]NonceRange
	recycled       map[string]*list.List // FIFO queue of NonceRange
	stats          Stats
	log            *log.Logger
}

// New constructs a Manager.
func New(cfg Config) *Manager {
	return &Manager{
		cfg:          cfg,
		jobOffsets:   make(map[string]uint64),
		activeRanges: make(map[string][]NonceRange),
		recycled:     make(map[string]*list.List),
		log:          log.Root().With("component", "noncemgr"),
	}
}

// AllocateRange allocates a range of size (or the default size if size==0)
// for (jobID, gpuIndex). Returns (range, true) on success, or
// (NonceRange{}, false) when the job's nonce space or range-count budget is
// exhausted.
func (m *Manager) AllocateRange(jobID string, gpuIndex int, size uint64) (NonceRange, bool) {
	if size == 0 {
		size = m.cfg.DefaultRangeSize
	}

	if m.cfg.EnableRecycling {
		if r, ok := m.allocateRecycled(jobID, gpuIndex, size); ok {
			m.log.Debug("allocated recycled range", "gpu", gpuIndex, "job", jobID, "start", r.Start, "size", r.Size())
			return r, true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	offset, ok := m.jobOffsets[jobID]
	if !ok {
		offset = m.cfg.InitialNonce
	}
	if offset+size > m.cfg.MaxNonce || offset+size < offset {
		m.log.Warn("nonce space exhausted", "job", jobID)
		return NonceRange{}, false
	}

	ranges := m.activeRanges[jobID]
	if len(ranges) >= m.cfg.MaxRangesPerJob {
		m.log.Warn("max ranges reached for job", "job", jobID)
		return NonceRange{}, false
	}

	r := NonceRange{Start: offset, End: offset + size, GPUIndex: gpuIndex, JobID: jobID}
	m.jobOffsets[jobID] = offset + size
	m.activeRanges[jobID] = append(ranges, r)

	m.stats.TotalRangesAllocated++
	m.stats.TotalNoncesAllocated += size
	m.stats.ActiveJobs = len(m.jobOffsets)
	m.stats.ActiveRanges = m.countActiveRangesLocked()

	m.log.Info("allocated range", "gpu", gpuIndex, "job", jobID, "start", r.Start, "size", size)
	return r, true
}

func (m *Manager) allocateRecycled(jobID string, gpuIndex int, size uint64) (NonceRange, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.recycled[jobID]
	if !ok || q.Len() == 0 {
		return NonceRange{}, false
	}
	for e := q.Front(); e != nil; e = e.Next() {
		cand := e.Value.(NonceRange)
		if cand.Size() < size {
			continue
		}
		q.Remove(e)
		cand.GPUIndex = gpuIndex

		if cand.Size() > size*2 {
			splitPoint := cand.Start + size
			if left, right, ok := cand.Split(splitPoint); ok {
				q.PushBack(right)
				m.activeRanges[jobID] = append(m.activeRanges[jobID], left)
				return left, true
			}
		}
		m.activeRanges[jobID] = append(m.activeRanges[jobID], cand)
		return cand, true
	}
	return NonceRange{}, false
}

// CompleteRange removes r from the active set and, if recycling is
// enabled, enqueues it for reuse.
func (m *Manager) CompleteRange(jobID string, r NonceRange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeActiveLocked(jobID, r)

	if m.cfg.EnableRecycling {
		q, ok := m.recycled[jobID]
		if !ok {
			q = list.New()
			m.recycled[jobID] = q
		}
		q.PushBack(r)
		m.stats.RangesRecycled++
		m.stats.NoncesRecycled += r.Size()
	}
}

func (m *Manager) removeActiveLocked(jobID string, r NonceRange) {
	ranges := m.activeRanges[jobID]
	for i, cand := range ranges {
		if cand == r {
			m.activeRanges[jobID] = append(ranges[:i], ranges[i+1:]...)
			break
		}
	}
	m.stats.ActiveRanges = m.countActiveRangesLocked()
}

// ReleaseGPURanges reclaims every active range belonging to gpuIndex,
// across all jobs, recycling each one.
func (m *Manager) ReleaseGPURanges(gpuIndex int) int {
	m.mu.Lock()
	touched := mapset.NewSet()
	type pair struct {
		jobID string
		r     NonceRange
	}
	var toRecycle []pair
	for jobID, ranges := range m.activeRanges {
		for _, r := range ranges {
			if r.GPUIndex == gpuIndex {
				toRecycle = append(toRecycle, pair{jobID, r})
				touched.Add(jobID)
			}
		}
	}
	m.mu.Unlock()

	for _, p := range toRecycle {
		m.CompleteRange(p.jobID, p.r)
	}
	m.log.Info("released GPU ranges", "gpu", gpuIndex, "count", len(toRecycle), "jobs", touched.Cardinality())
	return len(toRecycle)
}

// ClearJob drops all offsets, active ranges and recycled queues for jobID.
func (m *Manager) ClearJob(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobOffsets, jobID)
	delete(m.activeRanges, jobID)
	delete(m.recycled, jobID)
	m.stats.ActiveJobs = len(m.jobOffsets)
	m.stats.ActiveRanges = m.countActiveRangesLocked()
	m.log.Info("cleared job", "job", jobID)
}

// IsNonceAllocated reports whether nonce falls within any active range
// for jobID. This satisfies the validator.NonceOracle interface.
func (m *Manager) IsNonceAllocated(jobID string, nonce uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.activeRanges[jobID] {
		if r.Contains(nonce) {
			return true
		}
	}
	return false
}

// GetCoverage returns a value in [0, 100] reflecting the fraction of the
// job's nonce space dispatched so far.
func (m *Manager) GetCoverage(jobID string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	offset, ok := m.jobOffsets[jobID]
	if !ok {
		return 0
	}
	return float64(offset) / float64(m.cfg.MaxNonce) * 100
}

// GetActiveRanges returns a copy of the active ranges for jobID.
func (m *Manager) GetActiveRanges(jobID string) []NonceRange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ranges := m.activeRanges[jobID]
	out := make([]NonceRange, len(ranges))
	copy(out, ranges)
	return out
}

// Stats returns a snapshot of allocator statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *Manager) countActiveRangesLocked() int {
	n := 0
	for _, ranges := range m.activeRanges {
		n += len(ranges)
	}
	return n
}
