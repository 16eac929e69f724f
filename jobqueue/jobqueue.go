// Package jobqueue buffers incoming mining jobs with priority ordering,
// aging, and a backup pool for when the pool falls silent. Grounded on
// original_source's mineos-core/src/job_queue.rs.
package jobqueue

import (
	"sync"
	"time"

	"github.com/coreminer/kawpowd/common"
	"github.com/coreminer/kawpowd/core/types"
	"github.com/coreminer/kawpowd/log"
)

// Config parameterizes the Queue.
type Config struct {
	MaxQueueSize    int
	EnablePriority  bool
	MaxJobAge       time.Duration
	BackupJobCount  int
}

// DefaultConfig mirrors JobQueueConfig::default().
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:   100,
		EnablePriority: true,
		MaxJobAge:      120 * time.Second,
		BackupJobCount: 3,
	}
}

// Stats summarizes queue activity.
type Stats struct {
	TotalJobsReceived  uint64
	TotalJobsProcessed uint64
	CleanJobsReceived  uint64
	JobsDroppedAge     uint64
	JobsDroppedOverflow uint64
	CurrentQueueDepth  int
}

// Queue is a thread-safe, priority-ordered buffer of QueuedJob. Clean
// jobs travel on a small high-priority channel and flush the normal
// channel; normal jobs travel on a bounded channel and are additionally
// retained in a backup ring for when both channels run dry.
type Queue struct {
	cfg Config

	high   chan *types.QueuedJob
	normal chan *types.QueuedJob

	mu          sync.RWMutex
	currentJob  *types.QueuedJob
	backupJobs  []*types.QueuedJob

	statsMu sync.Mutex
	stats   Stats

	log *log.Logger
}

// New constructs a Queue.
func New(cfg Config) *Queue {
	return &Queue{
		cfg:    cfg,
		high:   make(chan *types.QueuedJob, 10),
		normal: make(chan *types.QueuedJob, cfg.MaxQueueSize),
		log:    log.Root().With("component", "jobqueue"),
	}
}

// AddJob enqueues job, routing clean jobs to the high-priority channel
// and flushing the normal channel so stale work stops being dispatched.
// Returns false if the target channel was full (queue overflow).
func (q *Queue) AddJob(job *types.MiningJob, header types.BlockHeader, target common.Hash256) bool {
	q.statsMu.Lock()
	q.stats.TotalJobsReceived++
	if job.CleanJobs {
		q.stats.CleanJobsReceived++
	}
	q.statsMu.Unlock()

	priority := types.PriorityNormal
	if job.CleanJobs {
		priority = types.PriorityCritical
	}

	queued := &types.QueuedJob{
		Job:        job,
		Header:     header,
		Target:     target,
		Priority:   priority,
		ReceivedAt: time.Now(),
		Clean:      job.CleanJobs,
	}

	var ok bool
	if priority == types.PriorityCritical {
		q.log.Info("adding clean job to high priority queue", "job", job.JobID)
		q.clearNormalQueue()
		ok = trySend(q.high, queued)
	} else {
		q.log.Debug("adding job to normal queue", "job", job.JobID)
		ok = trySend(q.normal, queued)
	}

	if !ok {
		q.log.Warn("queue full, dropping job", "job", job.JobID)
		q.statsMu.Lock()
		q.stats.JobsDroppedOverflow++
		q.statsMu.Unlock()
		return false
	}

	q.statsMu.Lock()
	q.stats.CurrentQueueDepth = len(q.high) + len(q.normal)
	q.statsMu.Unlock()

	if !job.CleanJobs {
		q.addBackupJob(queued)
	}
	return true
}

func trySend(ch chan *types.QueuedJob, job *types.QueuedJob) bool {
	select {
	case ch <- job:
		return true
	default:
		return false
	}
}

// GetNextJob returns the next job to work on: a pending clean job first,
// then the oldest normal job not yet expired, then a backup job if both
// channels are empty.
func (q *Queue) GetNextJob() *types.QueuedJob {
	select {
	case job := <-q.high:
		q.log.Info("retrieved high priority job", "job", job.Job.JobID)
		q.setCurrentJob(job)
		return job
	default:
	}

	for {
		select {
		case job := <-q.normal:
			if q.cfg.MaxJobAge > 0 && time.Since(job.ReceivedAt) > q.cfg.MaxJobAge {
				q.log.Debug("dropping aged job", "job", job.Job.JobID, "age", time.Since(job.ReceivedAt))
				q.statsMu.Lock()
				q.stats.JobsDroppedAge++
				q.statsMu.Unlock()
				continue
			}
			q.log.Debug("retrieved normal job", "job", job.Job.JobID)
			q.setCurrentJob(job)
			return job
		default:
		}
		break
	}

	return q.getBackupJob()
}

func (q *Queue) setCurrentJob(job *types.QueuedJob) {
	q.mu.Lock()
	q.currentJob = job
	q.mu.Unlock()

	q.statsMu.Lock()
	q.stats.TotalJobsProcessed++
	q.stats.CurrentQueueDepth = len(q.high) + len(q.normal)
	q.statsMu.Unlock()
}

// GetCurrentJob returns the most recently dispatched job, if any.
func (q *Queue) GetCurrentJob() *types.QueuedJob {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.currentJob
}

func (q *Queue) clearNormalQueue() {
	count := 0
	for {
		select {
		case <-q.normal:
			count++
		default:
			if count > 0 {
				q.log.Info("cleared jobs from normal queue for clean job", "count", count)
			}
			return
		}
	}
}

func (q *Queue) addBackupJob(job *types.QueuedJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.backupJobs) >= q.cfg.BackupJobCount {
		q.backupJobs = q.backupJobs[1:]
	}
	q.backupJobs = append(q.backupJobs, job)
}

func (q *Queue) getBackupJob() *types.QueuedJob {
	q.mu.RLock()
	defer q.mu.RUnlock()
	maxAge := q.cfg.MaxJobAge * 2
	for i := len(q.backupJobs) - 1; i >= 0; i-- {
		job := q.backupJobs[i]
		if maxAge == 0 || time.Since(job.ReceivedAt) <= maxAge {
			q.log.Debug("using backup job", "job", job.Job.JobID)
			return job
		}
	}
	return nil
}

// QueueDepth returns the combined length of the high and normal channels.
func (q *Queue) QueueDepth() int {
	return len(q.high) + len(q.normal)
}

// HasWork reports whether any channel or the backup pool has a job.
func (q *Queue) HasWork() bool {
	if len(q.high) > 0 || len(q.normal) > 0 {
		return true
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.backupJobs) > 0
}

// Stats returns a snapshot of queue statistics.
func (q *Queue) Stats() Stats {
	q.statsMu.Lock()
	defer q.statsMu.Unlock()
	return q.stats
}
