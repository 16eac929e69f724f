package types

import (
	"time"

	"github.com/coreminer/kawpowd/common"
)

// Priority orders jobs in the queue; Critical jobs (clean_jobs=true)
// preempt everything else.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// MiningJob is the pool-issued job as received from mining.notify. Its
// identity is JobID; all hex fields are lowercase, no 0x prefix, per
// spec.md §6.
type MiningJob struct {
	JobID          string
	PrevHash       string
	Coinbase1      string
	Coinbase2      string
	MerkleBranches []string
	Version        string
	NBits          string
	NTime          string
	CleanJobs      bool
}

// QueuedJob wraps a MiningJob with the derived data the job pipeline
// needs: its BlockHeader, target, priority, and bookkeeping fields.
type QueuedJob struct {
	Job        *MiningJob
	Header     BlockHeader
	Target     common.Hash256
	Priority   Priority
	ReceivedAt time.Time
	Clean      bool
}

// IsStale reports whether the job was received more than maxAge ago.
func (q *QueuedJob) IsStale(maxAge time.Duration) bool {
	return time.Since(q.ReceivedAt) > maxAge
}
