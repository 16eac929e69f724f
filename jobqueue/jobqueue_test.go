package jobqueue

import (
	"testing"
	"time"

	"github.com/coreminer/kawpowd/common"
	"github.com/coreminer/kawpowd/core/types"
)

func job(id string, clean bool) *types.MiningJob {
	return &types.MiningJob{JobID: id, CleanJobs: clean}
}

func TestCleanJobPreemptsNormalQueue(t *testing.T) {
	q := New(DefaultConfig())

	for _, id := range []string{"N1", "N2", "N3"} {
		if !q.AddJob(job(id, false), types.BlockHeader{}, common.Hash256{}) {
			t.Fatalf("expected %s to be queued", id)
		}
	}
	if !q.AddJob(job("C", true), types.BlockHeader{}, common.Hash256{}) {
		t.Fatal("expected clean job to be queued")
	}

	next := q.GetNextJob()
	if next == nil || next.Job.JobID != "C" {
		t.Fatalf("expected clean job C first, got %+v", next)
	}
	if q.QueueDepth() != 0 {
		t.Fatalf("expected normal queue to have been drained, depth=%d", q.QueueDepth())
	}
}

func TestGetNextJobDropsAgedNormalJobs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxJobAge = time.Millisecond
	q := New(cfg)

	q.AddJob(job("N1", false), types.BlockHeader{}, common.Hash256{})
	time.Sleep(5 * time.Millisecond)
	q.AddJob(job("N2", false), types.BlockHeader{}, common.Hash256{})
	time.Sleep(5 * time.Millisecond)

	next := q.GetNextJob()
	if next != nil {
		t.Fatalf("expected both jobs to have aged out, got %+v", next)
	}
	if stats := q.Stats(); stats.JobsDroppedAge != 2 {
		t.Fatalf("expected 2 aged drops, got %d", stats.JobsDroppedAge)
	}
}

func TestBackupJobServedWhenChannelsEmpty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxJobAge = time.Hour
	q := New(cfg)

	q.AddJob(job("N1", false), types.BlockHeader{}, common.Hash256{})
	first := q.GetNextJob()
	if first == nil || first.Job.JobID != "N1" {
		t.Fatalf("expected N1, got %+v", first)
	}

	second := q.GetNextJob()
	if second == nil || second.Job.JobID != "N1" {
		t.Fatalf("expected backup job N1 to be served again, got %+v", second)
	}
}

func TestQueueOverflowIsCountedAndDropped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxQueueSize = 1
	q := New(cfg)

	if !q.AddJob(job("N1", false), types.BlockHeader{}, common.Hash256{}) {
		t.Fatal("expected first job to be accepted")
	}
	if q.AddJob(job("N2", false), types.BlockHeader{}, common.Hash256{}) {
		t.Fatal("expected second job to overflow the queue")
	}
	if stats := q.Stats(); stats.JobsDroppedOverflow != 1 {
		t.Fatalf("expected 1 overflow drop, got %d", stats.JobsDroppedOverflow)
	}
}
