package noncemgr

import "testing"

func TestAllocateRangeMonotonicWithoutRecycling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableRecycling = false
	m := New(cfg)

	r1, ok := m.AllocateRange("J1", 0, 1000)
	if !ok {
		t.Fatal("expected allocation to succeed")
	}
	r2, ok := m.AllocateRange("J1", 0, 1000)
	if !ok {
		t.Fatal("expected allocation to succeed")
	}
	if r2.Start <= r1.Start {
		t.Fatalf("expected strictly increasing starts: %d then %d", r1.Start, r2.Start)
	}
	if r1.End != r2.Start {
		t.Fatalf("expected contiguous ranges: %d != %d", r1.End, r2.Start)
	}
}

func TestAllocateRangeDisjoint(t *testing.T) {
	m := New(DefaultConfig())
	seen := make(map[uint64]bool)
	for i := 0; i < 20; i++ {
		r, ok := m.AllocateRange("J1", i%3, 500)
		if !ok {
			t.Fatalf("allocation %d failed", i)
		}
		for n := r.Start; n < r.End; n++ {
			if seen[n] {
				t.Fatalf("nonce %d allocated twice", n)
			}
			seen[n] = true
		}
	}
}

func TestCompleteRangeRecyclesForSameJob(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableRecycling = true
	m := New(cfg)

	r1, _ := m.AllocateRange("J1", 0, 1000)
	m.CompleteRange("J1", r1)

	r2, ok := m.allocateRecycled("J1", 1, 1000)
	if !ok {
		t.Fatal("expected recycled range to be available")
	}
	if r2.Start != r1.Start || r2.End != r1.End {
		t.Fatalf("expected recycled range to match completed range, got %+v want %+v", r2, r1)
	}
	if r2.GPUIndex != 1 {
		t.Fatalf("expected recycled range reassigned to gpu 1, got %d", r2.GPUIndex)
	}
}

func TestIsNonceAllocated(t *testing.T) {
	m := New(DefaultConfig())
	r, _ := m.AllocateRange("J1", 0, 1000)

	if !m.IsNonceAllocated("J1", r.Start) {
		t.Fatal("expected start nonce to be allocated")
	}
	if m.IsNonceAllocated("J1", r.End) {
		t.Fatal("expected end nonce (exclusive) to be unallocated")
	}
	if m.IsNonceAllocated("J2", r.Start) {
		t.Fatal("expected nonce from a different job to be unallocated")
	}
}

func TestReleaseGPURangesMovesToRecycled(t *testing.T) {
	m := New(DefaultConfig())
	r, _ := m.AllocateRange("J1", 3, 1000)

	released := m.ReleaseGPURanges(3)
	if released != 1 {
		t.Fatalf("expected 1 range released, got %d", released)
	}
	if m.IsNonceAllocated("J1", r.Start) {
		t.Fatal("released range should no longer be active")
	}

	recycled, ok := m.allocateRecycled("J1", 0, 500)
	if !ok {
		t.Fatal("expected released range to be recyclable")
	}
	if recycled.Start != r.Start {
		t.Fatalf("expected recycled allocation to start at released range start, got %d", recycled.Start)
	}
}

func TestClearJobDropsActiveAndRecycled(t *testing.T) {
	m := New(DefaultConfig())
	r, _ := m.AllocateRange("J1", 0, 1000)
	m.CompleteRange("J1", r)
	m.ClearJob("J1")

	if m.IsNonceAllocated("J1", r.Start) {
		t.Fatal("expected job to be cleared")
	}
	if _, ok := m.allocateRecycled("J1", 0, 500); ok {
		t.Fatal("expected recycled queue to be cleared too")
	}
}

func TestSplit(t *testing.T) {
	r := NonceRange{Start: 0, End: 1000}
	left, right, ok := r.Split(400)
	if !ok {
		t.Fatal("expected split to succeed")
	}
	if left.Start != 0 || left.End != 400 || right.Start != 400 || right.End != 1000 {
		t.Fatalf("unexpected split result: left=%+v right=%+v", left, right)
	}

	if _, _, ok := r.Split(0); ok {
		t.Fatal("expected split at start to fail")
	}
	if _, _, ok := r.Split(1000); ok {
		t.Fatal("expected split at end to fail")
	}
}
