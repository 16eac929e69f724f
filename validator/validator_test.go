package validator

import (
	"testing"

	"github.com/coreminer/kawpowd/common"
	"github.com/coreminer/kawpowd/core/types"
)

type fakeOracle struct {
	allocated map[uint64]bool
}

func (f *fakeOracle) IsNonceAllocated(jobID string, nonce uint64) bool {
	return f.allocated[nonce]
}

func newTestValidator(t *testing.T) (*Validator, *fakeOracle) {
	t.Helper()
	v, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error constructing validator: %v", err)
	}
	oracle := &fakeOracle{allocated: map[uint64]bool{42: true}}
	v.SetNonceOracle(oracle)
	v.RegisterJob("J1")
	return v, oracle
}

func maxTarget() common.Hash256 {
	var h common.Hash256
	for i := range h {
		h[i] = 0xff
	}
	return h
}

func minHash() common.Hash256 {
	var h common.Hash256
	for i := range h {
		h[i] = 0x01
	}
	return h
}

func TestValidateResultRejectsUnknownJob(t *testing.T) {
	v, _ := newTestValidator(t)
	result := types.MiningResult{Nonce: 42, Hash: minHash()}

	got := v.ValidateResult(result, types.BlockHeader{}, maxTarget(), "unregistered", 0)
	if got != UnknownJob {
		t.Fatalf("expected UnknownJob, got %s", got)
	}
}

func TestValidateResultRejectsNonceOutsideAssignedRange(t *testing.T) {
	v, _ := newTestValidator(t)
	result := types.MiningResult{Nonce: 999, Hash: minHash()}

	got := v.ValidateResult(result, types.BlockHeader{}, maxTarget(), "J1", 0)
	if got != InvalidNonce {
		t.Fatalf("expected InvalidNonce, got %s", got)
	}
}

func TestValidateResultRejectsDuplicateSubmission(t *testing.T) {
	v, _ := newTestValidator(t)
	result := types.MiningResult{Nonce: 42, Hash: minHash()}

	first := v.ValidateResult(result, types.BlockHeader{}, maxTarget(), "J1", 0)
	if first != Valid {
		t.Fatalf("expected first submission to be Valid, got %s", first)
	}

	second := v.ValidateResult(result, types.BlockHeader{}, maxTarget(), "J1", 0)
	if second != Duplicate {
		t.Fatalf("expected second submission to be Duplicate, got %s", second)
	}
}

func TestValidateResultRejectsHashAboveTarget(t *testing.T) {
	v, _ := newTestValidator(t)
	result := types.MiningResult{Nonce: 42, Hash: maxTarget()}

	got := v.ValidateResult(result, types.BlockHeader{}, common.Hash256{}, "J1", 0)
	if got != BelowTarget {
		t.Fatalf("expected BelowTarget, got %s", got)
	}
}

func TestValidateResultRejectsDegenerateHash(t *testing.T) {
	v, _ := newTestValidator(t)
	result := types.MiningResult{Nonce: 42, Hash: common.Hash256{}}

	got := v.ValidateResult(result, types.BlockHeader{}, maxTarget(), "J1", 0)
	if got != InvalidHash {
		t.Fatalf("expected InvalidHash for an all-zero hash, got %s", got)
	}
}

func TestValidateResultAcceptsGoodShare(t *testing.T) {
	v, _ := newTestValidator(t)
	result := types.MiningResult{Nonce: 42, Hash: minHash()}

	got := v.ValidateResult(result, types.BlockHeader{}, maxTarget(), "J1", 0)
	if got != Valid {
		t.Fatalf("expected Valid, got %s", got)
	}

	stats := v.Stats()
	if stats.ValidShares != 1 {
		t.Fatalf("expected 1 valid share recorded, got %d", stats.ValidShares)
	}
	if stats.TotalSharesValidated != 1 {
		t.Fatalf("expected 1 total share recorded, got %d", stats.TotalSharesValidated)
	}
}

func TestClearHistoryAllowsResubmission(t *testing.T) {
	v, _ := newTestValidator(t)
	result := types.MiningResult{Nonce: 42, Hash: minHash()}

	if got := v.ValidateResult(result, types.BlockHeader{}, maxTarget(), "J1", 0); got != Valid {
		t.Fatalf("expected Valid, got %s", got)
	}

	v.ClearHistory()

	if got := v.ValidateResult(result, types.BlockHeader{}, maxTarget(), "J1", 0); got != Valid {
		t.Fatalf("expected the same nonce to validate again after clearing history, got %s", got)
	}
}

func TestCreateValidatedShareFormatsNonceAsHex(t *testing.T) {
	v, _ := newTestValidator(t)
	result := types.MiningResult{Nonce: 0xabc, Hash: minHash()}

	share := v.CreateValidatedShare(result, "J1", 0, "worker.1", "00000001", "5f5e100")
	if share.Share.Nonce != "0000000000000abc" {
		t.Fatalf("expected zero-padded 16-hex-digit nonce, got %q", share.Share.Nonce)
	}
	if share.Share.JobID != "J1" {
		t.Fatalf("expected job id J1, got %s", share.Share.JobID)
	}
}
