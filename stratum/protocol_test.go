package stratum

import (
	"encoding/json"
	"testing"

	"github.com/coreminer/kawpowd/core/types"
)

func TestParseMiningJobDecodesNineElementNotify(t *testing.T) {
	params := []interface{}{
		"job1",
		"00000000000000000000000000000000000000000000000000000000000000",
		"01000000",
		"ffffffff",
		[]interface{}{"aa", "bb"},
		"20000000",
		"1d00ffff",
		"5f5e100",
		true,
	}

	job, err := ParseMiningJob(params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.JobID != "job1" {
		t.Fatalf("expected job id job1, got %s", job.JobID)
	}
	if len(job.MerkleBranches) != 2 || job.MerkleBranches[0] != "aa" || job.MerkleBranches[1] != "bb" {
		t.Fatalf("unexpected merkle branches: %v", job.MerkleBranches)
	}
	if !job.CleanJobs {
		t.Fatal("expected clean_jobs to be true")
	}
}

func TestParseMiningJobRejectsShortParams(t *testing.T) {
	if _, err := ParseMiningJob([]interface{}{"job1"}); err == nil {
		t.Fatal("expected error for too-short params")
	}
}

func TestParseMiningJobRejectsWrongFieldType(t *testing.T) {
	params := []interface{}{
		"job1", "prevhash", "cb1", "cb2",
		[]interface{}{}, 12345, "1d00ffff", "5f5e100", true,
	}
	if _, err := ParseMiningJob(params); err == nil {
		t.Fatal("expected error for a non-string version field")
	}
}

func TestParseSubscribeResultDecodesExtraNonce(t *testing.T) {
	raw := json.RawMessage(`[[["mining.notify","sub1"]],"ab12cd34",4]`)

	res, err := ParseSubscribeResult(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExtraNonce1 != "ab12cd34" {
		t.Fatalf("expected extranonce1 ab12cd34, got %s", res.ExtraNonce1)
	}
	if res.ExtraNonce2Size != 4 {
		t.Fatalf("expected extranonce2_size 4, got %d", res.ExtraNonce2Size)
	}
}

func TestParseSubscribeResultDefaultsExtraNonce2Size(t *testing.T) {
	raw := json.RawMessage(`[[],"ab12cd34"]`)

	res, err := ParseSubscribeResult(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExtraNonce2Size != 4 {
		t.Fatalf("expected default extranonce2_size 4, got %d", res.ExtraNonce2Size)
	}
}

func TestParseSubscribeResultRejectsTooShort(t *testing.T) {
	raw := json.RawMessage(`[[]]`)
	if _, err := ParseSubscribeResult(raw); err == nil {
		t.Fatal("expected error for a too-short subscribe result")
	}
}

func TestNewSubmitRequestOrdersParamsPerProtocol(t *testing.T) {
	share := types.Share{
		WorkerName:  "worker.1",
		JobID:       "job1",
		ExtraNonce2: "00000001",
		NTime:       "5f5e100",
		Nonce:       "0000000000000abc",
	}

	req := NewSubmitRequest(7, share)
	if req.Method != MethodSubmit {
		t.Fatalf("expected method %s, got %s", MethodSubmit, req.Method)
	}
	want := []interface{}{"worker.1", "job1", "00000001", "5f5e100", "0000000000000abc"}
	if len(req.Params) != len(want) {
		t.Fatalf("expected %d params, got %d", len(want), len(req.Params))
	}
	for i := range want {
		if req.Params[i] != want[i] {
			t.Fatalf("param %d: expected %v, got %v", i, want[i], req.Params[i])
		}
	}
}

func TestNewSubmitRequestAppendsVersionRollingMask(t *testing.T) {
	mask := "1fffe000"
	share := types.Share{
		WorkerName:         "worker.1",
		JobID:              "job1",
		ExtraNonce2:        "00000001",
		NTime:              "5f5e100",
		Nonce:              "0000000000000abc",
		VersionRollingMask: &mask,
	}

	req := NewSubmitRequest(7, share)
	if len(req.Params) != 6 {
		t.Fatalf("expected 6 params with a version rolling mask, got %d", len(req.Params))
	}
	if req.Params[5] != mask {
		t.Fatalf("expected trailing mask param %q, got %v", mask, req.Params[5])
	}
}
