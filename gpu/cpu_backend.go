package gpu

import (
	"context"
	"sync"

	"github.com/coreminer/kawpowd/consensus/kawpow"
	"github.com/coreminer/kawpowd/core/types"
)

// CPUBackend is the reference Backend: it executes the ProgPoW kernel
// directly on the host CPU. It exists so the rest of the engine — job
// pipeline, scheduler, validator, orchestrator — has a real, correct
// implementation to run and test against in the absence of a CUDA/OpenCL
// toolchain.
type CPUBackend struct {
	info Info
	mu   sync.Mutex
}

// NewCPUBackend constructs a CPUBackend claiming a single ProgPoW lane
// group (Lanes-wide SIMD is simulated internally by the kernel itself, not
// by concurrent Go execution here).
func NewCPUBackend(index int, name string) *CPUBackend {
	return &CPUBackend{
		info: Info{
			Index:         index,
			Name:          name,
			TotalMemoryMB: 0,
			ComputeLanes:  kawpow.Lanes,
		},
	}
}

func (c *CPUBackend) Info() Info { return c.info }

// Search scans the nonce range sequentially, checking ctx.Err() and
// invoking report every batch so the caller sees live throughput.
func (c *CPUBackend) Search(ctx context.Context, dag *kawpow.Dag, unit types.WorkUnit, report func(hashes uint64)) (*types.MiningResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	const batchSize = 4096
	headerBytes := unit.Header.BytesExcludingNonce()

	var scanned uint64
	for n := unit.NonceStart; n < unit.NonceStart+unit.NonceCount; n++ {
		if scanned%batchSize == 0 {
			select {
			case <-ctx.Done():
				if report != nil && scanned > 0 {
					report(scanned % batchSize)
				}
				return nil, ctx.Err()
			default:
			}
		}

		result := kawpow.Hash(dag, headerBytes, n)
		scanned++

		if result.Hash.MeetsTarget(unit.Target) {
			if report != nil {
				report(scanned % batchSize)
			}
			return &types.MiningResult{Nonce: n, Hash: result.Hash, MixHash: result.MixHash}, nil
		}

		if report != nil && scanned%batchSize == 0 {
			report(batchSize)
		}
	}
	if report != nil && scanned%batchSize != 0 {
		report(scanned % batchSize)
	}
	return nil, nil
}

func (c *CPUBackend) Synchronize() error { return nil }

func (c *CPUBackend) Close() error { return nil }
