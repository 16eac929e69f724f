// Package gpu abstracts the compute devices that execute ProgPoW work
// units. It is grounded on original_source's mineos-hardware/src/manager.rs
// for the manager/device/pool split, with the CUDA-specific kernel-launch
// plumbing replaced by a Backend interface — there is no cgo/CUDA toolchain
// available in this module, so the only Backend implementation shipped here
// runs the reference kawpow kernel on the CPU. A real CUDA/OpenCL backend
// implements the same interface and plugs in without touching callers.
package gpu

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/coreminer/kawpowd/consensus/kawpow"
	"github.com/coreminer/kawpowd/core/types"
	"github.com/coreminer/kawpowd/log"
)

// ErrDeviceNotFound is returned by Manager.Device for an unknown index.
var ErrDeviceNotFound = errors.New("gpu: device not found")

// Info describes a device's static capabilities, the analogue of
// detect_cuda_devices()'s GpuDeviceInfo.
type Info struct {
	Index         int
	Name          string
	TotalMemoryMB uint64
	ComputeLanes  int // parallel ProgPoW lanes this device executes concurrently
}

// Backend executes ProgPoW search over a nonce range. Implementations own
// whatever device context/stream/kernel state they need; the reference
// backend below needs none of it.
type Backend interface {
	Info() Info
	// Search scans [unit.NonceStart, unit.NonceStart+unit.NonceCount) against
	// dag, calling report periodically with a hash-count delta so the caller
	// can track throughput, and returns early with a result the moment a
	// candidate meets unit.Target. ctx cancellation aborts the scan.
	Search(ctx context.Context, dag *kawpow.Dag, unit types.WorkUnit, report func(hashes uint64)) (*types.MiningResult, error)
	Synchronize() error
	Close() error
}

// Manager owns the set of detected devices and their backends, the
// counterpart of GpuManager.
type Manager struct {
	mu       sync.RWMutex
	backends map[int]Backend
	pools    map[int]*MemoryPool
	log      *log.Logger
}

// NewManager constructs a Manager with no devices registered. Call
// RegisterBackend for each detected device.
func NewManager() *Manager {
	return &Manager{
		backends: make(map[int]Backend),
		pools:    make(map[int]*MemoryPool),
		log:      log.Root().With("component", "gpu"),
	}
}

// RegisterBackend attaches a Backend under its own Info().Index, and gives
// it a default 1GiB memory pool mirroring the teacher's per-GPU allocation.
func (m *Manager) RegisterBackend(b Backend) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := b.Info().Index
	m.backends[idx] = b
	m.pools[idx] = NewMemoryPool(1 << 30)
	m.log.Info("registered device", "index", idx, "name", b.Info().Name)
}

// DeviceCount returns the number of registered devices.
func (m *Manager) DeviceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.backends)
}

// DeviceInfo returns Info for every registered device, ordered by index.
func (m *Manager) DeviceInfo() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.backends))
	for _, b := range m.backends {
		out = append(out, b.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Device returns the backend registered for index.
func (m *Manager) Device(index int) (Backend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.backends[index]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrDeviceNotFound, index)
	}
	return b, nil
}

// MemoryPool returns the pool associated with index.
func (m *Manager) MemoryPool(index int) (*MemoryPool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[index]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrDeviceNotFound, index)
	}
	return p, nil
}

// SynchronizeAll blocks until every device has drained its in-flight work.
func (m *Manager) SynchronizeAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for idx, b := range m.backends {
		if err := b.Synchronize(); err != nil {
			return fmt.Errorf("gpu %d: %w", idx, err)
		}
	}
	return nil
}

// Close tears down every registered backend.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for idx, b := range m.backends {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("gpu %d: %w", idx, err)
		}
	}
	return firstErr
}
