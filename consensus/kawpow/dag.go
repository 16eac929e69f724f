package kawpow

import (
	"encoding/binary"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/errgroup"

	"github.com/coreminer/kawpowd/common"
	"github.com/coreminer/kawpowd/log"
)

// KawPow DAG sizing constants, taken from original_source's mineos-hash
// dag.rs (itself following the Ethash/ProgPoW family convention).
const (
	DatasetBytesInit   = 1 << 30 // 1 GiB
	DatasetBytesGrowth = 1 << 23 // 8 MiB
	CacheBytesInit     = 1 << 24 // 16 MiB
	CacheBytesGrowth   = 1 << 17 // 128 KiB
	EpochLength        = 7500
	HashBytes          = 64
	MixBytes           = 128
	DatasetParents     = 256
	CacheRounds        = 3

	// epochWindow is the number of epochs (current +/- 1) kept resident.
	epochWindow = 3
)

// EpochOf returns the deterministic epoch for a block height.
func EpochOf(height uint64) uint64 { return height / EpochLength }

// isPrime is a simple trial-division primality test, sufficient for the
// item counts (a few hundred thousand for the cache, several million for
// the dataset) produced by the cache/dataset sizing loops below.
func isPrime(n uint64) bool {
	if n < 2 {
		return false
	}
	if n%2 == 0 {
		return n == 2
	}
	for i := uint64(3); i*i <= n; i += 2 {
		if n%i == 0 {
			return false
		}
	}
	return true
}

// CacheSize returns the cache size in bytes for epoch, rounded down so
// that size/HashBytes is prime.
func CacheSize(epoch uint64) uint64 {
	size := CacheBytesInit + CacheBytesGrowth*epoch - HashBytes
	for !isPrime(size / HashBytes) {
		size -= 2 * HashBytes
	}
	return size
}

// DatasetSize returns the full dataset size in bytes for epoch, rounded
// down so that size/MixBytes is prime.
func DatasetSize(epoch uint64) uint64 {
	size := DatasetBytesInit + DatasetBytesGrowth*epoch - MixBytes
	for !isPrime(size / MixBytes) {
		size -= 2 * MixBytes
	}
	return size
}

// SeedHash derives the epoch seed by chaining Keccak-f800 epoch times
// starting from the zero hash.
func SeedHash(epoch uint64) common.Hash256 {
	var seed common.Hash256
	for i := uint64(0); i < epoch; i++ {
		seed = hashKeccakF800(seed)
	}
	return seed
}

func hashKeccakF800(in common.Hash256) common.Hash256 {
	var state State
	for i := 0; i < 8; i++ {
		state[i] = binary.LittleEndian.Uint32(in[i*4 : i*4+4])
	}
	KeccakF800(&state)
	var out common.Hash256
	for i := 0; i < 8; i++ {
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], state[i])
	}
	return out
}

// DagCache is the owned, immutable cache for one epoch, from which
// individual dataset items are derived on demand.
type DagCache struct {
	Epoch     uint64
	Cache     []byte // len == CacheSize(Epoch)
	CacheSize uint64
}

// GenerateCache builds the cache for epoch: a sequential Keccak-f800 chain
// to fill it, followed by CacheRounds cache-mixing passes.
func GenerateCache(epoch uint64) *DagCache {
	size := CacheSize(epoch)
	n := size / HashBytes
	cache := make([]byte, size)

	seed := SeedHash(epoch)
	copy(cache[:32], seed[:])

	for i := uint64(1); i < n; i++ {
		prev := cache[(i-1)*HashBytes : (i-1)*HashBytes+32]
		var h common.Hash256
		copy(h[:], prev)
		next := hashKeccakF800(h)
		copy(cache[i*HashBytes:i*HashBytes+32], next[:])
	}

	var mix [16]uint32
	for round := 0; round < CacheRounds; round++ {
		for i := uint64(0); i < n; i++ {
			v := uint32(i)
			p1 := uint64(v) % n
			p2 := uint64(v^1) % n
			for j := 0; j < 16; j++ {
				o1 := p1*HashBytes + uint64(j*4)
				o2 := p2*HashBytes + uint64(j*4)
				val1 := binary.LittleEndian.Uint32(cache[o1 : o1+4])
				val2 := binary.LittleEndian.Uint32(cache[o2 : o2+4])
				mix[j] = val1 ^ val2
			}
			var state State
			copy(state[:16], mix[:])
			KeccakF800(&state)
			for j := 0; j < 16; j++ {
				binary.LittleEndian.PutUint32(cache[i*HashBytes+uint64(j*4):], state[j])
			}
		}
	}

	return &DagCache{Epoch: epoch, Cache: cache, CacheSize: size}
}

// CalcDatasetItem computes the 64-byte dataset item at index, seeding a
// mix from cache[index mod N], folding index into word 0, applying
// Keccak-f800, then walking DatasetParents FNV-derived cache parents
// before a final Keccak-f800 reduction.
func (c *DagCache) CalcDatasetItem(index uint64) [HashBytes]byte {
	n := c.CacheSize / HashBytes
	const r = HashBytes / 4

	var mix [r]uint32
	cacheIndex := index % n
	for i := 0; i < r; i++ {
		off := cacheIndex*HashBytes + uint64(i*4)
		mix[i] = binary.LittleEndian.Uint32(c.Cache[off : off+4])
	}
	mix[0] ^= uint32(index)

	var state State
	copy(state[:16], mix[:])
	KeccakF800(&state)
	copy(mix[:16], state[:16])

	for j := 0; j < DatasetParents; j++ {
		parent := uint64(FNV1a(uint32(index)^uint32(j), mix[j%r])) % n
		for i := 0; i < r; i++ {
			off := parent*HashBytes + uint64(i*4)
			pv := binary.LittleEndian.Uint32(c.Cache[off : off+4])
			mix[i] = FNV1a(mix[i], pv)
		}
	}

	var out2 State
	copy(out2[:16], mix[:])
	KeccakF800(&out2)

	var result [HashBytes]byte
	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint32(result[i*4:i*4+4], out2[i])
	}
	return result
}

// Dag is the full, immutable dataset for one epoch, shared read-only
// across all GPU workers mining that epoch.
type Dag struct {
	Epoch  uint64
	Data   []byte
	Size   uint64
	IsTest bool
}

// GenerateDag builds the full dataset from cache, fanning item generation
// out across a fixed pool of 8 worker goroutines.
func GenerateDag(cache *DagCache) (*Dag, error) {
	size := DatasetSize(cache.Epoch)
	n := size / HashBytes
	data := make([]byte, size)

	var g errgroup.Group
	workers := 8
	chunk := (n + uint64(workers) - 1) / uint64(workers)
	for w := 0; w < workers; w++ {
		start := uint64(w) * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				item := cache.CalcDatasetItem(i)
				copy(data[i*HashBytes:i*HashBytes+HashBytes], item[:])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("kawpow: dag generation: %w", err)
	}
	return &Dag{Epoch: cache.Epoch, Data: data, Size: size}, nil
}

// TestDag returns a small (1 MiB) deterministic DAG for self-tests. Its
// IsTest flag must be checked by callers so production code never
// silently consumes a test dataset.
func TestDag(epoch uint64) *Dag {
	const size = 1 << 20
	data := make([]byte, size)
	for i := 0; i < size/4; i++ {
		v := FNV1a(uint32(i), uint32(epoch))
		binary.LittleEndian.PutUint32(data[i*4:], v)
	}
	return &Dag{Epoch: epoch, Data: data, Size: size, IsTest: true}
}

// Item returns the HashBytes-length dataset item at index.
func (d *Dag) Item(index uint64) []byte {
	idx := index
	if d.IsTest {
		idx = index % (d.Size / HashBytes)
	}
	off := idx * HashBytes
	return d.Data[off : off+HashBytes]
}

// DagEngine owns the epoch-windowed cache/dataset LRUs (current +/- 1,
// i.e. epochWindow entries), generating on demand and evicting outside
// the window as new epochs are built.
type DagEngine struct {
	mu        sync.Mutex
	caches    *lru.Cache
	datasets  *lru.Cache
	log       *log.Logger
	allowTest bool
}

// NewDagEngine constructs an engine. When allowTest is true, GetDag will
// return a TestDag instead of generating the full dataset — callers must
// only set this in self-tests, never in production wiring.
func NewDagEngine(allowTest bool) *DagEngine {
	caches, _ := lru.New(epochWindow)
	datasets, _ := lru.New(epochWindow)
	return &DagEngine{caches: caches, datasets: datasets, log: log.Root().With("component", "dag"), allowTest: allowTest}
}

// GetCache returns the (possibly freshly generated) cache for epoch.
func (e *DagEngine) GetCache(epoch uint64) *DagCache {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.caches.Get(epoch); ok {
		return v.(*DagCache)
	}
	e.log.Info("generating DAG cache", "epoch", epoch, "size_mb", CacheSize(epoch)/(1<<20))
	c := GenerateCache(epoch)
	e.caches.Add(epoch, c)
	return c
}

// GetDag returns the (possibly freshly generated) full dataset for epoch.
func (e *DagEngine) GetDag(epoch uint64) (*Dag, error) {
	e.mu.Lock()
	if v, ok := e.datasets.Get(epoch); ok {
		e.mu.Unlock()
		return v.(*Dag), nil
	}
	e.mu.Unlock()

	if e.allowTest {
		d := TestDag(epoch)
		e.mu.Lock()
		e.datasets.Add(epoch, d)
		e.mu.Unlock()
		return d, nil
	}

	cache := e.GetCache(epoch)
	e.log.Info("generating DAG dataset", "epoch", epoch, "size_gb", float64(DatasetSize(epoch))/(1<<30))
	d, err := GenerateDag(cache)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.datasets.Add(epoch, d)
	e.mu.Unlock()
	return d, nil
}
