// Package validator checks candidate solutions before they are submitted
// to a pool: job liveness, nonce-range membership, duplicate detection,
// target satisfaction and a fast sanity pass over the hash itself.
// Grounded on original_source's mineos-core/src/share_validator.rs.
package validator

import (
	"fmt"
	"sync"
	"time"

	"github.com/allegro/bigcache"

	"github.com/coreminer/kawpowd/common"
	"github.com/coreminer/kawpowd/core/types"
	"github.com/coreminer/kawpowd/log"
)

// Result classifies the outcome of validating a mining result.
type Result int

const (
	Valid Result = iota
	Stale
	Duplicate
	BelowTarget
	InvalidHash
	InvalidNonce
	UnknownJob
)

func (r Result) String() string {
	switch r {
	case Valid:
		return "valid"
	case Stale:
		return "stale"
	case Duplicate:
		return "duplicate"
	case BelowTarget:
		return "below_target"
	case InvalidHash:
		return "invalid_hash"
	case InvalidNonce:
		return "invalid_nonce"
	case UnknownJob:
		return "unknown_job"
	default:
		return "unknown"
	}
}

// NonceOracle reports whether a nonce was actually dispatched for a job.
// noncemgr.Manager satisfies this; it is expressed as an interface here so
// this package does not import noncemgr and create a dependency cycle.
type NonceOracle interface {
	IsNonceAllocated(jobID string, nonce uint64) bool
}

// Config parameterizes the Validator.
type Config struct {
	DetectDuplicates   bool
	DuplicateCacheTTL  time.Duration
	DuplicateCacheSize int
	ValidateNonceRange bool
	MaxJobAge          time.Duration
	FastVerify         bool
}

// DefaultConfig mirrors ShareValidatorConfig::default().
func DefaultConfig() Config {
	return Config{
		DetectDuplicates:   true,
		DuplicateCacheTTL:  5 * time.Minute,
		DuplicateCacheSize: 10000,
		ValidateNonceRange: true,
		MaxJobAge:          120 * time.Second,
		FastVerify:         true,
	}
}

// ValidatedShare is a solution that passed every check and is ready for
// mining.submit.
type ValidatedShare struct {
	Share      types.Share
	Result     types.MiningResult
	JobID      string
	GPUIndex   int
	FoundAt    time.Time
	Difficulty float64
}

// Stats summarizes validation activity.
type Stats struct {
	TotalSharesValidated uint64
	ValidShares          uint64
	StaleShares          uint64
	DuplicateShares      uint64
	InvalidShares        uint64
	BelowTargetShares    uint64
	OutOfRangeNonces     uint64
}

// Validator checks candidate MiningResults before they leave the engine.
type Validator struct {
	cfg Config

	dupCache *bigcache.BigCache
	nonces   NonceOracle

	mu         sync.RWMutex
	activeJobs map[string]bool

	statsMu sync.Mutex
	stats   Stats

	log *log.Logger
}

// New constructs a Validator. cfg.DuplicateCacheTTL sets the duplicate
// cache's entry lifetime and cfg.DuplicateCacheSize its initial entry
// capacity; the cache is capped at 64 MB.
func New(cfg Config) (*Validator, error) {
	bcCfg := bigcache.DefaultConfig(cfg.DuplicateCacheTTL)
	bcCfg.Shards = 16
	bcCfg.MaxEntriesInWindow = cfg.DuplicateCacheSize
	bcCfg.MaxEntrySize = 64
	bcCfg.HardMaxCacheSize = 64 // MB ceiling; duplicate keys are tiny

	cache, err := bigcache.NewBigCache(bcCfg)
	if err != nil {
		return nil, fmt.Errorf("validator: duplicate cache: %w", err)
	}

	return &Validator{
		cfg:        cfg,
		dupCache:   cache,
		activeJobs: make(map[string]bool),
		log:        log.Root().With("component", "validator"),
	}, nil
}

// SetNonceOracle attaches the nonce-range authority used for
// InvalidNonce checks.
func (v *Validator) SetNonceOracle(oracle NonceOracle) {
	v.nonces = oracle
}

// RegisterJob marks jobID as eligible to receive shares.
func (v *Validator) RegisterJob(jobID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.activeJobs[jobID] = true
}

// UnregisterJob marks jobID as no longer eligible.
func (v *Validator) UnregisterJob(jobID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.activeJobs, jobID)
}

func (v *Validator) isJobActive(jobID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.activeJobs[jobID]
}

// ValidateResult runs every check in order, short-circuiting on the first
// failure, and returns the classification.
func (v *Validator) ValidateResult(result types.MiningResult, header types.BlockHeader, target common.Hash256, jobID string, gpuIndex int) Result {
	v.statsMu.Lock()
	v.stats.TotalSharesValidated++
	v.statsMu.Unlock()

	if !v.isJobActive(jobID) {
		v.log.Warn("share for unknown job", "job", jobID)
		v.bumpStat(func(s *Stats) { s.InvalidShares++ })
		return UnknownJob
	}

	if v.cfg.ValidateNonceRange && v.nonces != nil {
		if !v.nonces.IsNonceAllocated(jobID, result.Nonce) {
			v.log.Warn("nonce out of assigned range", "nonce", result.Nonce, "job", jobID)
			v.bumpStat(func(s *Stats) { s.OutOfRangeNonces++ })
			return InvalidNonce
		}
	}

	if v.cfg.DetectDuplicates && v.isDuplicate(jobID, result) {
		v.log.Debug("duplicate share detected", "nonce", result.Nonce)
		v.bumpStat(func(s *Stats) { s.DuplicateShares++ })
		return Duplicate
	}

	if !result.Hash.MeetsTarget(target) {
		v.log.Debug("share below target", "hash", result.Hash.Hex(), "target", target.Hex())
		v.bumpStat(func(s *Stats) { s.BelowTargetShares++ })
		return BelowTarget
	}

	if v.cfg.FastVerify && !verifyHashFast(result) {
		v.log.Warn("share failed fast verification")
		v.bumpStat(func(s *Stats) { s.InvalidShares++ })
		return InvalidHash
	}

	v.addToHistory(jobID, result)
	v.bumpStat(func(s *Stats) { s.ValidShares++ })
	return Valid
}

func (v *Validator) bumpStat(f func(*Stats)) {
	v.statsMu.Lock()
	defer v.statsMu.Unlock()
	f(&v.stats)
}

// CreateValidatedShare packages a passed MiningResult into a
// submission-ready share with an approximate difficulty.
func (v *Validator) CreateValidatedShare(result types.MiningResult, jobID string, gpuIndex int, workerName, extraNonce2, ntime string) ValidatedShare {
	return ValidatedShare{
		Share: types.Share{
			WorkerName:  workerName,
			JobID:       jobID,
			ExtraNonce2: extraNonce2,
			NTime:       ntime,
			Nonce:       fmt.Sprintf("%016x", result.Nonce),
		},
		Result:     result,
		JobID:      jobID,
		GPUIndex:   gpuIndex,
		FoundAt:    time.Now(),
		Difficulty: calculateDifficulty(result.Hash),
	}
}

func dupKey(jobID string, nonce uint64) string {
	return fmt.Sprintf("%s:%016x", jobID, nonce)
}

func (v *Validator) isDuplicate(jobID string, result types.MiningResult) bool {
	_, err := v.dupCache.Get(dupKey(jobID, result.Nonce))
	return err == nil
}

func (v *Validator) addToHistory(jobID string, result types.MiningResult) {
	if err := v.dupCache.Set(dupKey(jobID, result.Nonce), result.Hash.Bytes()); err != nil {
		v.log.Debug("duplicate cache set failed", "err", err)
	}
}

func verifyHashFast(result types.MiningResult) bool {
	if result.Nonce == 0 || result.Nonce == ^uint64(0) {
		return false
	}
	return !result.Hash.IsZero() && !isAllOnes(result.Hash)
}

func isAllOnes(h common.Hash256) bool {
	for _, b := range h {
		if b != 0xff {
			return false
		}
	}
	return true
}

func calculateDifficulty(hash common.Hash256) float64 {
	bits := hash.LeadingZeroBits()
	return pow2(bits)
}

func pow2(n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}

// Stats returns a snapshot of validation statistics.
func (v *Validator) Stats() Stats {
	v.statsMu.Lock()
	defer v.statsMu.Unlock()
	return v.stats
}

// ClearHistory purges the duplicate-detection cache.
func (v *Validator) ClearHistory() {
	_ = v.dupCache.Reset()
	v.log.Info("cleared share validation history")
}

// CacheLen reports the number of entries currently tracked for duplicate
// detection.
func (v *Validator) CacheLen() int {
	return v.dupCache.Len()
}

// Close releases the duplicate-detection cache's background resources.
func (v *Validator) Close() error {
	return v.dupCache.Close()
}
