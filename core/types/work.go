package types

import (
	"time"

	"github.com/coreminer/kawpowd/common"
)

// WorkUnit is one scheduled piece of work: a job, a GPU, and the nonce
// range that GPU should search.
type WorkUnit struct {
	ID                 uint64
	JobID              string
	Header             BlockHeader
	Target             common.Hash256
	NonceStart         uint64
	NonceCount         uint64
	GPUIndex           int
	CreatedAt          time.Time
	EstimatedDuration  time.Duration
	Clean              bool
}

// MiningResult is the (nonce, hash, mix_hash) triple emitted when a
// candidate hash meets the work unit's target.
type MiningResult struct {
	Nonce   uint64
	Hash    common.Hash256
	MixHash common.Hash256
}

// WorkResult is what a GPU worker reports back after executing a
// WorkUnit, whether or not it found a solution.
type WorkResult struct {
	WorkID           uint64
	GPUIndex         int
	Solution         *MiningResult
	HashesComputed   uint64
	Duration         time.Duration
	EffectiveHashrate float64
}
