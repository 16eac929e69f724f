package stratum

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/coreminer/kawpowd/common"
	"github.com/coreminer/kawpowd/core/types"
)

// merkleRoot assembles the coinbase transaction from its two halves plus
// the session's extranonce, then folds in each branch hash with the
// standard Stratum double-sha256 merkle step.
func merkleRoot(job *types.MiningJob, extraNonce1, extraNonce2 string) (common.Hash256, error) {
	coinbaseHex := job.Coinbase1 + extraNonce1 + extraNonce2 + job.Coinbase2
	coinbase, err := hex.DecodeString(coinbaseHex)
	if err != nil {
		return common.Hash256{}, fmt.Errorf("stratum: invalid coinbase hex: %w", err)
	}

	root := chainhash.DoubleHashB(coinbase)
	for _, branchHex := range job.MerkleBranches {
		branch, err := hex.DecodeString(branchHex)
		if err != nil {
			return common.Hash256{}, fmt.Errorf("stratum: invalid merkle branch hex: %w", err)
		}
		combined := make([]byte, 0, 64)
		combined = append(combined, root...)
		combined = append(combined, branch...)
		root = chainhash.DoubleHashB(combined)
	}

	var out common.Hash256
	copy(out[:], root)
	return out, nil
}

// BuildHeader derives a BlockHeader from a freshly parsed MiningJob, the
// session's extranonces, and the current block height (tracked by the
// caller across jobs since mining.notify carries no height field).
func BuildHeader(job *types.MiningJob, extraNonce1, extraNonce2 string, height uint64) (types.BlockHeader, error) {
	prevHash, err := common.HexToHash(job.PrevHash)
	if err != nil {
		return types.BlockHeader{}, fmt.Errorf("stratum: invalid prev_hash: %w", err)
	}

	root, err := merkleRoot(job, extraNonce1, extraNonce2)
	if err != nil {
		return types.BlockHeader{}, err
	}

	version, err := hexLEUint32(job.Version)
	if err != nil {
		return types.BlockHeader{}, fmt.Errorf("stratum: invalid version: %w", err)
	}
	bits, err := hexLEUint32(job.NBits)
	if err != nil {
		return types.BlockHeader{}, fmt.Errorf("stratum: invalid nbits: %w", err)
	}
	ntime, err := hexLEUint32(job.NTime)
	if err != nil {
		return types.BlockHeader{}, fmt.Errorf("stratum: invalid ntime: %w", err)
	}
	_ = version // KawPow headers in this wire format don't carry a distinct version field beyond nbits/ntime

	return types.BlockHeader{
		PrevHash:   prevHash,
		MerkleRoot: root,
		Timestamp:  ntime,
		Bits:       bits,
		Height:     height,
	}, nil
}

// hexLEUint32 decodes a little-endian hex-encoded uint32, the wire
// encoding Stratum uses for version/nbits/ntime fields.
func hexLEUint32(s string) (uint32, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, err
	}
	if len(b) != 4 {
		return 0, fmt.Errorf("expected 4 bytes, got %d", len(b))
	}
	return binary.LittleEndian.Uint32(b), nil
}
