// Package types holds the block/job/work data model shared across the
// mining engine's packages: BlockHeader, MiningJob, QueuedJob, WorkUnit,
// WorkResult, MiningResult, Share and GpuLoad, per spec.md §3.
package types

import (
	"encoding/binary"

	"github.com/coreminer/kawpowd/common"
)

// BlockHeader is the KawPow block header: previous hash, merkle root,
// timestamp, compact difficulty bits, nonce and height. Its byte
// serialization is the little-endian concatenation of each field in this
// order (88 bytes).
type BlockHeader struct {
	PrevHash   common.Hash256
	MerkleRoot common.Hash256
	Timestamp  uint32
	Bits       uint32
	Nonce      uint64
	Height     uint64
}

// HeaderBytes is the serialized length of a BlockHeader.
const HeaderBytes = 32 + 32 + 4 + 4 + 8 + 8

// Bytes serializes the header as little-endian fields concatenated in
// declaration order.
func (h BlockHeader) Bytes() []byte {
	b := make([]byte, HeaderBytes)
	off := 0
	copy(b[off:], reverse(h.PrevHash[:]))
	off += 32
	copy(b[off:], reverse(h.MerkleRoot[:]))
	off += 32
	binary.LittleEndian.PutUint32(b[off:], h.Timestamp)
	off += 4
	binary.LittleEndian.PutUint32(b[off:], h.Bits)
	off += 4
	binary.LittleEndian.PutUint64(b[off:], h.Nonce)
	off += 8
	binary.LittleEndian.PutUint64(b[off:], h.Height)
	return b
}

// BytesExcludingNonce returns the header serialization with the nonce
// field omitted — used to build the encoded state the hash kernel mixes
// the candidate nonce into, so every candidate need not re-serialize the
// whole header.
func (h BlockHeader) BytesExcludingNonce() []byte {
	full := h.Bytes()
	out := make([]byte, 0, HeaderBytes-8)
	out = append(out, full[:72]...)
	out = append(out, full[80:]...)
	return out
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// TargetFromBits expands Bitcoin/Ravencoin-style compact difficulty bits
// into a 256-bit target (the value a candidate hash must be <= to be a
// valid share/block).
func TargetFromBits(bits uint32) common.Hash256 {
	exponent := bits >> 24
	mantissa := bits & 0x007fffff
	var target common.Hash256
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		binary.BigEndian.PutUint32(target[common.HashLength-4:], mantissa)
		return target
	}
	shift := int(exponent) - 3
	if shift > common.HashLength-4 {
		// Degenerate bits value; return the maximum target rather than
		// panic on a malformed pool message.
		for i := range target {
			target[i] = 0xff
		}
		return target
	}
	off := common.HashLength - 4 - shift
	binary.BigEndian.PutUint32(target[off:off+4], mantissa)
	return target
}
