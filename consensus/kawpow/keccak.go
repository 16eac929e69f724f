// Package kawpow implements the KawPow/ProgPoW proof-of-work: the
// Keccak-f800/FNV-1a/KISS99 primitives, the epoch-based DAG cache and
// dataset, and the per-block ProgPoW mixing kernel.
//
// Constants and permutation details in this file are taken from the
// original Rust mineos-hash implementation of Keccak-f800, the 32-bit-word
// variant of Keccak used by ProgPoW in place of standard Keccak-f1600.
package kawpow

import "math/bits"

// State is the 25-word x 32-bit Keccak-f800 state (800 bits total).
type State [25]uint32

const keccakRounds = 22

var roundConstants = [keccakRounds]uint32{
	0x00000001, 0x00000082, 0x0000808a, 0x00008000,
	0x0000808b, 0x80000001, 0x80008081, 0x80008009,
	0x0000008a, 0x00000088, 0x80008009, 0x80000008,
	0x80008002, 0x80008003, 0x80008002, 0x80000080,
	0x0000800a, 0x8000000a, 0x80008081, 0x80008080,
	0x80000001, 0x80008008,
}

var rhoOffsets = [25]uint32{
	0, 1, 62, 28, 27,
	36, 44, 6, 55, 20,
	3, 10, 43, 25, 39,
	41, 45, 15, 21, 8,
	18, 2, 61, 56, 14,
}

var piIndices = [25]int{
	0, 6, 12, 18, 24,
	3, 9, 10, 16, 22,
	1, 7, 13, 19, 20,
	4, 5, 11, 17, 23,
	2, 8, 14, 15, 21,
}

// KeccakF800 applies the full 22-round Keccak-f800 permutation in place.
func KeccakF800(state *State) {
	for round := 0; round < keccakRounds; round++ {
		keccakF800Round(state, round)
	}
}

func keccakF800Round(state *State, round int) {
	// Theta
	var c [5]uint32
	for x := 0; x < 5; x++ {
		c[x] = state[x] ^ state[x+5] ^ state[x+10] ^ state[x+15] ^ state[x+20]
	}
	var d [5]uint32
	for x := 0; x < 5; x++ {
		d[x] = c[(x+4)%5] ^ bits.RotateLeft32(c[(x+1)%5], 1)
	}
	for x := 0; x < 5; x++ {
		for y := 0; y < 5; y++ {
			state[y*5+x] ^= d[x]
		}
	}

	// Rho + Pi
	var b [25]uint32
	for i := 0; i < 25; i++ {
		b[piIndices[i]] = bits.RotateLeft32(state[i], int(rhoOffsets[i]))
	}

	// Chi
	for y := 0; y < 5; y++ {
		base := y * 5
		t0, t1, t2, t3, t4 := b[base], b[base+1], b[base+2], b[base+3], b[base+4]
		state[base+0] = t0 ^ (^t1 & t2)
		state[base+1] = t1 ^ (^t2 & t3)
		state[base+2] = t2 ^ (^t3 & t4)
		state[base+3] = t3 ^ (^t4 & t0)
		state[base+4] = t4 ^ (^t0 & t1)
	}

	// Iota
	state[0] ^= roundConstants[round]
}
