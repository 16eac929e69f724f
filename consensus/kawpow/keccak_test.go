package kawpow

import "testing"

func TestKeccakF800Deterministic(t *testing.T) {
	var s1, s2 State
	s1[0] = 0x12345678
	s2[0] = 0x12345678
	KeccakF800(&s1)
	KeccakF800(&s2)
	if s1 != s2 {
		t.Fatalf("keccak-f800 not deterministic: %v != %v", s1, s2)
	}
}

func TestKeccakF800Avalanche(t *testing.T) {
	var s1, s2 State
	s2[0] = 1 // single bit difference

	KeccakF800(&s1)
	KeccakF800(&s2)

	diff := 0
	for i := 0; i < 25; i++ {
		diff += popcount(s1[i] ^ s2[i])
	}
	if diff <= 400 {
		t.Fatalf("poor avalanche: only %d of 800 bits differ", diff)
	}
}

func popcount(x uint32) int {
	n := 0
	for x != 0 {
		n += int(x & 1)
		x >>= 1
	}
	return n
}
