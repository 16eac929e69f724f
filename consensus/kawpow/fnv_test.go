package kawpow

import "testing"

func TestFNV1aDeterministic(t *testing.T) {
	if FNV1a(FNVOffsetBasis, 0x12345678) != FNV1a(FNVOffsetBasis, 0x12345678) {
		t.Fatal("fnv1a not deterministic")
	}
}

func TestFNV1aDistribution(t *testing.T) {
	base := uint32(0x12345678)
	h1 := FNV1a(FNVOffsetBasis, base)
	h2 := FNV1a(FNVOffsetBasis, base+1)
	diff := popcount(h1 ^ h2)
	if diff < 8 {
		t.Fatalf("weak diffusion: only %d bits differ", diff)
	}
}

func TestFNV1aBytes(t *testing.T) {
	h1 := FNV1aBytes([]byte("hello"))
	h2 := FNV1aBytes([]byte("hello"))
	h3 := FNV1aBytes([]byte("world"))
	if h1 != h2 {
		t.Fatal("fnv1a bytes not deterministic")
	}
	if h1 == h3 {
		t.Fatal("different inputs produced the same hash")
	}
}
