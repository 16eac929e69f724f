package kawpow

// FNVPrime and FNVOffsetBasis are the 32-bit FNV-1a constants.
const (
	FNVPrime       uint32 = 0x01000193
	FNVOffsetBasis uint32 = 0x811c9dc5
)

// FNV1a mixes d into hash h using the 32-bit FNV-1a step.
func FNV1a(h, d uint32) uint32 {
	return (h ^ d) * FNVPrime
}

// FNV1aBytes hashes a byte slice with FNV-1a.
func FNV1aBytes(data []byte) uint32 {
	h := FNVOffsetBasis
	for _, b := range data {
		h = FNV1a(h, uint32(b))
	}
	return h
}

// FNV1aWords folds a slice of words into a single FNV-1a hash.
func FNV1aWords(words []uint32) uint32 {
	h := FNVOffsetBasis
	for _, w := range words {
		h = FNV1a(h, w)
	}
	return h
}
