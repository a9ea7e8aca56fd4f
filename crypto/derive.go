package crypto

import (
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

var deriveDomain = []byte("nftescrow/derive")

// DeriveAddress maps a seed and an owning identity (plus optional extra seeds)
// onto a 20-byte address. The result is a Keccak256 digest truncated to the
// trailing 20 bytes, so no private key is known for it and only the program
// that owns the derivation can act on its behalf.
func DeriveAddress(seed string, owner []byte, extra ...[]byte) [20]byte {
	parts := make([][]byte, 0, 3+len(extra))
	parts = append(parts, deriveDomain, []byte(strings.ToLower(strings.TrimSpace(seed))), owner)
	parts = append(parts, extra...)
	digest := crypto.Keccak256(lengthPrefixed(parts)...)
	var out [20]byte
	copy(out[:], digest[12:])
	return out
}

// lengthPrefixed prevents ("ab","c") and ("a","bc") from hashing identically.
func lengthPrefixed(parts [][]byte) [][]byte {
	out := make([][]byte, 0, len(parts)*2)
	for _, p := range parts {
		n := len(p)
		out = append(out, []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}, p)
	}
	return out
}
