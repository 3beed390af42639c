// Package util contains internal helpers (key fingerprints, padded counters).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)

// KeyHash returns the 64-bit FNV-1a fingerprint of a request path.
// Engines compare fingerprints before strings while scanning, so a miss on a
// long path rarely touches the path bytes.
func KeyHash(key string) uint64 {
	h := uint64(fnvOffset64)
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= fnvPrime64
	}
	return h
}
