package internal

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// FastHash is a non-cryptographic hash for building compact, fixed-alphabet
// keys (for example rate limiter buckets keyed by IPv6 addresses).
func FastHash(text string) string {
	h := xxhash.Sum64String(text)
	return strconv.FormatUint(h, 16)
}
