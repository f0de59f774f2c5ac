package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
)

// HashBytes returns the hex sha256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Round6 rounds a monetary amount to six decimal places.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
