package inboundcfg

import (
	"math"
	"time"
)

const bytesPerGiB = 1073741824

// GiBToBytes floors a GiB volume to bytes. Zero stays zero, which the panels
// read as unlimited.
func GiBToBytes(gib float64) int64 {
	if gib <= 0 {
		return 0
	}
	return int64(math.Floor(gib * bytesPerGiB))
}

func BytesToGiB(b int64) float64 {
	return float64(b) / bytesPerGiB
}

// ExpiryAfter returns now plus days in epoch milliseconds, or 0 (never) when
// days is zero.
func ExpiryAfter(now time.Time, days int) int64 {
	if days <= 0 {
		return 0
	}
	return now.Add(time.Duration(days) * 24 * time.Hour).UnixMilli()
}
