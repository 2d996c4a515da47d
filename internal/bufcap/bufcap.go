// Package bufcap derives outbound channel capacity from buffer-size config,
// per spec §6:
//
//	capacity = clamp(round(log2(max(1, M/m)) * 256), 64, 16384)
package bufcap

import "math"

const (
	minCapacity = 64
	maxCapacity = 16384
)

// Capacity computes the bounded-queue depth for a writer whose WebSocket
// config reports maxWriteBufferSize and writeBufferSize (in bytes).
func Capacity(maxWriteBufferSize, writeBufferSize int64) int {
	if writeBufferSize <= 0 {
		writeBufferSize = 1
	}

	ratio := float64(maxWriteBufferSize) / float64(writeBufferSize)
	if ratio < 1 {
		ratio = 1
	}

	v := int(math.Round(math.Log2(ratio) * 256))
	if v < minCapacity {
		return minCapacity
	}
	if v > maxCapacity {
		return maxCapacity
	}
	return v
}
