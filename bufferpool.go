package http2

import "sync"

// bufferpool.go implements the size-bucketed buffer pools spec.md §2/§5
// call for as a power-of-two sync.Pool ladder of raw byte buffers.
// Request body accumulation (request.go's ReadAllBody) uses
// github.com/valyala/bytebufferpool instead, and frame payloads are kept
// in FrameHeader's own pooled slice; nothing in this package currently
// calls AcquireBuffer or ReleaseBuffer.

const (
	minBufferShift = 9  // 512 bytes
	maxBufferShift = 20 // 1 MiB
)

var bufferPools [maxBufferShift - minBufferShift + 1]*sync.Pool

func init() {
	for i := range bufferPools {
		shift := minBufferShift + i
		size := 1 << uint(shift)
		bufferPools[i] = &sync.Pool{
			New: func() interface{} {
				b := make([]byte, size)
				return &b
			},
		}
	}
}

func bucketFor(n int) int {
	shift := minBufferShift
	size := 1 << uint(shift)
	for size < n && shift < maxBufferShift {
		shift++
		size <<= 1
	}
	return shift - minBufferShift
}

// AcquireBuffer returns a []byte of length n drawn from the nearest
// power-of-two bucket at or above n (or a freshly allocated slice if n
// exceeds the largest bucket).
func AcquireBuffer(n int) []byte {
	if n > 1<<maxBufferShift {
		return make([]byte, n)
	}

	idx := bucketFor(n)
	bp := bufferPools[idx].Get().(*[]byte)
	b := *bp
	if cap(b) < n {
		b = make([]byte, 1<<uint(minBufferShift+idx))
	}
	return b[:n]
}

// ReleaseBuffer returns b to its bucket. zero, when true, clears b
// before pooling it. GOAWAY debug payloads do not pass through here:
// they live in pooled GoAway and FrameHeader values that are not cleared
// on release.
func ReleaseBuffer(b []byte, zero bool) {
	n := cap(b)
	if n < 1<<minBufferShift || n > 1<<maxBufferShift {
		return
	}

	full := b[:cap(b)]
	if zero {
		for i := range full {
			full[i] = 0
		}
	}

	idx := bucketFor(n)
	bufferPools[idx].Put(&full)
}
