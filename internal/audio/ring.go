package audio

import (
	"sync/atomic"
)

// Ring is a lock-free single-producer single-consumer ring buffer for raw
// audio samples. The producer side is wait-free: when the buffer is full,
// new samples are dropped rather than blocking the caller. This is the
// contract the capture callback depends on: it runs on a time-critical
// thread owned by the audio backend and must never wait on the consumer.
type Ring struct {
	buf     []float32
	mask    uint64
	align   int
	head    atomic.Uint64 // write position (producer increments)
	tail    atomic.Uint64 // read position (consumer increments)
	dropped atomic.Uint64 // samples dropped due to overflow
	closed  atomic.Bool
}

// NewRing creates a ring holding at least capacity samples. The actual
// capacity is rounded up to a power of two. Writes are truncated to a
// multiple of align so that interleaved frames are never split by an
// overflow drop; pass 1 for mono, 2 for interleaved stereo.
func NewRing(capacity, align int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	if align < 1 {
		align = 1
	}
	return &Ring{
		buf:   make([]float32, size),
		mask:  uint64(size - 1),
		align: align,
	}
}

// TryWrite copies as many samples as fit into the ring and returns the number
// written, truncated to whole frames. Samples that do not fit are dropped and
// counted. Wait-free; safe to call from a real-time callback.
func (r *Ring) TryWrite(samples []float32) int {
	head := r.head.Load()
	tail := r.tail.Load()

	free := len(r.buf) - int(head-tail)
	n := len(samples)
	if n > free {
		n = free
	}
	n -= n % r.align

	for i := 0; i < n; i++ {
		r.buf[(head+uint64(i))&r.mask] = samples[i]
	}
	r.head.Store(head + uint64(n))

	if n < len(samples) {
		r.dropped.Add(uint64(len(samples) - n))
	}
	return n
}

// Read copies up to len(dst) samples out of the ring and returns the number
// copied. Returns 0 when the ring is empty.
func (r *Ring) Read(dst []float32) int {
	head := r.head.Load()
	tail := r.tail.Load()

	avail := int(head - tail)
	if avail == 0 {
		return 0
	}
	n := len(dst)
	if n > avail {
		n = avail
	}

	for i := 0; i < n; i++ {
		dst[i] = r.buf[(tail+uint64(i))&r.mask]
	}
	r.tail.Store(tail + uint64(n))
	return n
}

// Len returns the number of samples currently buffered.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Dropped returns the total number of samples dropped due to overflow.
func (r *Ring) Dropped() uint64 {
	return r.dropped.Load()
}

// Close marks the producer side as finished. The consumer drains whatever
// remains and then observes Closed.
func (r *Ring) Close() {
	r.closed.Store(true)
}

// Closed reports whether the producer has finished writing.
func (r *Ring) Closed() bool {
	return r.closed.Load()
}
