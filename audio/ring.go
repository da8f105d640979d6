// SPDX-License-Identifier: MPL-2.0

package audio

import "sync/atomic"

// Ring is a lock-free single-producer/single-consumer ring buffer of
// float32 samples. One goroutine calls Write (the OS device callback or
// the playback decode loop), a different goroutine calls Read (the
// ptime-interval capture task or the OS device callback) — never both
// from more than one goroutine at a time. Capacity is rounded up to the
// next power of two so index wrapping is a mask instead of a modulo.
//
// Ported from the capture/playback ring buffers spec.md §4.6 describes;
// modelled as a SPSC ring rather than a mutex-guarded queue because the
// audio bridge's hot path (the OS callback) must never block on a lock
// shared with the RTP-side goroutine.
type Ring struct {
	buf  []float32
	mask uint64

	writeIdx atomic.Uint64
	readIdx  atomic.Uint64
}

// NewRing creates a ring sized to hold at least capacity samples.
func NewRing(capacity int) *Ring {
	size := 1
	for size < capacity {
		size *= 2
	}
	return &Ring{
		buf:  make([]float32, size),
		mask: uint64(size - 1),
	}
}

// Len returns the number of samples currently occupied.
func (r *Ring) Len() int {
	return int(r.writeIdx.Load() - r.readIdx.Load())
}

// Free returns the number of samples that can be written before Write
// starts overwriting unread data.
func (r *Ring) Free() int {
	return len(r.buf) - r.Len()
}

// Write appends samples, overwriting the oldest unread samples if the
// ring is full — a device callback must never block, so Write always
// succeeds and returns len(samples).
func (r *Ring) Write(samples []float32) int {
	w := r.writeIdx.Load()
	for i, s := range samples {
		r.buf[(w+uint64(i))&r.mask] = s
	}
	r.writeIdx.Store(w + uint64(len(samples)))

	if over := r.Len() - len(r.buf); over > 0 {
		r.readIdx.Add(uint64(over))
	}
	return len(samples)
}

// Read copies up to len(out) occupied samples into out and advances the
// read cursor, returning the number copied. It never blocks: on
// underrun it returns fewer samples than requested rather than waiting.
func (r *Ring) Read(out []float32) int {
	avail := r.Len()
	n := len(out)
	if avail < n {
		n = avail
	}
	read := r.readIdx.Load()
	for i := 0; i < n; i++ {
		out[i] = r.buf[(read+uint64(i))&r.mask]
	}
	r.readIdx.Store(read + uint64(n))
	return n
}

// Reset drops all buffered samples.
func (r *Ring) Reset() {
	r.readIdx.Store(r.writeIdx.Load())
}
