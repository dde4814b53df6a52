package audio

import (
	"sync"
)

// RingBuffer is a thread-safe ring of PCM samples. Writes never block and
// overwrite the oldest samples, so a slow reader can only ever miss audio,
// never stall the capture loop.
type RingBuffer struct {
	buffer []int16
	size   int
	write  int
	filled int
	mu     sync.RWMutex
}

// NewRingBuffer creates a new ring buffer holding up to size samples
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{
		buffer: make([]int16, size),
		size:   size,
	}
}

// Write appends samples, overwriting the oldest ones once full.
func (rb *RingBuffer) Write(samples []int16) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(samples) > rb.size {
		samples = samples[len(samples)-rb.size:]
	}
	for _, s := range samples {
		rb.buffer[rb.write] = s
		rb.write = (rb.write + 1) % rb.size
	}
	rb.filled += len(samples)
	if rb.filled > rb.size {
		rb.filled = rb.size
	}
}

// Latest copies the most recent len(dst) samples (or fewer, if not yet
// written) into dst in chronological order and returns the count.
func (rb *RingBuffer) Latest(dst []int16) int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n := len(dst)
	if n > rb.filled {
		n = rb.filled
	}
	start := (rb.write - n + rb.size) % rb.size
	for i := 0; i < n; i++ {
		dst[i] = rb.buffer[(start+i)%rb.size]
	}
	return n
}

// Available returns the number of samples held
func (rb *RingBuffer) Available() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.filled
}

// Clear clears the buffer
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.write = 0
	rb.filled = 0
}
