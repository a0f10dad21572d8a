package pool

import "time"

// AudioBuffer is a pooled, reusable sample vector. Ownership flows
// pool -> utterance -> pool on Handle.Release.
type AudioBuffer struct {
	Samples  []float32
	Capacity int
}

// Reset clears the buffer without releasing its backing array.
func (b *AudioBuffer) Reset() {
	b.Samples = b.Samples[:0]
}

// Grow ensures the buffer can hold at least minCapacity samples without
// reallocating.
func (b *AudioBuffer) Grow(minCapacity int) {
	if minCapacity <= b.Capacity {
		return
	}
	grown := make([]float32, 0, minCapacity)
	grown = append(grown, b.Samples...)
	b.Samples = grown
	b.Capacity = minCapacity
}

const defaultAudioCapacity = 16000

// AudioBufferPool recycles AudioBuffer values.
type AudioBufferPool struct {
	pool *Pool[*AudioBuffer]
}

// NewAudioBufferPool builds a pool pre-allocating initialBuffers buffers,
// capped at maxBuffers.
func NewAudioBufferPool(initialBuffers, maxBuffers int) *AudioBufferPool {
	return &AudioBufferPool{
		pool: New(initialBuffers, maxBuffers, func() *AudioBuffer {
			return &AudioBuffer{Samples: make([]float32, 0, defaultAudioCapacity), Capacity: defaultAudioCapacity}
		}),
	}
}

// Acquire returns a handle to a reset buffer with at least minCapacity
// headroom.
func (p *AudioBufferPool) Acquire(minCapacity int) (*Handle[*AudioBuffer], error) {
	h, err := p.pool.Acquire()
	if err != nil {
		return nil, err
	}
	h.Value.Grow(minCapacity)
	return h, nil
}

// Statistics returns pool usage counters.
func (p *AudioBufferPool) Statistics() Statistics { return p.pool.Statistics() }

// Cleanup frees free-list buffers idle longer than maxIdle, down to a floor
// of one allocated buffer.
func (p *AudioBufferPool) Cleanup(maxIdle time.Duration) { p.pool.Cleanup(maxIdle) }
