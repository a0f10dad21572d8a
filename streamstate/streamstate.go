// Package streamstate implements the per-utterance runtime: the current
// audio buffer handle, a bounded FIFO of further audio chunks, the latest
// partial transcription result, and rolling counters. It is the Go rewrite
// of the original OptimizedStreamingState.
package streamstate

import (
	"sync"
	"sync/atomic"
	"time"

	"speechbridge/pipelineerr"
	"speechbridge/pool"
)

// Config mirrors the original OptimizationConfig.
type Config struct {
	MaxConcurrentUtterances int
	AudioBufferPoolSize     int
	AudioBufferPoolMax      int
	ResultPoolSize          int
	ResultPoolMax           int
	MaxIdle                 time.Duration
	MaxChunkQueue           int
}

// DefaultConfig returns sane defaults mirroring the original's.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentUtterances: 50,
		AudioBufferPoolSize:     20,
		AudioBufferPoolMax:      200,
		ResultPoolSize:          50,
		ResultPoolMax:           500,
		MaxIdle:                 30 * time.Second,
		MaxChunkQueue:           64,
	}
}

// PartialResult is the latest transcription snapshot stored for an
// utterance.
type PartialResult struct {
	Text       string
	Confidence float64
	IsPartial  bool
}

// utteranceState is the runtime record for one utterance. Counters are
// atomics so readers never block a writer mid-chunk; the chunk queue gets
// its own short mutex ("lock-free counters plus a single short
// mutex for the chunk queue".
type utteranceState struct {
	utteranceID uint32
	active      int32 // atomic bool

	createdAt      time.Time
	lastActivityNs int64 // atomic unix-nano

	chunkMu      sync.Mutex
	currentChunk *pool.Handle[*pool.AudioBuffer]
	queuedChunks []*pool.Handle[*pool.AudioBuffer]

	resultMu sync.Mutex
	latest   *pool.Handle[*pool.TranscriptionResult]

	chunksProcessed  int64
	totalSamples     int64
	confidenceSum    int64 // fixed-point accumulation, see addRollingAverage
	confidenceCount  int64
	latencySumNs     int64
	latencyCount     int64
}

func (u *utteranceState) touch() {
	atomic.StoreInt64(&u.lastActivityNs, time.Now().UnixNano())
}

func (u *utteranceState) lastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&u.lastActivityNs))
}

// Manager owns the per-utterance streaming runtime for every in-flight
// utterance. The top-level map uses a reader-writer lock; the
// acquire/modify/release cycle for pooled buffers never holds it.
type Manager struct {
	cfg Config

	audioPool  *pool.AudioBufferPool
	resultPool *pool.ResultPool

	mu         sync.RWMutex
	utterances map[uint32]*utteranceState
}

// New builds a streaming state manager with its own audio/result pools.
func New(cfg Config) *Manager {
	return &Manager{
		cfg:        cfg,
		audioPool:  pool.NewAudioBufferPool(cfg.AudioBufferPoolSize, cfg.AudioBufferPoolMax),
		resultPool: pool.NewResultPool(cfg.ResultPoolSize, cfg.ResultPoolMax),
		utterances: make(map[uint32]*utteranceState),
	}
}

// Create registers a new utterance's runtime state. If the manager is at
// capacity it first tries to evict the oldest inactive idle utterance;
// failing that, it returns KindPoolExhausted.
func (m *Manager) Create(utteranceID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.utterances[utteranceID]; exists {
		return pipelineerr.New(pipelineerr.KindInvalidInput, "streamstate", "utterance already exists")
	}

	if len(m.utterances) >= m.cfg.MaxConcurrentUtterances {
		if !m.evictOldestInactiveLocked() {
			return pipelineerr.ErrPoolExhausted
		}
	}

	now := time.Now()
	m.utterances[utteranceID] = &utteranceState{
		utteranceID:    utteranceID,
		active:         1,
		createdAt:      now,
		lastActivityNs: now.UnixNano(),
	}
	return nil
}

func (m *Manager) evictOldestInactiveLocked() bool {
	var oldestID uint32
	var oldestTime time.Time
	found := false
	for id, u := range m.utterances {
		if atomic.LoadInt32(&u.active) == 1 {
			continue
		}
		if !found || u.lastActivity().Before(oldestTime) {
			oldestID, oldestTime = id, u.lastActivity()
			found = true
		}
	}
	if !found {
		return false
	}
	m.releaseLocked(m.utterances[oldestID])
	delete(m.utterances, oldestID)
	return true
}

func (m *Manager) get(utteranceID uint32) (*utteranceState, error) {
	m.mu.RLock()
	u, ok := m.utterances[utteranceID]
	m.mu.RUnlock()
	if !ok {
		return nil, pipelineerr.New(pipelineerr.KindInvalidInput, "streamstate", "unknown utterance")
	}
	return u, nil
}

// AddAudioChunk acquires a buffer from the audio pool, copies samples into
// it, and appends it to the utterance's chunk queue. The pool
// acquire/copy/append cycle never holds the top-level map lock.
func (m *Manager) AddAudioChunk(utteranceID uint32, samples []float32) error {
	u, err := m.get(utteranceID)
	if err != nil {
		return err
	}
	if atomic.LoadInt32(&u.active) == 0 {
		return pipelineerr.New(pipelineerr.KindInvalidInput, "streamstate", "utterance finalized, no further chunks accepted")
	}

	h, err := m.audioPool.Acquire(len(samples))
	if err != nil {
		return err
	}
	h.Value.Samples = append(h.Value.Samples[:0], samples...)

	u.chunkMu.Lock()
	if len(u.queuedChunks) >= m.cfg.MaxChunkQueue {
		u.chunkMu.Unlock()
		h.Release()
		return pipelineerr.New(pipelineerr.KindPoolExhausted, "streamstate", "chunk queue full")
	}
	u.queuedChunks = append(u.queuedChunks, h)
	u.chunkMu.Unlock()

	atomic.AddInt64(&u.totalSamples, int64(len(samples)))
	u.touch()
	return nil
}

// NextAudioBuffer consumes and returns the head buffer handle, or nil if
// the queue is empty. The caller owns the handle and must Release it.
func (m *Manager) NextAudioBuffer(utteranceID uint32) (*pool.Handle[*pool.AudioBuffer], error) {
	u, err := m.get(utteranceID)
	if err != nil {
		return nil, err
	}

	u.chunkMu.Lock()
	defer u.chunkMu.Unlock()
	if len(u.queuedChunks) == 0 {
		return nil, nil
	}
	h := u.queuedChunks[0]
	u.queuedChunks = u.queuedChunks[1:]
	atomic.AddInt64(&u.chunksProcessed, 1)
	return h, nil
}

// SetTranscription releases the utterance's previous result record back to
// the pool, then acquires a pooled record, fills it, and stores it as the
// utterance's latest transcription, so an overwrite never needs a second
// record. It also updates the rolling confidence average.
func (m *Manager) SetTranscription(utteranceID uint32, text string, confidence float64, isPartial bool) error {
	u, err := m.get(utteranceID)
	if err != nil {
		return err
	}

	u.resultMu.Lock()
	old := u.latest
	u.latest = nil
	u.resultMu.Unlock()
	if old != nil {
		old.Release()
	}

	h, err := m.resultPool.Acquire()
	if err != nil {
		return err
	}
	h.Value.Text = text
	h.Value.Confidence = confidence
	h.Value.IsPartial = isPartial

	u.resultMu.Lock()
	prev := u.latest
	u.latest = h
	u.resultMu.Unlock()
	if prev != nil {
		prev.Release()
	}

	addRollingAverage(&u.confidenceSum, &u.confidenceCount, confidence)
	u.touch()
	return nil
}

// LatestTranscription returns a copy of the most recent transcription
// record stored for an utterance; the backing pooled record stays owned by
// the Manager.
func (m *Manager) LatestTranscription(utteranceID uint32) (PartialResult, error) {
	u, err := m.get(utteranceID)
	if err != nil {
		return PartialResult{}, err
	}
	u.resultMu.Lock()
	defer u.resultMu.Unlock()
	if u.latest == nil {
		return PartialResult{}, nil
	}
	return PartialResult{
		Text:       u.latest.Value.Text,
		Confidence: u.latest.Value.Confidence,
		IsPartial:  u.latest.Value.IsPartial,
	}, nil
}

// RecordLatency folds a stage latency sample into the utterance's rolling
// average latency counter.
func (m *Manager) RecordLatency(utteranceID uint32, d time.Duration) error {
	u, err := m.get(utteranceID)
	if err != nil {
		return err
	}
	addRollingAverage(&u.latencySumNs, &u.latencyCount, float64(d.Nanoseconds()))
	return nil
}

// Finalize marks an utterance inactive; no further chunks are accepted,
// though queued chunks and the latest result remain readable until Remove.
func (m *Manager) Finalize(utteranceID uint32) error {
	u, err := m.get(utteranceID)
	if err != nil {
		return err
	}
	atomic.StoreInt32(&u.active, 0)
	return nil
}

// Remove releases all pooled resources for an utterance and drops its
// runtime state.
func (m *Manager) Remove(utteranceID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.utterances[utteranceID]
	if !ok {
		return
	}
	m.releaseLocked(u)
	delete(m.utterances, utteranceID)
}

func (m *Manager) releaseLocked(u *utteranceState) {
	u.chunkMu.Lock()
	if u.currentChunk != nil {
		u.currentChunk.Release()
		u.currentChunk = nil
	}
	for _, h := range u.queuedChunks {
		h.Release()
	}
	u.queuedChunks = nil
	u.chunkMu.Unlock()

	u.resultMu.Lock()
	if u.latest != nil {
		u.latest.Release()
		u.latest = nil
	}
	u.resultMu.Unlock()
}

// Cleanup removes inactive utterances idle longer than cfg.MaxIdle. It is
// meant to run on a periodic timer.
func (m *Manager) Cleanup() int {
	now := time.Now()

	m.mu.Lock()
	var toRemove []uint32
	for id, u := range m.utterances {
		if atomic.LoadInt32(&u.active) == 0 && now.Sub(u.lastActivity()) > m.cfg.MaxIdle {
			toRemove = append(toRemove, id)
		}
	}
	for _, id := range toRemove {
		m.releaseLocked(m.utterances[id])
		delete(m.utterances, id)
	}
	m.mu.Unlock()

	return len(toRemove)
}

// Count returns the number of tracked utterances.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.utterances)
}

// Stats is a point-in-time counter snapshot for one utterance.
type Stats struct {
	ChunksProcessed   int64
	TotalSamples      int64
	AverageConfidence float64
	AverageLatency    time.Duration
}

// Statistics returns the rolling counters for an utterance.
func (m *Manager) Statistics(utteranceID uint32) (Stats, error) {
	u, err := m.get(utteranceID)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		ChunksProcessed:   atomic.LoadInt64(&u.chunksProcessed),
		TotalSamples:      atomic.LoadInt64(&u.totalSamples),
		AverageConfidence: rollingAverage(&u.confidenceSum, &u.confidenceCount),
		AverageLatency:    time.Duration(rollingAverage(&u.latencySumNs, &u.latencyCount)),
	}, nil
}

// addRollingAverage folds a new sample into a sum/count pair of atomics
// without holding a mutex; readers compute the average from the same pair.
func addRollingAverage(sum, count *int64, sample float64) {
	atomic.AddInt64(sum, int64(sample*1e6))
	atomic.AddInt64(count, 1)
}

func rollingAverage(sum, count *int64) float64 {
	c := atomic.LoadInt64(count)
	if c == 0 {
		return 0
	}
	return float64(atomic.LoadInt64(sum)) / 1e6 / float64(c)
}
