// Package streammt manages incremental translation sessions: a growing
// transcript translated chunk by chunk, carrying a short context window
// across chunks so re-translation stays coherent. It follows the same
// StreamManager shape (a map of sessions guarded by a RWMutex, a
// background idle sweep) generalized from Transcribe-stream pooling to
// incremental-translation bookkeeping.
package streammt

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"speechbridge/engine"
	"speechbridge/pipelineerr"
)

// Config configures session expiry.
type Config struct {
	SessionTimeout  time.Duration
	CleanupInterval time.Duration
	ContextWindow   int // number of trailing words carried as translation context
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		SessionTimeout:  5 * time.Minute,
		CleanupInterval: 30 * time.Second,
		ContextWindow:   12,
	}
}

// PartialResult is what Push returns for each chunk.
type PartialResult struct {
	Text       string
	Confidence float64
	IsPartial  bool
}

// FinalResult is what Finalize returns.
type FinalResult struct {
	Text       string
	Confidence float64
}

type session struct {
	mu             sync.Mutex
	sourceLang     string
	targetLang     string
	accumulated    strings.Builder
	lastTranslated string
	lastActivity   time.Time
}

func (s *session) touch() {
	s.lastActivity = time.Now()
}

// Manager owns all live streaming MT sessions.
type Manager struct {
	cfg    Config
	engine engine.TranslationEngine

	mu       sync.RWMutex
	sessions map[string]*session

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a session manager and starts its idle-session sweep.
func New(ctx context.Context, eng engine.TranslationEngine, cfg Config) *Manager {
	if cfg.SessionTimeout <= 0 {
		cfg = DefaultConfig()
	}
	mCtx, cancel := context.WithCancel(ctx)
	m := &Manager{
		cfg:      cfg,
		engine:   eng,
		sessions: make(map[string]*session),
		ctx:      mCtx,
		cancel:   cancel,
	}
	go m.cleanupLoop()
	return m
}

// Start creates a new session. It returns pipelineerr.KindInvalidInput if
// the session already exists (the AlreadyExists case).
func (m *Manager) Start(sessionID, sourceLang, targetLang string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; exists {
		return pipelineerr.New(pipelineerr.KindInvalidInput, "streammt", "session already exists: "+sessionID)
	}
	if m.engine != nil && !m.engine.SupportsLanguagePair(sourceLang, targetLang) {
		return pipelineerr.New(pipelineerr.KindUnsupportedLanguagePair, "streammt", sourceLang+"->"+targetLang)
	}

	m.sessions[sessionID] = &session{
		sourceLang:   sourceLang,
		targetLang:   targetLang,
		lastActivity: time.Now(),
	}
	log.Printf("[streammt] session started: id=%s %s->%s", sessionID, sourceLang, targetLang)
	return nil
}

// Push appends chunk to the session's accumulated transcript and
// re-translates using the last N words of the previous translation as
// context. The returned result is marked partial unless isFinal is set.
func (m *Manager) Push(ctx context.Context, sessionID, chunk string, isFinal bool) (PartialResult, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return PartialResult{}, err
	}

	s.mu.Lock()
	if s.accumulated.Len() > 0 {
		s.accumulated.WriteString(" ")
	}
	s.accumulated.WriteString(chunk)
	text := s.accumulated.String()
	contextHint := lastWords(s.lastTranslated, m.cfg.ContextWindow)
	sourceLang, targetLang := s.sourceLang, s.targetLang
	s.touch()
	s.mu.Unlock()

	translateInput := text
	if contextHint != "" {
		translateInput = contextHint + " " + text
	}

	result, err := m.engine.Translate(ctx, translateInput, sourceLang, targetLang)
	if err != nil {
		return PartialResult{}, err
	}

	s.mu.Lock()
	s.lastTranslated = result.TranslatedText
	s.mu.Unlock()

	return PartialResult{
		Text:       result.TranslatedText,
		Confidence: result.Confidence,
		IsPartial:  !isFinal,
	}, nil
}

// Finalize marks streaming complete and destroys the session, returning
// its last translation as the final result.
func (m *Manager) Finalize(sessionID string) (FinalResult, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return FinalResult{}, err
	}

	s.mu.Lock()
	result := FinalResult{Text: s.lastTranslated}
	s.mu.Unlock()

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	log.Printf("[streammt] session finalized: id=%s", sessionID)
	return result, nil
}

// Cancel destroys a session without producing a final result.
func (m *Manager) Cancel(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// Has reports whether a session exists.
func (m *Manager) Has(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[sessionID]
	return ok
}

func (m *Manager) get(sessionID string) (*session, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, pipelineerr.New(pipelineerr.KindInvalidInput, "streammt", "no such session: "+sessionID)
	}
	return s, nil
}

// Shutdown stops the cleanup sweep.
func (m *Manager) Shutdown() {
	m.cancel()
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

func (m *Manager) sweepIdle() {
	now := time.Now()
	var expired []string

	m.mu.RLock()
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := now.Sub(s.lastActivity)
		s.mu.Unlock()
		if idle > m.cfg.SessionTimeout {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	m.mu.Lock()
	for _, id := range expired {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	log.Printf("[streammt] swept %d idle sessions", len(expired))
}

// lastWords returns the trailing n whitespace-separated words of s.
func lastWords(s string, n int) string {
	if s == "" || n <= 0 {
		return ""
	}
	words := strings.Fields(s)
	if len(words) <= n {
		return s
	}
	return strings.Join(words[len(words)-n:], " ")
}
