// Package events implements the outbound notification fan-out: a registry
// of typed callbacks invoked by the pipeline and utterance manager,
// serialized per session so a single observer sees causally ordered
// events, while different sessions fan out in parallel. It is grounded on
// a single-callback registration pattern
// (SetOnStreamDead) generalized from one callback to a typed registry, and
// on its per-resource-locked dispatch discipline.
package events

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"speechbridge/engine"
)

// TranscriptionCompleteEvent is delivered by on_transcription_complete.
type TranscriptionCompleteEvent struct {
	UtteranceID uint32
	SessionID   string
	Text        string
	Confidence  float64
	IsPartial   bool
}

// LanguageDetectionCompleteEvent is delivered by on_language_detection_complete.
type LanguageDetectionCompleteEvent struct {
	SessionID string
	Detection engine.DetectionResult
}

// LanguageChangeEvent is delivered by on_language_change.
type LanguageChangeEvent struct {
	SessionID        string
	PreviousLanguage string
	DetectedLanguage string
	Confidence       float64
}

// TranslationResult is the payload of on_translation_complete, mirroring
// the pipeline's Translation result record.
type TranslationResult struct {
	TranslatedText      string
	SourceLanguage      string
	TargetLanguage      string
	Confidence          float64
	Alternatives        []string
	IsPartial           bool
	IsStreamingComplete bool
	UsedCache           bool
	LanguageChanged     bool
	PreviousLanguage    string
	DetectedLanguage    string
	LanguageConfidence  float64
	ProcessingTime      int64
	UsedGPU             bool
	ModelVersion        string
}

// TranslationCompleteEvent is delivered by on_translation_complete.
type TranslationCompleteEvent struct {
	SessionID   string
	UtteranceID uint32
	Result      TranslationResult
}

// PipelineErrorEvent is delivered by on_pipeline_error.
type PipelineErrorEvent struct {
	SessionID    string
	UtteranceID  uint32
	Stage        string
	ErrorMessage string
}

// Bus is the registry of typed callbacks plus per-session serialization.
type Bus struct {
	mu sync.RWMutex

	onTranscriptionComplete     []func(TranscriptionCompleteEvent)
	onLanguageDetectionComplete []func(LanguageDetectionCompleteEvent)
	onLanguageChange            []func(LanguageChangeEvent)
	onTranslationComplete       []func(TranslationCompleteEvent)
	onPipelineError             []func(PipelineErrorEvent)

	sessionMu        sync.Mutex
	sessionLocks     map[string]*sync.Mutex
	callbackFailures int64
}

// New builds an empty event bus.
func New() *Bus {
	return &Bus{sessionLocks: make(map[string]*sync.Mutex)}
}

// OnTranscriptionComplete registers a callback for transcription completion.
func (b *Bus) OnTranscriptionComplete(fn func(TranscriptionCompleteEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTranscriptionComplete = append(b.onTranscriptionComplete, fn)
}

// OnLanguageDetectionComplete registers a callback for detection completion.
func (b *Bus) OnLanguageDetectionComplete(fn func(LanguageDetectionCompleteEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onLanguageDetectionComplete = append(b.onLanguageDetectionComplete, fn)
}

// OnLanguageChange registers a callback for session language switches.
func (b *Bus) OnLanguageChange(fn func(LanguageChangeEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onLanguageChange = append(b.onLanguageChange, fn)
}

// OnTranslationComplete registers a callback for translation completion.
func (b *Bus) OnTranslationComplete(fn func(TranslationCompleteEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTranslationComplete = append(b.onTranslationComplete, fn)
}

// OnPipelineError registers a callback for terminal pipeline errors.
func (b *Bus) OnPipelineError(fn func(PipelineErrorEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPipelineError = append(b.onPipelineError, fn)
}

// sessionLock returns (creating if needed) the serialization lock for a
// session id, so events for the same session are never dispatched
// concurrently while different sessions proceed independently.
func (b *Bus) sessionLock(sessionID string) *sync.Mutex {
	b.sessionMu.Lock()
	defer b.sessionMu.Unlock()
	l, ok := b.sessionLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		b.sessionLocks[sessionID] = l
	}
	return l
}

// EmitTranscriptionComplete dispatches a transcription_complete event.
func (b *Bus) EmitTranscriptionComplete(e TranscriptionCompleteEvent) {
	lock := b.sessionLock(e.SessionID)
	lock.Lock()
	defer lock.Unlock()

	b.mu.RLock()
	handlers := append([]func(TranscriptionCompleteEvent){}, b.onTranscriptionComplete...)
	b.mu.RUnlock()

	for _, fn := range handlers {
		b.safeInvoke(func() { fn(e) })
	}
}

// EmitLanguageDetectionComplete dispatches a language_detection_complete event.
func (b *Bus) EmitLanguageDetectionComplete(e LanguageDetectionCompleteEvent) {
	lock := b.sessionLock(e.SessionID)
	lock.Lock()
	defer lock.Unlock()

	b.mu.RLock()
	handlers := append([]func(LanguageDetectionCompleteEvent){}, b.onLanguageDetectionComplete...)
	b.mu.RUnlock()

	for _, fn := range handlers {
		b.safeInvoke(func() { fn(e) })
	}
}

// EmitLanguageChange dispatches a language_change event.
func (b *Bus) EmitLanguageChange(e LanguageChangeEvent) {
	lock := b.sessionLock(e.SessionID)
	lock.Lock()
	defer lock.Unlock()

	b.mu.RLock()
	handlers := append([]func(LanguageChangeEvent){}, b.onLanguageChange...)
	b.mu.RUnlock()

	for _, fn := range handlers {
		b.safeInvoke(func() { fn(e) })
	}
}

// EmitTranslationComplete dispatches a translation_complete event.
func (b *Bus) EmitTranslationComplete(e TranslationCompleteEvent) {
	lock := b.sessionLock(e.SessionID)
	lock.Lock()
	defer lock.Unlock()

	b.mu.RLock()
	handlers := append([]func(TranslationCompleteEvent){}, b.onTranslationComplete...)
	b.mu.RUnlock()

	for _, fn := range handlers {
		b.safeInvoke(func() { fn(e) })
	}
}

// EmitPipelineError dispatches a pipeline_error event.
func (b *Bus) EmitPipelineError(e PipelineErrorEvent) {
	lock := b.sessionLock(e.SessionID)
	lock.Lock()
	defer lock.Unlock()

	b.mu.RLock()
	handlers := append([]func(PipelineErrorEvent){}, b.onPipelineError...)
	b.mu.RUnlock()

	for _, fn := range handlers {
		b.safeInvoke(func() { fn(e) })
	}
}

// safeInvoke runs fn, trapping panics so a misbehaving observer never
// reaches back into the pipeline.
func (b *Bus) safeInvoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&b.callbackFailures, 1)
			log.Printf("⚠️ [events] callback panicked: %v", r)
		}
	}()
	fn()
}

// CallbackFailures returns the running count of trapped callback panics.
func (b *Bus) CallbackFailures() int64 {
	return atomic.LoadInt64(&b.callbackFailures)
}

// --- wire-format encoding ---

// LanguageChangeMessage is the JSON wire shape for a language_change event.
type LanguageChangeMessage struct {
	Type             string  `json:"type"`
	SessionID        string  `json:"session_id"`
	PreviousLanguage string  `json:"previous_language"`
	DetectedLanguage string  `json:"detected_language"`
	Confidence       float64 `json:"confidence"`
	TimestampMs      int64   `json:"timestamp_ms"`
}

// EncodeLanguageChange renders a LanguageChangeEvent to its wire JSON, with
// confidence rounded to 3 decimals.
func EncodeLanguageChange(e LanguageChangeEvent, now time.Time) ([]byte, error) {
	msg := LanguageChangeMessage{
		Type:             "language_change",
		SessionID:        e.SessionID,
		PreviousLanguage: e.PreviousLanguage,
		DetectedLanguage: e.DetectedLanguage,
		Confidence:       round3(e.Confidence),
		TimestampMs:      now.UnixMilli(),
	}
	return json.Marshal(msg)
}

// LanguageDetectionResultMessage is the JSON wire shape for a
// language_detection_result event.
type LanguageDetectionResultMessage struct {
	Type             string             `json:"type"`
	SessionID        string             `json:"session_id"`
	DetectedLanguage string             `json:"detected_language"`
	Confidence       float64            `json:"confidence"`
	IsReliable       bool               `json:"is_reliable"`
	DetectionMethod  string             `json:"detection_method"`
	Candidates       []candidateMessage `json:"candidates"`
	TimestampMs      int64              `json:"timestamp_ms"`
}

type candidateMessage struct {
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// EncodeLanguageDetectionResult renders a detection event to its wire JSON.
func EncodeLanguageDetectionResult(e LanguageDetectionCompleteEvent, now time.Time) ([]byte, error) {
	candidates := make([]candidateMessage, 0, len(e.Detection.Candidates))
	for _, c := range e.Detection.Candidates {
		candidates = append(candidates, candidateMessage{Language: c.Language, Confidence: c.Score})
	}
	msg := LanguageDetectionResultMessage{
		Type:             "language_detection_result",
		SessionID:        e.SessionID,
		DetectedLanguage: e.Detection.Language,
		Confidence:       e.Detection.Confidence,
		IsReliable:       e.Detection.IsReliable,
		DetectionMethod:  e.Detection.Method,
		Candidates:       candidates,
		TimestampMs:      now.UnixMilli(),
	}
	return json.Marshal(msg)
}

// TranslationCompleteMessage is the JSON wire shape for translation_complete.
type TranslationCompleteMessage struct {
	Type               string   `json:"type"`
	UtteranceID        uint32   `json:"utterance_id"`
	SessionID          string   `json:"session_id"`
	TranslatedText     string   `json:"translated_text"`
	Confidence         float64  `json:"confidence"`
	SourceLanguage     string   `json:"source_language"`
	TargetLanguage     string   `json:"target_language"`
	LanguageChanged    bool     `json:"language_changed"`
	PreviousLanguage   string   `json:"previous_language,omitempty"`
	DetectedLanguage   string   `json:"detected_language,omitempty"`
	LanguageConfidence *float64 `json:"language_confidence,omitempty"`
}

// EncodeTranslationComplete renders a translation event to its wire JSON.
func EncodeTranslationComplete(e TranslationCompleteEvent) ([]byte, error) {
	msg := TranslationCompleteMessage{
		Type:             "translation_complete",
		UtteranceID:      e.UtteranceID,
		SessionID:        e.SessionID,
		TranslatedText:   e.Result.TranslatedText,
		Confidence:       e.Result.Confidence,
		SourceLanguage:   e.Result.SourceLanguage,
		TargetLanguage:   e.Result.TargetLanguage,
		LanguageChanged:  e.Result.LanguageChanged,
		PreviousLanguage: e.Result.PreviousLanguage,
		DetectedLanguage: e.Result.DetectedLanguage,
	}
	if e.Result.LanguageChanged {
		lc := e.Result.LanguageConfidence
		msg.LanguageConfidence = &lc
	}
	return json.Marshal(msg)
}

// PipelineErrorMessage is the JSON wire shape for pipeline_error.
type PipelineErrorMessage struct {
	Type         string `json:"type"`
	UtteranceID  uint32 `json:"utterance_id"`
	SessionID    string `json:"session_id"`
	Stage        string `json:"stage"`
	ErrorMessage string `json:"error_message"`
	TimestampMs  int64  `json:"timestamp_ms"`
}

// EncodePipelineError renders a pipeline_error event to its wire JSON.
func EncodePipelineError(e PipelineErrorEvent, now time.Time) ([]byte, error) {
	msg := PipelineErrorMessage{
		Type:         "pipeline_error",
		UtteranceID:  e.UtteranceID,
		SessionID:    e.SessionID,
		Stage:        e.Stage,
		ErrorMessage: e.ErrorMessage,
		TimestampMs:  now.UnixMilli(),
	}
	return json.Marshal(msg)
}

func round3(f float64) float64 {
	return float64(int64(f*1000+0.5)) / 1000
}
