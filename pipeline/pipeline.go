// Package pipeline implements the external-push path: STT results arrive
// from an upstream producer that already did transcription, and this
// component is the hard heart of the system - confidence gating, language
// detection, cache lookup, scheduled MT dispatch, and notification. It
// follows a stage-sequencing orchestration (cache-then-call pattern,
// timeout-bounded MT call) generalized into the explicit algorithm below.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"speechbridge/cache"
	"speechbridge/engine"
	"speechbridge/events"
	"speechbridge/langdetect"
	"speechbridge/pipelineerr"
	"speechbridge/scheduler"
	"speechbridge/streammt"
)

// Config enumerates the pipeline's policy knobs.
type Config struct {
	EnableLanguageDetection            bool
	EnableAutomaticLanguageSwitching   bool
	LanguageDetectionConfidenceThreshold float64
	EnableLanguageDetectionCaching     bool
	NotifyLanguageChanges              bool
	MinTranscriptionConfidence         float64
	MTTimeout                          time.Duration
	MaxBatchSize                       uint
	CacheEnabled                       bool
	CacheMaxSize                       int
	CacheConfidenceFloor               float64
	MinDetectionTextLength              int
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		EnableLanguageDetection:              false,
		EnableAutomaticLanguageSwitching:     false,
		LanguageDetectionConfidenceThreshold: 0.8,
		EnableLanguageDetectionCaching:       true,
		NotifyLanguageChanges:                true,
		MinTranscriptionConfidence:           0.7,
		MTTimeout:                            5 * time.Second,
		MaxBatchSize:                         1,
		CacheEnabled:                         true,
		CacheMaxSize:                         1000,
		CacheConfidenceFloor:                 0.0,
		MinDetectionTextLength:               8,
	}
}

// TranscriptionInput is the inbound event the pipeline consumes: a
// (utterance, session, STT result) triple pushed by an upstream producer.
type TranscriptionInput struct {
	UtteranceID uint32
	SessionID   string
	Text        string
	Confidence  float64
	IsPartial   bool
}

// sessionState is the single atomically-replaceable record per session
// "(current_source, last_detection, last_detection_at)" triple.
// Updates use compare-and-set so concurrent same-session events never race.
type sessionState struct {
	sourceLang       string
	targetLang       string
	lastDetection    string
	lastDetectionAt  time.Time
}

// Pipeline orchestrates STT-result -> detect -> MT for the push path.
type Pipeline struct {
	cfg Config

	translator engine.TranslationEngine
	detector   *langdetect.Detector
	cache      *cache.Cache
	streaming  *streammt.Manager
	sched      *scheduler.Scheduler
	bus        *events.Bus

	sessions sessionRegistry

	confidenceGateRejections   int64
	languageDetectionsPerformed int64
	languageDetectionCacheHits  int64
}

// sessionRegistry maps session id to its atomically-swappable state
// pointer, guarded by a reader-writer lock on the outer map only (writes
// on create).
type sessionRegistry struct {
	mu sync.RWMutex
	m  map[string]*atomic.Pointer[sessionState]
}

// New builds a translation pipeline over its collaborators.
func New(translator engine.TranslationEngine, detector *langdetect.Detector, c *cache.Cache, streaming *streammt.Manager, sched *scheduler.Scheduler, bus *events.Bus, cfg Config) *Pipeline {
	if cfg.MTTimeout <= 0 {
		cfg = DefaultConfig()
	}
	return &Pipeline{
		cfg:        cfg,
		translator: translator,
		detector:   detector,
		cache:      c,
		streaming:  streaming,
		sched:      sched,
		bus:        bus,
		sessions:   sessionRegistry{m: make(map[string]*atomic.Pointer[sessionState])},
	}
}

// ConfigureSession sets (or resets) a session's effective source/target
// languages, per the inbound set_language_configuration API.
func (p *Pipeline) ConfigureSession(sessionID, sourceLang, targetLang string) {
	ptr := p.sessions.getOrCreate(sessionID)
	ptr.Store(&sessionState{sourceLang: sourceLang, targetLang: targetLang})
}

// SubmitTranscription runs the full dispatch algorithm against one
// transcription result.
func (p *Pipeline) SubmitTranscription(ctx context.Context, in TranscriptionInput) error {
	// Step 1: confidence gate.
	if in.Text == "" {
		return pipelineerr.New(pipelineerr.KindInvalidInput, "pipeline", "empty transcription text")
	}
	if in.Confidence < p.cfg.MinTranscriptionConfidence {
		atomic.AddInt64(&p.confidenceGateRejections, 1)
		return nil
	}

	sessPtr := p.sessions.getOrCreate(in.SessionID)
	sess := sessPtr.Load()
	if sess == nil {
		return pipelineerr.New(pipelineerr.KindInvalidInput, "pipeline", "session not configured: "+in.SessionID)
	}

	p.bus.EmitTranscriptionComplete(events.TranscriptionCompleteEvent{
		UtteranceID: in.UtteranceID,
		SessionID:   in.SessionID,
		Text:        in.Text,
		Confidence:  in.Confidence,
		IsPartial:   in.IsPartial,
	})

	// Step 2: language detection.
	languageChanged := false
	previousLang := sess.sourceLang
	detectedLang := ""
	var detectionConfidence float64

	shouldDetect := p.cfg.EnableLanguageDetection &&
		(sess.sourceLang == "" || sess.sourceLang == "auto" ||
			(p.cfg.EnableAutomaticLanguageSwitching && len(strings.TrimSpace(in.Text)) >= p.cfg.MinDetectionTextLength))

	if shouldDetect {
		atomic.AddInt64(&p.languageDetectionsPerformed, 1)

		var detection engine.DetectionResult
		var err error
		if p.cfg.EnableLanguageDetectionCaching {
			before := p.detector.CacheSize()
			detection, err = p.detector.DetectCached(ctx, in.Text)
			if err == nil && p.detector.CacheSize() == before {
				atomic.AddInt64(&p.languageDetectionCacheHits, 1)
			}
		} else {
			detection, err = p.detector.Detect(ctx, in.Text)
		}
		if err != nil {
			p.emitError(in, "language_detection", err)
			return err
		}

		detectedLang = detection.Language
		detectionConfidence = detection.Confidence

		p.bus.EmitLanguageDetectionComplete(events.LanguageDetectionCompleteEvent{
			SessionID: in.SessionID,
			Detection: detection,
		})

		if detection.Confidence >= p.cfg.LanguageDetectionConfidenceThreshold && detection.Language != sess.sourceLang {
			updated := &sessionState{
				sourceLang:      detection.Language,
				targetLang:      sess.targetLang,
				lastDetection:   detection.Language,
				lastDetectionAt: time.Now(),
			}
			if sessPtr.CompareAndSwap(sess, updated) {
				languageChanged = true
				sess = updated
				if p.cfg.NotifyLanguageChanges {
					p.bus.EmitLanguageChange(events.LanguageChangeEvent{
						SessionID:        in.SessionID,
						PreviousLanguage: previousLang,
						DetectedLanguage: detection.Language,
						Confidence:       detection.Confidence,
					})
				}
			}
		}
	}

	sourceLang, targetLang := sess.sourceLang, sess.targetLang

	// Step 3: target-pair resolution (the injected translator already
	// implements pivot-through-English fallback; see engine.PivotTranslator).
	if !p.translator.SupportsLanguagePair(sourceLang, targetLang) {
		err := pipelineerr.New(pipelineerr.KindUnsupportedLanguagePair, "pipeline", sourceLang+"->"+targetLang)
		p.emitError(in, "translation", err)
		return err
	}

	// Streaming integration: partial transcriptions route through the
	// incremental-translation session manager instead of a one-shot call.
	if in.IsPartial {
		return p.submitStreaming(ctx, in, sourceLang, targetLang, languageChanged, previousLang, detectedLang, detectionConfidence)
	}

	// Step 4: cache lookup.
	if p.cfg.CacheEnabled {
		if entry, ok := p.cache.Get(sourceLang, targetLang, in.Text); ok {
			p.emitTranslation(in, events.TranslationResult{
				TranslatedText:     entry.TranslatedText,
				SourceLanguage:     sourceLang,
				TargetLanguage:     targetLang,
				Confidence:         entry.Confidence,
				UsedCache:          true,
				LanguageChanged:    languageChanged,
				PreviousLanguage:   previousLang,
				DetectedLanguage:   detectedLang,
				LanguageConfidence: detectionConfidence,
			})
			return nil
		}
	}

	// Step 5: MT dispatch as a High-priority scheduler task.
	future := p.sched.Submit(scheduler.High, func(taskCtx context.Context) (any, error) {
		deadlineCtx, cancel := context.WithTimeout(taskCtx, p.cfg.MTTimeout)
		defer cancel()
		return p.translator.Translate(deadlineCtx, in.Text, sourceLang, targetLang)
	})

	value, err := future.Wait()
	if err != nil {
		p.emitError(in, "translation", err)
		return err
	}
	result := value.(engine.TranslationResult)

	if p.cfg.CacheEnabled && result.Confidence >= p.cfg.CacheConfidenceFloor {
		p.cache.Put(sourceLang, targetLang, in.Text, result.TranslatedText, result.Confidence)
	}

	p.emitTranslation(in, events.TranslationResult{
		TranslatedText:     result.TranslatedText,
		SourceLanguage:     sourceLang,
		TargetLanguage:     targetLang,
		Confidence:         result.Confidence,
		ProcessingTime:     result.ProcessingTime,
		UsedGPU:            result.UsedGPU,
		ModelVersion:       result.ModelVersion,
		LanguageChanged:    languageChanged,
		PreviousLanguage:   previousLang,
		DetectedLanguage:   detectedLang,
		LanguageConfidence: detectionConfidence,
	})
	return nil
}

func (p *Pipeline) submitStreaming(ctx context.Context, in TranscriptionInput, sourceLang, targetLang string, languageChanged bool, previousLang, detectedLang string, detectionConfidence float64) error {
	if !p.streaming.Has(in.SessionID) {
		if err := p.streaming.Start(in.SessionID, sourceLang, targetLang); err != nil {
			p.emitError(in, "streaming_translation", err)
			return err
		}
	}

	partial, err := p.streaming.Push(ctx, in.SessionID, in.Text, false)
	if err != nil {
		p.emitError(in, "streaming_translation", err)
		return err
	}

	p.emitTranslation(in, events.TranslationResult{
		TranslatedText:     partial.Text,
		SourceLanguage:     sourceLang,
		TargetLanguage:     targetLang,
		Confidence:         partial.Confidence,
		IsPartial:          true,
		LanguageChanged:    languageChanged,
		PreviousLanguage:   previousLang,
		DetectedLanguage:   detectedLang,
		LanguageConfidence: detectionConfidence,
	})
	return nil
}

// FinalizeStreaming finalizes a session's streaming MT session (the
// caller's is_partial=false event for that session), caches the final
// result, and notifies completion.
func (p *Pipeline) FinalizeStreaming(in TranscriptionInput) error {
	sessPtr := p.sessions.getOrCreate(in.SessionID)
	sess := sessPtr.Load()

	final, err := p.streaming.Finalize(in.SessionID)
	if err != nil {
		p.emitError(in, "streaming_translation", err)
		return err
	}

	if p.cfg.CacheEnabled && sess != nil {
		p.cache.Put(sess.sourceLang, sess.targetLang, in.Text, final.Text, final.Confidence)
	}

	result := events.TranslationResult{TranslatedText: final.Text, Confidence: final.Confidence, IsStreamingComplete: true}
	if sess != nil {
		result.SourceLanguage = sess.sourceLang
		result.TargetLanguage = sess.targetLang
	}
	p.emitTranslation(in, result)
	return nil
}

func (p *Pipeline) emitTranslation(in TranscriptionInput, result events.TranslationResult) {
	p.bus.EmitTranslationComplete(events.TranslationCompleteEvent{
		SessionID:   in.SessionID,
		UtteranceID: in.UtteranceID,
		Result:      result,
	})
}

func (p *Pipeline) emitError(in TranscriptionInput, stage string, err error) {
	p.bus.EmitPipelineError(events.PipelineErrorEvent{
		SessionID:    in.SessionID,
		UtteranceID:  in.UtteranceID,
		Stage:        stage,
		ErrorMessage: err.Error(),
	})
}

// Statistics is a point-in-time counter snapshot.
type Statistics struct {
	ConfidenceGateRejections    int64
	LanguageDetectionsPerformed int64
	LanguageDetectionCacheHits  int64
}

// Statistics returns the pipeline's running counters.
func (p *Pipeline) Statistics() Statistics {
	return Statistics{
		ConfidenceGateRejections:    atomic.LoadInt64(&p.confidenceGateRejections),
		LanguageDetectionsPerformed: atomic.LoadInt64(&p.languageDetectionsPerformed),
		LanguageDetectionCacheHits:  atomic.LoadInt64(&p.languageDetectionCacheHits),
	}
}

func (r *sessionRegistry) getOrCreate(sessionID string) *atomic.Pointer[sessionState] {
	r.mu.RLock()
	ptr, ok := r.m[sessionID]
	r.mu.RUnlock()
	if ok {
		return ptr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ptr, ok := r.m[sessionID]; ok {
		return ptr
	}
	ptr = &atomic.Pointer[sessionState]{}
	ptr.Store(&sessionState{})
	r.m[sessionID] = ptr
	return ptr
}
