package pipeline

import (
	"context"
	"testing"
	"time"

	"speechbridge/cache"
	"speechbridge/engine"
	"speechbridge/events"
	"speechbridge/langdetect"
	"speechbridge/scheduler"
	"speechbridge/streammt"
)

type testHarness struct {
	pipeline *Pipeline
	bus      *events.Bus
	sched    *scheduler.Scheduler
	streamMT *streammt.Manager
}

func newHarness(t *testing.T, cfg Config, translator engine.TranslationEngine, detector engine.LanguageDetector) *testHarness {
	t.Helper()
	sched := scheduler.New(scheduler.Config{NumWorkers: 2, MaxQueueSize: 100, ThreadIdleTimeout: 20 * time.Millisecond})
	bus := events.New()
	c := cache.New(cache.DefaultConfig())
	streamMT := streammt.New(context.Background(), translator, streammt.DefaultConfig())
	det := langdetect.New(detector, langdetect.DefaultConfig())

	p := New(translator, det, c, streamMT, sched, bus, cfg)
	t.Cleanup(func() {
		sched.Shutdown()
		streamMT.Shutdown()
	})
	return &testHarness{pipeline: p, bus: bus, sched: sched, streamMT: streamMT}
}

func TestConfidenceGateDropsLowConfidenceTranscription(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultConfig(), &engine.MockTranslationEngine{}, &engine.MockLanguageDetector{})
	h.pipeline.ConfigureSession("s1", "en", "en")

	var gotTranslation bool
	h.bus.OnTranslationComplete(func(events.TranslationCompleteEvent) { gotTranslation = true })

	err := h.pipeline.SubmitTranscription(context.Background(), TranscriptionInput{
		UtteranceID: 1, SessionID: "s1", Text: "hi", Confidence: 0.3,
	})
	if err != nil {
		t.Fatalf("SubmitTranscription() error = %v", err)
	}
	if gotTranslation {
		t.Error("expected no translation_complete for confidence below gate")
	}
	if h.pipeline.Statistics().ConfidenceGateRejections != 1 {
		t.Errorf("ConfidenceGateRejections = %d, want 1", h.pipeline.Statistics().ConfidenceGateRejections)
	}
}

func TestEmptyTextIsInvalidInputNotGateRejection(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultConfig(), &engine.MockTranslationEngine{}, &engine.MockLanguageDetector{})
	h.pipeline.ConfigureSession("s1", "en", "en")

	err := h.pipeline.SubmitTranscription(context.Background(), TranscriptionInput{
		UtteranceID: 1, SessionID: "s1", Text: "", Confidence: 0.99,
	})
	if err == nil {
		t.Fatal("expected error for empty text")
	}
	if h.pipeline.Statistics().ConfidenceGateRejections != 0 {
		t.Errorf("ConfidenceGateRejections = %d, want 0 for empty-text InvalidInput", h.pipeline.Statistics().ConfidenceGateRejections)
	}
}

func TestSuccessfulTranslationEmitsAndCaches(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultConfig(), &engine.MockTranslationEngine{}, &engine.MockLanguageDetector{})
	h.pipeline.ConfigureSession("s1", "en", "ko")

	done := make(chan events.TranslationCompleteEvent, 1)
	h.bus.OnTranslationComplete(func(e events.TranslationCompleteEvent) { done <- e })

	err := h.pipeline.SubmitTranscription(context.Background(), TranscriptionInput{
		UtteranceID: 1, SessionID: "s1", Text: "Hello", Confidence: 0.95,
	})
	if err != nil {
		t.Fatalf("SubmitTranscription() error = %v", err)
	}

	select {
	case e := <-done:
		if e.Result.TranslatedText == "" {
			t.Error("expected non-empty translated text")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for translation_complete")
	}

	if _, ok := h.pipeline.cache.Get("en", "ko", "Hello"); !ok {
		t.Error("expected the translation to be cached after translation_complete")
	}
}

func TestLanguageDetectionTriggersSwitchAboveThreshold(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.EnableLanguageDetection = true
	detector := &engine.MockLanguageDetector{Language: "ja", Confidence: 0.95}
	h := newHarness(t, cfg, &engine.MockTranslationEngine{}, detector)
	h.pipeline.ConfigureSession("s1", "auto", "en")

	var changeEvent events.LanguageChangeEvent
	got := make(chan struct{}, 1)
	h.bus.OnLanguageChange(func(e events.LanguageChangeEvent) {
		changeEvent = e
		got <- struct{}{}
	})

	err := h.pipeline.SubmitTranscription(context.Background(), TranscriptionInput{
		UtteranceID: 1, SessionID: "s1", Text: "konnichiwa sekai", Confidence: 0.95,
	})
	if err != nil {
		t.Fatalf("SubmitTranscription() error = %v", err)
	}

	select {
	case <-got:
		if changeEvent.DetectedLanguage != "ja" {
			t.Errorf("DetectedLanguage = %q, want ja", changeEvent.DetectedLanguage)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for language_change event")
	}
}

func TestUnsupportedLanguagePairEmitsError(t *testing.T) {
	t.Parallel()

	translator := &engine.MockTranslationEngine{Supported: map[string]bool{}}
	h := newHarness(t, DefaultConfig(), translator, &engine.MockLanguageDetector{})
	h.pipeline.ConfigureSession("s1", "ja", "ko")

	err := h.pipeline.SubmitTranscription(context.Background(), TranscriptionInput{
		UtteranceID: 1, SessionID: "s1", Text: "hello", Confidence: 0.95,
	})
	if err == nil {
		t.Fatal("expected UnsupportedLanguagePair error")
	}
}

func TestPartialTranscriptionRoutesThroughStreaming(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultConfig(), &engine.MockTranslationEngine{}, &engine.MockLanguageDetector{})
	h.pipeline.ConfigureSession("s1", "en", "ko")

	done := make(chan events.TranslationCompleteEvent, 1)
	h.bus.OnTranslationComplete(func(e events.TranslationCompleteEvent) { done <- e })

	err := h.pipeline.SubmitTranscription(context.Background(), TranscriptionInput{
		UtteranceID: 1, SessionID: "s1", Text: "Hello", Confidence: 0.95, IsPartial: true,
	})
	if err != nil {
		t.Fatalf("SubmitTranscription() error = %v", err)
	}

	select {
	case e := <-done:
		if !e.Result.IsPartial {
			t.Error("expected IsPartial=true for streaming push")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for partial translation")
	}
}
