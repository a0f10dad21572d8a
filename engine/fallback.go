package engine

import (
	"context"
	"fmt"

	"speechbridge/pipelineerr"
)

// PivotTranslator chains two TranslationEngine calls through a pivot
// language (English) for language pairs the primary engine does not
// support directly. This is the fallback path used in place
// of literal phrase-lookup tables: a pivot plus identity passthrough, never
// a canned dictionary.
type PivotTranslator struct {
	primary TranslationEngine
	pivot   string
}

// NewPivotTranslator wraps primary with English-pivot fallback behavior.
func NewPivotTranslator(primary TranslationEngine) *PivotTranslator {
	return &PivotTranslator{primary: primary, pivot: "en"}
}

// Translate tries the direct pair first. If the primary engine does not
// support it, it pivots through English: source->en, then en->target. If
// source or target is already English there is no pivot path, and it
// returns UnsupportedLanguagePair.
func (p *PivotTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (TranslationResult, error) {
	if sourceLang == targetLang {
		return TranslationResult{TranslatedText: text, Confidence: 1.0, ModelVersion: "identity"}, nil
	}

	if p.primary.SupportsLanguagePair(sourceLang, targetLang) {
		return p.primary.Translate(ctx, text, sourceLang, targetLang)
	}

	if sourceLang == p.pivot || targetLang == p.pivot {
		return TranslationResult{}, pipelineerr.New(pipelineerr.KindUnsupportedLanguagePair, "mt",
			fmt.Sprintf("unsupported pair %s->%s and already at pivot", sourceLang, targetLang))
	}

	toPivot, err := p.primary.Translate(ctx, text, sourceLang, p.pivot)
	if err != nil {
		return TranslationResult{}, err
	}

	fromPivot, err := p.primary.Translate(ctx, toPivot.TranslatedText, p.pivot, targetLang)
	if err != nil {
		return TranslationResult{}, err
	}

	fromPivot.Confidence *= toPivot.Confidence
	fromPivot.ModelVersion = fmt.Sprintf("%s+pivot(%s)", fromPivot.ModelVersion, p.pivot)
	return fromPivot, nil
}

// SupportsLanguagePair reports true whenever a pivot path exists: direct
// support, or both legs reachable through English.
func (p *PivotTranslator) SupportsLanguagePair(sourceLang, targetLang string) bool {
	if sourceLang == targetLang {
		return true
	}
	if p.primary.SupportsLanguagePair(sourceLang, targetLang) {
		return true
	}
	return p.primary.SupportsLanguagePair(sourceLang, p.pivot) && p.primary.SupportsLanguagePair(p.pivot, targetLang)
}

// ModelVersion reports the wrapped engine's version, since PivotTranslator
// is a routing decorator rather than a distinct model.
func (p *PivotTranslator) ModelVersion() string { return p.primary.ModelVersion() + "+pivot" }

// MockTranslationEngine is a deterministic, network-free TranslationEngine
// for tests: it returns the input text, annotated with the target language
// tag, so assertions can check routing without needing real AWS calls.
type MockTranslationEngine struct {
	Supported map[string]bool // "src>tgt" -> supported, defaults to true if nil
}

func (m *MockTranslationEngine) Translate(ctx context.Context, text, sourceLang, targetLang string) (TranslationResult, error) {
	if sourceLang == targetLang {
		return TranslationResult{TranslatedText: text, Confidence: 1.0, ModelVersion: "mock:identity"}, nil
	}
	if !m.SupportsLanguagePair(sourceLang, targetLang) {
		return TranslationResult{}, pipelineerr.New(pipelineerr.KindUnsupportedLanguagePair, "mt", sourceLang+"->"+targetLang)
	}
	return TranslationResult{
		TranslatedText: fmt.Sprintf("[%s] %s", targetLang, text),
		Confidence:     0.9,
		ModelVersion:   "mock",
	}, nil
}

func (m *MockTranslationEngine) SupportsLanguagePair(sourceLang, targetLang string) bool {
	if m.Supported == nil {
		return true
	}
	v, ok := m.Supported[sourceLang+">"+targetLang]
	return ok && v
}

func (m *MockTranslationEngine) ModelVersion() string { return "mock" }

// MockSpeechToText is a deterministic SpeechToText for tests: it reports
// its fixed Transcript for any non-empty audio, never touching the network.
type MockSpeechToText struct {
	Transcript string
	Confidence float64
}

func (m *MockSpeechToText) Transcribe(ctx context.Context, sourceLang string, samples []float32) (TranscriptionResult, error) {
	if len(samples) == 0 {
		return TranscriptionResult{}, pipelineerr.New(pipelineerr.KindInvalidInput, "stt", "empty audio")
	}
	confidence := m.Confidence
	if confidence == 0 {
		confidence = 0.9
	}
	return TranscriptionResult{Text: m.Transcript, Confidence: confidence}, nil
}

// MockLanguageDetector is a deterministic LanguageDetector for tests.
type MockLanguageDetector struct {
	Language   string
	Confidence float64
}

func (m *MockLanguageDetector) Detect(ctx context.Context, text string) (DetectionResult, error) {
	if text == "" {
		return DetectionResult{}, pipelineerr.New(pipelineerr.KindInvalidInput, "langdetect", "empty text")
	}
	confidence := m.Confidence
	if confidence == 0 {
		confidence = 0.9
	}
	return DetectionResult{
		Language:   m.Language,
		Confidence: confidence,
		IsReliable: confidence >= reliabilityThreshold,
		Method:     "mock",
		Candidates: []DetectionCandidate{{Language: m.Language, Score: confidence}},
	}, nil
}
