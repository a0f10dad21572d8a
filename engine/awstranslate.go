package engine

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/translate"
	"golang.org/x/time/rate"

	"speechbridge/pipelineerr"
)

// supportedLangPairs is the vetted language set: the
// internal language codes this deployment has vetted against Amazon
// Translate. Anything outside this set is treated as unsupported so the
// pipeline's pivot-through-English fallback has somewhere to
// kick in.
var supportedLangPairs = map[string]bool{
	"ko": true, "en": true, "ja": true, "zh": true,
	"es": true, "fr": true, "de": true,
}

// AWSTranslateEngine implements TranslationEngine against Amazon Translate.
// It is the concrete stand-in for the out-of-scope "Marian" model.
type AWSTranslateEngine struct {
	client  *translate.Client
	limiter *rate.Limiter
	breaker *CircuitBreaker
}

// NewAWSTranslateEngine builds an engine rate-limited to ratePerSecond
// requests, matching AWS's per-account TPS quotas for TranslateText, and
// protected by a circuit breaker that trips after repeated TranslateText
// failures.
func NewAWSTranslateEngine(cfg aws.Config, ratePerSecond float64) *AWSTranslateEngine {
	return &AWSTranslateEngine{
		client:  translate.NewFromConfig(cfg),
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		breaker: NewCircuitBreaker(DefaultCircuitBreakerConfig("aws-translate")),
	}
}

// Translate calls Amazon Translate's TranslateText operation.
func (e *AWSTranslateEngine) Translate(ctx context.Context, text, sourceLang, targetLang string) (TranslationResult, error) {
	if text == "" {
		return TranslationResult{}, pipelineerr.New(pipelineerr.KindInvalidInput, "mt", "empty text")
	}
	if sourceLang == targetLang {
		return TranslationResult{TranslatedText: text, Confidence: 1.0, ModelVersion: "aws-translate:identity"}, nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return TranslationResult{}, pipelineerr.Wrap(pipelineerr.KindTimeout, "mt", "rate limiter wait", err)
	}

	start := time.Now()
	var out *translate.TranslateTextOutput
	err := e.breaker.Execute(func() error {
		var callErr error
		out, callErr = e.client.TranslateText(ctx, &translate.TranslateTextInput{
			Text:               aws.String(text),
			SourceLanguageCode: aws.String(sourceLang),
			TargetLanguageCode: aws.String(targetLang),
		})
		return callErr
	})
	if err != nil {
		return TranslationResult{}, pipelineerr.Wrap(pipelineerr.KindModelFailure, "mt", "translate error", err)
	}

	translated := aws.ToString(out.TranslatedText)
	log.Printf("🌐 [mt] translated [%s->%s]: %d chars in %v", sourceLang, targetLang, len(text), time.Since(start))

	return TranslationResult{
		TranslatedText: translated,
		Confidence:     0.95,
		ProcessingTime: time.Since(start).Milliseconds(),
		ModelVersion:   "aws-translate",
	}, nil
}

// SupportsLanguagePair reports whether both codes are in the vetted set.
func (e *AWSTranslateEngine) SupportsLanguagePair(sourceLang, targetLang string) bool {
	return supportedLangPairs[sourceLang] && supportedLangPairs[targetLang]
}

// ModelVersion identifies this engine in translation results.
func (e *AWSTranslateEngine) ModelVersion() string { return "aws-translate" }
