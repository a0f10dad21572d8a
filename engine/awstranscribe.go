package engine

import (
	"context"
	"encoding/binary"
	"log"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
	"golang.org/x/time/rate"

	"speechbridge/pipelineerr"
)

// transcribeLangCodes maps internal language codes to AWS Transcribe codes.
var transcribeLangCodes = map[string]types.LanguageCode{
	"ko": types.LanguageCodeKoKr,
	"en": types.LanguageCodeEnUs,
	"ja": types.LanguageCodeJaJp,
	"zh": types.LanguageCodeZhCn,
	"es": types.LanguageCodeEsEs,
	"fr": types.LanguageCodeFrFr,
	"de": types.LanguageCodeDeDe,
}

const transcribeSampleRateHz = 16000

// AWSTranscribeEngine implements SpeechToText against Amazon Transcribe
// Streaming. Unlike a long-lived transcription stream, which stays open for
// the lifetime of a client connection and pushes partial/final results down
// a channel, this adapter opens one short-lived stream per call: the
// managed utterance path hands over an already-finalized chunk of
// audio and wants a single transcription back, not a live feed.
type AWSTranscribeEngine struct {
	cfg     aws.Config
	limiter *rate.Limiter
	breaker *CircuitBreaker
}

// NewAWSTranscribeEngine builds a transcription engine rate-limited to
// ratePerSecond StartStreamTranscription calls, protected by a circuit
// breaker that trips after repeated stream-start failures.
func NewAWSTranscribeEngine(cfg aws.Config, ratePerSecond float64) *AWSTranscribeEngine {
	return &AWSTranscribeEngine{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		breaker: NewCircuitBreaker(DefaultCircuitBreakerConfig("aws-transcribe")),
	}
}

// Transcribe opens a Transcribe Streaming session, sends samples as a
// single PCM audio event, and collects the final transcript.
func (e *AWSTranscribeEngine) Transcribe(ctx context.Context, sourceLang string, samples []float32) (TranscriptionResult, error) {
	if len(samples) == 0 {
		return TranscriptionResult{}, pipelineerr.New(pipelineerr.KindInvalidInput, "stt", "empty audio")
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return TranscriptionResult{}, pipelineerr.Wrap(pipelineerr.KindTimeout, "stt", "rate limiter wait", err)
	}

	langCode, ok := transcribeLangCodes[sourceLang]
	if !ok {
		langCode = types.LanguageCodeEnUs
	}

	client := transcribestreaming.NewFromConfig(e.cfg)
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	var resp *transcribestreaming.StartStreamTranscriptionOutput
	err := e.breaker.Execute(func() error {
		var callErr error
		resp, callErr = client.StartStreamTranscription(streamCtx, &transcribestreaming.StartStreamTranscriptionInput{
			LanguageCode:         langCode,
			MediaEncoding:        types.MediaEncodingPcm,
			MediaSampleRateHertz: aws.Int32(transcribeSampleRateHz),
		})
		return callErr
	})
	if err != nil {
		return TranscriptionResult{}, pipelineerr.Wrap(pipelineerr.KindModelFailure, "stt", "start transcription", err)
	}

	stream := resp.GetStream()
	if stream == nil {
		return TranscriptionResult{}, pipelineerr.New(pipelineerr.KindModelFailure, "stt", "stream is nil")
	}
	defer stream.Close()

	event := &types.AudioStreamMemberAudioEvent{
		Value: types.AudioEvent{AudioChunk: encodePCM16(samples)},
	}
	if err := stream.Send(streamCtx, event); err != nil {
		return TranscriptionResult{}, pipelineerr.Wrap(pipelineerr.KindModelFailure, "stt", "send audio", err)
	}
	if err := stream.Send(streamCtx, &types.AudioStreamMemberAudioEvent{Value: types.AudioEvent{AudioChunk: nil}}); err != nil {
		log.Printf("⚠️ [stt] end-of-stream send error: %v", err)
	}

	result, err := drainTranscript(streamCtx, stream)
	if err != nil {
		return TranscriptionResult{}, err
	}

	result.StartMs = 0
	result.EndMs = time.Since(start).Milliseconds()
	log.Printf("🎤 [stt] transcribed %d samples (%s) in %v: %q", len(samples), sourceLang, time.Since(start), result.Text)
	return result, nil
}

func drainTranscript(ctx context.Context, stream *transcribestreaming.StartStreamTranscriptionEventStream) (TranscriptionResult, error) {
	var best TranscriptionResult

	for {
		select {
		case <-ctx.Done():
			return best, pipelineerr.Wrap(pipelineerr.KindTimeout, "stt", "transcription deadline exceeded", ctx.Err())
		case event, ok := <-stream.Events():
			if !ok {
				if err := stream.Err(); err != nil {
					return best, pipelineerr.Wrap(pipelineerr.KindModelFailure, "stt", "stream error", err)
				}
				return best, nil
			}
			e, ok := event.(*types.TranscriptResultStreamMemberTranscriptEvent)
			if !ok || e.Value.Transcript == nil {
				continue
			}
			for _, r := range e.Value.Transcript.Results {
				if r.IsPartial || len(r.Alternatives) == 0 {
					continue
				}
				alt := r.Alternatives[0]
				best = TranscriptionResult{
					Text:       aws.ToString(alt.Transcript),
					Confidence: alternativeConfidence(alt),
					IsPartial:  false,
				}
			}
		}
	}
}

// alternativeConfidence averages item-level confidence scores, since the
// Transcript alternative itself carries no aggregate confidence field.
func alternativeConfidence(alt types.Alternative) float64 {
	if len(alt.Items) == 0 {
		return 0.85
	}
	var sum float64
	var n int
	for _, item := range alt.Items {
		if item.Confidence != nil {
			sum += *item.Confidence
			n++
		}
	}
	if n == 0 {
		return 0.85
	}
	return sum / float64(n)
}

// encodePCM16 converts float32 samples in [-1, 1] to little-endian signed
// 16-bit PCM, the wire format Transcribe Streaming expects.
func encodePCM16(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		clamped := math.Max(-1, math.Min(1, float64(s)))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(clamped*math.MaxInt16)))
	}
	return buf
}
