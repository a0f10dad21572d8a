package engine

import (
	"context"
	"log"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/comprehend"

	"speechbridge/pipelineerr"
)

// reliabilityThreshold is the is_reliable cutoff: a detection
// below this confidence is reported but flagged unreliable rather than
// driving a language change downstream.
const reliabilityThreshold = 0.7

// AWSLangDetectEngine implements LanguageDetector against Amazon
// Comprehend's DetectDominantLanguage, following the same
// NewFromConfig-on-a-shared-aws.Config shape as AWSTranslateEngine and
// AWSTranscribeEngine.
type AWSLangDetectEngine struct {
	client *comprehend.Client
}

// NewAWSLangDetectEngine builds a detector from a shared AWS config.
func NewAWSLangDetectEngine(cfg aws.Config) *AWSLangDetectEngine {
	return &AWSLangDetectEngine{client: comprehend.NewFromConfig(cfg)}
}

// Detect calls DetectDominantLanguage and reports the top-scored language,
// along with the full candidate list sorted by descending score.
func (e *AWSLangDetectEngine) Detect(ctx context.Context, text string) (DetectionResult, error) {
	if text == "" {
		return DetectionResult{}, pipelineerr.New(pipelineerr.KindInvalidInput, "langdetect", "empty text")
	}

	out, err := e.client.DetectDominantLanguage(ctx, &comprehend.DetectDominantLanguageInput{
		Text: aws.String(text),
	})
	if err != nil {
		return DetectionResult{}, pipelineerr.Wrap(pipelineerr.KindModelFailure, "langdetect", "detect dominant language", err)
	}
	if len(out.Languages) == 0 {
		return DetectionResult{}, pipelineerr.New(pipelineerr.KindModelFailure, "langdetect", "no languages returned")
	}

	candidates := make([]DetectionCandidate, 0, len(out.Languages))
	for _, l := range out.Languages {
		candidates = append(candidates, DetectionCandidate{
			Language: aws.ToString(l.LanguageCode),
			Score:    float64(aws.ToFloat32(l.Score)),
		})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })

	top := candidates[0]
	result := DetectionResult{
		Language:   top.Language,
		Confidence: top.Score,
		IsReliable: top.Score >= reliabilityThreshold,
		Method:     "aws-comprehend",
		Candidates: candidates,
	}
	if !result.IsReliable {
		log.Printf("⚠️ [langdetect] low-confidence detection: lang=%s score=%.3f", top.Language, top.Score)
	}
	return result, nil
}
