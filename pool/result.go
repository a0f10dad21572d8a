package pool

import "time"

// TranscriptionResult is a pooled transcription-result record.
type TranscriptionResult struct {
	Text                string
	Confidence          float64
	IsPartial           bool
	StartMs             int64
	EndMs               int64
	DetectedLanguage    string
	LanguageConfidence  float64
}

// Reset clears the record back to its empty state.
func (r *TranscriptionResult) Reset() {
	r.Text = ""
	r.Confidence = 0
	r.IsPartial = false
	r.StartMs = 0
	r.EndMs = 0
	r.DetectedLanguage = ""
	r.LanguageConfidence = 0
}

// ResultPool recycles TranscriptionResult records.
type ResultPool struct {
	pool *Pool[*TranscriptionResult]
}

// NewResultPool builds a result pool pre-allocating initialResults records,
// capped at maxResults.
func NewResultPool(initialResults, maxResults int) *ResultPool {
	return &ResultPool{
		pool: New(initialResults, maxResults, func() *TranscriptionResult {
			return &TranscriptionResult{}
		}),
	}
}

// Acquire returns a handle to a reset result record.
func (p *ResultPool) Acquire() (*Handle[*TranscriptionResult], error) {
	return p.pool.Acquire()
}

// Statistics returns pool usage counters.
func (p *ResultPool) Statistics() Statistics { return p.pool.Statistics() }

// Cleanup frees free-list records idle longer than maxIdle, down to a floor
// of one allocated record.
func (p *ResultPool) Cleanup(maxIdle time.Duration) { p.pool.Cleanup(maxIdle) }
