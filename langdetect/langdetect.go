// Package langdetect wraps an engine.LanguageDetector with a small
// normalized-text cache, following the same single-mutex-map shape as the
// cache package, scaled down to the detector's simpler contract (no
// statistics and no recency order, just a cap on growth that drops one
// arbitrary entry when full).
package langdetect

import (
	"context"
	"strings"
	"sync"

	"speechbridge/engine"
)

// ReliabilityThreshold is the default confidence cutoff below which a
// detection is reported but not treated as reliable.
const ReliabilityThreshold = 0.7

// Config configures the detector.
type Config struct {
	MaxCacheSize int
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{MaxCacheSize: 2000}
}

// Detector wraps an engine.LanguageDetector with caching.
type Detector struct {
	cfg    Config
	engine engine.LanguageDetector

	mu    sync.Mutex
	cache map[string]engine.DetectionResult
}

// New builds a Detector over eng.
func New(eng engine.LanguageDetector, cfg Config) *Detector {
	if cfg.MaxCacheSize <= 0 {
		cfg = DefaultConfig()
	}
	return &Detector{
		cfg:    cfg,
		engine: eng,
		cache:  make(map[string]engine.DetectionResult),
	}
}

// Detect runs detection uncached.
func (d *Detector) Detect(ctx context.Context, text string) (engine.DetectionResult, error) {
	return d.engine.Detect(ctx, text)
}

// DetectCached looks up normalized text in the cache first; on miss it
// calls Detect and stores the result.
func (d *Detector) DetectCached(ctx context.Context, text string) (engine.DetectionResult, error) {
	key := normalize(text)

	d.mu.Lock()
	if result, ok := d.cache[key]; ok {
		d.mu.Unlock()
		return result, nil
	}
	d.mu.Unlock()

	result, err := d.engine.Detect(ctx, text)
	if err != nil {
		return engine.DetectionResult{}, err
	}

	d.mu.Lock()
	if len(d.cache) >= d.cfg.MaxCacheSize {
		d.evictArbitraryLocked()
	}
	d.cache[key] = result
	d.mu.Unlock()

	return result, nil
}

// evictArbitraryLocked drops one entry when the cache is full. The
// detector cache has no recency contract, so a single
// arbitrary eviction (Go map iteration order) keeps growth bounded without
// the bookkeeping of a full LRU.
func (d *Detector) evictArbitraryLocked() {
	for k := range d.cache {
		delete(d.cache, k)
		return
	}
}

// CacheSize returns the number of cached detections.
func (d *Detector) CacheSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cache)
}

// ClearCache empties the detection cache.
func (d *Detector) ClearCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache = make(map[string]engine.DetectionResult)
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
