package langdetect

import (
	"context"
	"testing"

	"speechbridge/engine"
)

func TestDetectCachedMissesThenHits(t *testing.T) {
	t.Parallel()

	mock := &engine.MockLanguageDetector{Language: "en", Confidence: 0.95}
	d := New(mock, DefaultConfig())

	if d.CacheSize() != 0 {
		t.Fatalf("CacheSize() = %d, want 0", d.CacheSize())
	}

	result, err := d.DetectCached(context.Background(), "Hello World")
	if err != nil {
		t.Fatalf("DetectCached() error = %v", err)
	}
	if result.Language != "en" {
		t.Errorf("Language = %q, want en", result.Language)
	}
	if d.CacheSize() != 1 {
		t.Errorf("CacheSize() = %d, want 1", d.CacheSize())
	}

	if _, err := d.DetectCached(context.Background(), "  hello world  "); err != nil {
		t.Fatalf("DetectCached() error = %v", err)
	}
	if d.CacheSize() != 1 {
		t.Errorf("CacheSize() after normalized re-lookup = %d, want 1 (cache hit)", d.CacheSize())
	}
}

func TestClearCacheEmptiesEntries(t *testing.T) {
	t.Parallel()

	mock := &engine.MockLanguageDetector{Language: "en", Confidence: 0.95}
	d := New(mock, DefaultConfig())
	_, _ = d.DetectCached(context.Background(), "hello")

	d.ClearCache()
	if d.CacheSize() != 0 {
		t.Errorf("CacheSize() after ClearCache = %d, want 0", d.CacheSize())
	}
}

func TestDetectIsReliableThresholded(t *testing.T) {
	t.Parallel()

	mock := &engine.MockLanguageDetector{Language: "en", Confidence: 0.5}
	d := New(mock, DefaultConfig())

	result, err := d.Detect(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if result.IsReliable {
		t.Error("expected is_reliable=false below threshold")
	}
}

func TestCacheEvictsWhenFull(t *testing.T) {
	t.Parallel()

	mock := &engine.MockLanguageDetector{Language: "en", Confidence: 0.95}
	d := New(mock, Config{MaxCacheSize: 2})

	_, _ = d.DetectCached(context.Background(), "a")
	_, _ = d.DetectCached(context.Background(), "b")
	_, _ = d.DetectCached(context.Background(), "c")

	if d.CacheSize() > 2 {
		t.Errorf("CacheSize() = %d, want <= 2", d.CacheSize())
	}
}
