package cache

import "testing"

func TestPutThenGetRoundTrips(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig())
	c.Put("en", "es", "Hello", "Hola", 0.95)

	entry, ok := c.Get("en", "es", "Hello")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if entry.TranslatedText != "Hola" {
		t.Errorf("TranslatedText = %q, want %q", entry.TranslatedText, "Hola")
	}
}

func TestGetNormalizesTextForFingerprint(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig())
	c.Put("en", "es", "  Hello World  ", "Hola Mundo", 0.9)

	if _, ok := c.Get("en", "es", "hello world"); !ok {
		t.Error("expected normalized lookup to hit")
	}
}

func TestGetDoesNotChangeSize(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig())
	c.Put("en", "es", "Hi", "Hola", 0.9)
	before := c.Len()
	c.Get("en", "es", "Hi")
	c.Get("en", "es", "Hi")
	if c.Len() != before {
		t.Errorf("Len changed after Get: before=%d after=%d", before, c.Len())
	}
}

func TestPutEvictsLRUAtCapacity(t *testing.T) {
	t.Parallel()

	cfg := Config{MaxSize: 2, ConfidenceFloor: 0}
	c := New(cfg)

	c.Put("en", "es", "a", "A", 0.9)
	c.Put("en", "es", "b", "B", 0.9)
	c.Get("en", "es", "a") // touch a, making b the LRU
	c.Put("en", "es", "c", "C", 0.9)

	if _, ok := c.Get("en", "es", "b"); ok {
		t.Error("expected b to be evicted as LRU")
	}
	if _, ok := c.Get("en", "es", "a"); !ok {
		t.Error("expected a to survive eviction")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestPutNeverReplacesWithLowerConfidence(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig())
	c.Put("en", "es", "Hi", "Hola", 0.9)
	c.Put("en", "es", "Hi", "Hola2", 0.5)

	entry, _ := c.Get("en", "es", "Hi")
	if entry.TranslatedText != "Hola" {
		t.Errorf("lower-confidence put overwrote entry: %+v", entry)
	}
}

func TestPutBelowConfidenceFloorNotCached(t *testing.T) {
	t.Parallel()

	c := New(Config{MaxSize: 10, ConfidenceFloor: 0.5})
	c.Put("en", "es", "Hi", "Hola", 0.1)

	if _, ok := c.Get("en", "es", "Hi"); ok {
		t.Error("expected entry below confidence floor to be rejected")
	}
}

func TestHitRate(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig())
	c.Put("en", "es", "Hi", "Hola", 0.9)
	c.Get("en", "es", "Hi")   // hit
	c.Get("en", "es", "Bye")  // miss

	if rate := c.HitRate(); rate != 0.5 {
		t.Errorf("HitRate = %v, want 0.5", rate)
	}
}

func TestClearResetsStatsAndEntries(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig())
	c.Put("en", "es", "Hi", "Hola", 0.9)
	c.Get("en", "es", "Hi")
	c.Clear()

	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", c.Len())
	}
	if c.HitRate() != 0 {
		t.Errorf("HitRate after Clear = %v, want 0", c.HitRate())
	}
}
