// Package cache implements the bounded, LRU translation cache: a
// fingerprint -> translation map that never changes size on a hit and
// evicts at most one entry on a miss-then-insert. It follows the same
// PipelineCache shape (sync-guarded map) generalized from a TTL cache into
// an LRU one: entries are bounded by count rather than by age, so there is
// no background cleanup loop.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Entry is a cached translation record.
type Entry struct {
	TranslatedText string
	Confidence     float64
	InsertedAt     time.Time
	LastHitAt      time.Time
	HitCount       int64
}

// Config configures the cache.
type Config struct {
	MaxSize        int
	ConfidenceFloor float64 // minimum confidence required to cache a result
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{MaxSize: 1000, ConfidenceFloor: 0.0}
}

type node struct {
	key   string
	entry Entry
}

// Cache is a single-mutex LRU keyed by hash(source, target, normalized(text)).
// The critical section is O(1): a map lookup plus a list move/remove.
type Cache struct {
	mu  sync.Mutex
	cfg Config

	index map[string]*list.Element
	order *list.List // front = most recently used

	hits   int64
	misses int64
}

// New builds an empty cache.
func New(cfg Config) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}
	return &Cache{
		cfg:   cfg,
		index: make(map[string]*list.Element),
		order: list.New(),
	}
}

// Fingerprint computes the normalized cache key for (source, target, text).
func Fingerprint(sourceLang, targetLang, text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(sourceLang + "\x00" + targetLang + "\x00" + normalized))
	return hex.EncodeToString(sum[:])
}

// Get looks up a translation by (source, target, text), updating recency
// and hit statistics on a hit. A hit never changes the cache's size.
func (c *Cache) Get(sourceLang, targetLang, text string) (Entry, bool) {
	key := Fingerprint(sourceLang, targetLang, text)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		c.misses++
		return Entry{}, false
	}

	c.order.MoveToFront(el)
	n := el.Value.(*node)
	n.entry.HitCount++
	n.entry.LastHitAt = time.Now()
	c.hits++
	return n.entry, true
}

// Put inserts or updates a translation. It evicts the least-recently-used
// entry if the cache is at capacity and the key is new, never replaces an
// existing entry with a lower-confidence value, and refuses to cache
// results below the configured confidence floor.
func (c *Cache) Put(sourceLang, targetLang, text string, translatedText string, confidence float64) {
	if confidence < c.cfg.ConfidenceFloor {
		return
	}
	key := Fingerprint(sourceLang, targetLang, text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		existing := el.Value.(*node)
		if confidence < existing.entry.Confidence {
			c.order.MoveToFront(el)
			return
		}
		existing.entry.TranslatedText = translatedText
		existing.entry.Confidence = confidence
		c.order.MoveToFront(el)
		return
	}

	if len(c.index) >= c.cfg.MaxSize {
		c.evictOldestLocked()
	}

	n := &node{key: key, entry: Entry{
		TranslatedText: translatedText,
		Confidence:     confidence,
		InsertedAt:     time.Now(),
	}}
	el := c.order.PushFront(n)
	c.index[key] = el
}

// evictOldestLocked removes the least-recently-used entry, ties broken by
// oldest insert (the back of the list is already both: LRU ordering pushes
// fresh/touched entries to the front, so the tail is simultaneously the
// least-recently-used and, among equally stale entries, the oldest
// inserted).
func (c *Cache) evictOldestLocked() {
	back := c.order.Back()
	if back == nil {
		return
	}
	n := back.Value.(*node)
	delete(c.index, n.key)
	c.order.Remove(back)
}

// Clear empties the cache and resets statistics.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[string]*list.Element)
	c.order = list.New()
	c.hits = 0
	c.misses = 0
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// HitRate returns the cache's aggregate hit rate in [0, 1].
func (c *Cache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}
