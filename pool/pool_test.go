package pool

import (
	"testing"
	"time"
)

func TestPoolAcquireRelease(t *testing.T) {
	t.Parallel()

	p := NewAudioBufferPool(2, 4)

	h1, err := p.Acquire(0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	stats := p.Statistics()
	if stats.InUse != 1 {
		t.Errorf("InUse = %d, want 1", stats.InUse)
	}
	if stats.Free != 1 {
		t.Errorf("Free = %d, want 1", stats.Free)
	}

	h1.Release()
	stats = p.Statistics()
	if stats.InUse != 0 {
		t.Errorf("InUse after release = %d, want 0", stats.InUse)
	}
	if stats.Free != 2 {
		t.Errorf("Free after release = %d, want 2", stats.Free)
	}
}

func TestPoolGrowsUpToMax(t *testing.T) {
	t.Parallel()

	p := NewAudioBufferPool(1, 2)

	h1, err := p.Acquire(0)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	h2, err := p.Acquire(0)
	if err != nil {
		t.Fatalf("acquire 2 (should grow): %v", err)
	}

	if _, err := p.Acquire(0); err == nil {
		t.Fatalf("expected pool exhaustion at max size")
	}

	h1.Release()
	h2.Release()
}

func TestPoolReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	p := NewAudioBufferPool(1, 2)
	h, err := p.Acquire(0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	h.Release()
	h.Release() // must not double-decrement InUse

	stats := p.Statistics()
	if stats.InUse != 0 {
		t.Errorf("InUse after double release = %d, want 0", stats.InUse)
	}
}

func TestAudioBufferGrowsCapacity(t *testing.T) {
	t.Parallel()

	p := NewAudioBufferPool(1, 2)
	h, err := p.Acquire(32000)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer h.Release()

	if h.Value.Capacity < 32000 {
		t.Errorf("Capacity = %d, want >= 32000", h.Value.Capacity)
	}
}

func TestResultPoolResetsBetweenAcquires(t *testing.T) {
	t.Parallel()

	p := NewResultPool(1, 2)
	h, err := p.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	h.Value.Text = "hello"
	h.Value.Confidence = 0.9
	h.Release()

	h2, err := p.Acquire()
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if h2.Value.Text != "" || h2.Value.Confidence != 0 {
		t.Errorf("reacquired record not reset: %+v", h2.Value)
	}
}

func TestPoolCleanupKeepsFloorOfOne(t *testing.T) {
	t.Parallel()

	p := NewAudioBufferPool(5, 10)
	time.Sleep(2 * time.Millisecond)
	p.Cleanup(time.Millisecond)

	stats := p.Statistics()
	if stats.Allocated < 1 {
		t.Errorf("Allocated = %d, want >= 1 after cleanup", stats.Allocated)
	}
}
