package streammt

import (
	"context"
	"testing"
	"time"

	"speechbridge/engine"
)

func testManager() *Manager {
	cfg := DefaultConfig()
	cfg.SessionTimeout = 20 * time.Millisecond
	cfg.CleanupInterval = 5 * time.Millisecond
	return New(context.Background(), &engine.MockTranslationEngine{}, cfg)
}

func TestStartRejectsDuplicateSession(t *testing.T) {
	t.Parallel()
	m := testManager()
	defer m.Shutdown()

	if err := m.Start("s1", "en", "ko"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start("s1", "en", "ko"); err == nil {
		t.Fatal("expected AlreadyExists error on duplicate Start")
	}
}

func TestStartRejectsUnsupportedPair(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	m := New(context.Background(), &engine.MockTranslationEngine{Supported: map[string]bool{}}, cfg)
	defer m.Shutdown()

	if err := m.Start("s1", "ja", "ko"); err == nil {
		t.Fatal("expected Unsupported error")
	}
}

func TestPushAccumulatesAndMarksPartial(t *testing.T) {
	t.Parallel()
	m := testManager()
	defer m.Shutdown()

	if err := m.Start("s1", "en", "ko"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	result, err := m.Push(context.Background(), "s1", "hello", false)
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if !result.IsPartial {
		t.Error("expected partial result for non-final push")
	}

	final, err := m.Push(context.Background(), "s1", "world", true)
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if final.IsPartial {
		t.Error("expected non-partial result for final push")
	}
}

func TestFinalizeDestroysSession(t *testing.T) {
	t.Parallel()
	m := testManager()
	defer m.Shutdown()

	_ = m.Start("s1", "en", "ko")
	_, _ = m.Push(context.Background(), "s1", "hello", false)

	if _, err := m.Finalize("s1"); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if m.Has("s1") {
		t.Error("expected session to be destroyed after Finalize")
	}
}

func TestCancelDestroysSessionWithoutResult(t *testing.T) {
	t.Parallel()
	m := testManager()
	defer m.Shutdown()

	_ = m.Start("s1", "en", "ko")
	m.Cancel("s1")

	if m.Has("s1") {
		t.Error("expected session to be destroyed after Cancel")
	}
}

func TestPushOnMissingSessionErrors(t *testing.T) {
	t.Parallel()
	m := testManager()
	defer m.Shutdown()

	if _, err := m.Push(context.Background(), "nope", "hi", false); err == nil {
		t.Fatal("expected error pushing to nonexistent session")
	}
}

func TestIdleSessionIsSweptAfterTimeout(t *testing.T) {
	t.Parallel()
	m := testManager()
	defer m.Shutdown()

	_ = m.Start("s1", "en", "ko")

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if !m.Has("s1") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected idle session to be swept")
}
