package utterance

import (
	"context"
	"testing"
	"time"

	"speechbridge/engine"
	"speechbridge/events"
	"speechbridge/scheduler"
	"speechbridge/streamstate"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *scheduler.Scheduler) {
	t.Helper()
	sched := scheduler.New(scheduler.Config{NumWorkers: 2, MaxQueueSize: 100, ThreadIdleTimeout: 20 * time.Millisecond})
	state := streamstate.New(streamstate.DefaultConfig())
	bus := events.New()
	stt := &engine.MockSpeechToText{Transcript: "hello", Confidence: 0.9}
	m := New(context.Background(), stt, sched, state, bus, cfg)
	t.Cleanup(func() {
		m.Shutdown()
		sched.Shutdown()
	})
	return m, sched
}

func TestCreateProcessTranscribesAndCompletes(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	m, sched := newTestManager(t, cfg)

	id, err := m.CreateUtterance("s1", "en", "ko")
	if err != nil {
		t.Fatalf("CreateUtterance() error = %v", err)
	}
	if err := m.AddAudio(id, []float32{0.1, 0.2, 0.3}); err != nil {
		t.Fatalf("AddAudio() error = %v", err)
	}
	if err := m.ProcessUtterance(id); err != nil {
		t.Fatalf("ProcessUtterance() error = %v", err)
	}

	sched.WaitAll()

	state, err := m.State(id)
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if state != Complete {
		t.Errorf("State() = %v, want Complete", state)
	}
}

func TestProcessUtteranceRejectsWrongState(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, DefaultConfig())
	id, err := m.CreateUtterance("s1", "en", "ko")
	if err != nil {
		t.Fatalf("CreateUtterance() error = %v", err)
	}

	if err := m.ProcessUtterance(id); err != nil {
		t.Fatalf("first ProcessUtterance() error = %v", err)
	}
	if err := m.ProcessUtterance(id); err == nil {
		t.Fatal("expected error processing an already-Transcribing utterance")
	}
}

func TestProcessUtteranceWithNoAudioFailsWithError(t *testing.T) {
	t.Parallel()

	m, sched := newTestManager(t, DefaultConfig())
	id, err := m.CreateUtterance("s1", "en", "ko")
	if err != nil {
		t.Fatalf("CreateUtterance() error = %v", err)
	}
	if err := m.ProcessUtterance(id); err != nil {
		t.Fatalf("ProcessUtterance() error = %v", err)
	}

	sched.WaitAll()

	state, _ := m.State(id)
	if state != Error {
		t.Errorf("State() = %v, want Error for utterance with no queued audio", state)
	}
}

func TestReadyOrderOrdersByCreationThenID(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, DefaultConfig())
	id1, _ := m.CreateUtterance("s1", "en", "ko")
	id2, _ := m.CreateUtterance("s1", "en", "ko")

	order := m.ReadyOrder("s1")
	if len(order) != 2 || order[0] != id1 || order[1] != id2 {
		t.Errorf("ReadyOrder() = %v, want [%d %d]", order, id1, id2)
	}
}

func TestNewSessionIDIsUniqueAndUsableAsSessionID(t *testing.T) {
	t.Parallel()

	a := NewSessionID()
	b := NewSessionID()
	if a == "" || b == "" {
		t.Fatal("NewSessionID() returned empty string")
	}
	if a == b {
		t.Fatalf("NewSessionID() returned the same id twice: %q", a)
	}

	m, _ := newTestManager(t, DefaultConfig())
	if _, err := m.CreateUtterance(a, "en", "ko"); err != nil {
		t.Fatalf("CreateUtterance() with generated session id error = %v", err)
	}
}

func TestCheckTimeoutsFailsExpiredUtterance(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.UtteranceTimeout = 5 * time.Millisecond
	m, _ := newTestManager(t, cfg)

	id, _ := m.CreateUtterance("s1", "en", "ko")
	time.Sleep(20 * time.Millisecond)
	m.CheckTimeouts()

	state, err := m.State(id)
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if state != Error {
		t.Errorf("State() = %v, want Error after timeout", state)
	}
}
