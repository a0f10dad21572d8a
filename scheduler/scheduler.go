// Package scheduler implements the priority- and affinity-aware worker pool
// the pipeline's stage tasks run on, with work stealing between per-worker
// queues and a shared overflow queue. It is the Go rewrite of the original
// OptimizedThreadPool.
package scheduler

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"speechbridge/pipelineerr"
)

// Priority levels, highest first in scheduling order.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Critical
)

// Config mirrors the original PoolConfig.
type Config struct {
	NumWorkers          int           // 0 = auto-detect (GOMAXPROCS)
	MaxQueueSize        int           // per-worker + global queue size bound
	ThreadIdleTimeout   time.Duration // bounded wait when polling the global queue
	EnableWorkStealing  bool
	EnableThreadAffinity bool // best-effort; Go has no portable CPU pinning, see pinToCore
}

// DefaultConfig returns the original's defaults.
func DefaultConfig() Config {
	return Config{
		NumWorkers:         0,
		MaxQueueSize:       10000,
		ThreadIdleTimeout:  5 * time.Second,
		EnableWorkStealing: true,
	}
}

// Statistics mirrors the original PoolStatistics.
type Statistics struct {
	NumWorkers         int
	Active             int64
	Queued             int
	Completed          int64
	Failed             int64
	WorkStealingEvents int64
	AverageTaskTime    time.Duration
	AverageQueueWait   time.Duration
}

type task struct {
	priority  Priority
	fn        func(ctx context.Context) (any, error)
	queuedAt  time.Time
	resultCh  chan taskResult // nil for submit_void
}

type taskResult struct {
	value any
	err   error
}

// Future is returned by Submit; it resolves when the task completes,
// successfully or not.
type Future struct {
	ch chan taskResult
}

// Wait blocks until the task completes and returns its result.
func (f *Future) Wait() (any, error) {
	r := <-f.ch
	return r.value, r.err
}

// WaitContext blocks until the task completes or ctx is done.
func (f *Future) WaitContext(ctx context.Context) (any, error) {
	select {
	case r := <-f.ch:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitFutures waits on every future concurrently, returning their results
// in input order. It stops waiting as soon as ctx is done or one future
// returns an error, the same fail-fast semantics errgroup.Group gives a
// fan-out over independently scheduled tasks (e.g. draining several ready
// utterances submitted at once).
func WaitFutures(ctx context.Context, futures ...*Future) ([]any, error) {
	results := make([]any, len(futures))
	g, gctx := errgroup.WithContext(ctx)
	for i, fut := range futures {
		i, fut := i, fut
		g.Go(func() error {
			v, err := fut.WaitContext(gctx)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Scheduler is the worker pool. Each worker owns a double-ended priority
// queue; submit picks the least-loaded worker queue, workers steal
// normal/low tasks from each other's tails when idle, and fall back to a
// shared global overflow queue.
type Scheduler struct {
	cfg     Config
	queues  []*workerQueue
	global  *workerQueue
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	active             int64
	completed          int64
	failed             int64
	workStealingEvents int64

	statsMu      sync.Mutex
	totalTaskNs  int64
	totalWaitNs  int64
	sampleCount  int64

	activityMu sync.Mutex
	activityCh chan struct{} // closed/replaced to wake wait_all waiters
}

// New starts a scheduler with the given configuration.
func New(cfg Config) *Scheduler {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = runtime.GOMAXPROCS(0)
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultConfig().MaxQueueSize
	}
	if cfg.ThreadIdleTimeout <= 0 {
		cfg.ThreadIdleTimeout = DefaultConfig().ThreadIdleTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		global:     newWorkerQueue(cfg.MaxQueueSize),
		activityCh: make(chan struct{}),
	}
	for i := 0; i < cfg.NumWorkers; i++ {
		s.queues = append(s.queues, newWorkerQueue(cfg.MaxQueueSize))
	}
	for i := 0; i < cfg.NumWorkers; i++ {
		s.wg.Add(1)
		go s.workerLoop(i)
	}
	return s
}

// Submit enqueues fn at the given priority and returns a Future for its
// result. If both the chosen worker queue and the global overflow queue
// are saturated, the returned Future resolves immediately with
// ErrQueueFull instead of fn ever running.
func (s *Scheduler) Submit(priority Priority, fn func(ctx context.Context) (any, error)) *Future {
	t := &task{priority: priority, fn: fn, queuedAt: time.Now(), resultCh: make(chan taskResult, 1)}
	if err := s.enqueue(t); err != nil {
		t.resultCh <- taskResult{err: err}
	}
	return &Future{ch: t.resultCh}
}

// SubmitVoid enqueues fn without a result future. It rejects with
// ErrQueueFull once both the chosen worker queue and the global overflow
// queue are saturated.
func (s *Scheduler) SubmitVoid(priority Priority, fn func(ctx context.Context)) error {
	t := &task{priority: priority, fn: func(ctx context.Context) (any, error) {
		fn(ctx)
		return nil, nil
	}, queuedAt: time.Now()}
	return s.enqueue(t)
}

// enqueue places t on the least-loaded worker queue, spilling to the
// shared global overflow queue once that worker queue is saturated. It
// rejects with ErrQueueFull only once the global queue is saturated too.
func (s *Scheduler) enqueue(t *task) error {
	q := s.pickQueue()
	if q.size() < s.cfg.MaxQueueSize {
		q.push(t)
		s.signalActivity()
		return nil
	}
	if s.global.size() >= s.cfg.MaxQueueSize {
		return pipelineerr.ErrQueueFull
	}
	s.global.push(t)
	s.signalActivity()
	return nil
}

// pickQueue implements "the worker queue with minimum size wins".
func (s *Scheduler) pickQueue() *workerQueue {
	best := s.queues[0]
	bestSize := best.size()
	for _, q := range s.queues[1:] {
		if sz := q.size(); sz < bestSize {
			best, bestSize = q, sz
			if bestSize == 0 {
				break
			}
		}
	}
	return best
}

func (s *Scheduler) signalActivity() {
	s.activityMu.Lock()
	close(s.activityCh)
	s.activityCh = make(chan struct{})
	s.activityMu.Unlock()
}

func (s *Scheduler) workerLoop(id int) {
	defer s.wg.Done()
	if s.cfg.EnableThreadAffinity {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		pinToCore(id)
	}
	own := s.queues[id]

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		t, ok := own.tryPop()
		if !ok {
			t, ok = s.trySteal(id)
		}
		if !ok {
			t, ok = s.global.tryPop()
		}
		if !ok {
			t, ok = own.waitAndPop(s.ctx, s.cfg.ThreadIdleTimeout)
		}
		if !ok {
			t, ok = s.global.waitAndPop(s.ctx, s.cfg.ThreadIdleTimeout)
		}
		if !ok {
			continue
		}

		s.runTask(t)
	}
}

func (s *Scheduler) trySteal(id int) (*task, bool) {
	if !s.cfg.EnableWorkStealing {
		return nil, false
	}
	for i, q := range s.queues {
		if i == id {
			continue
		}
		if t, ok := q.tryStealLow(); ok {
			atomic.AddInt64(&s.workStealingEvents, 1)
			return t, true
		}
	}
	return nil, false
}

func (s *Scheduler) runTask(t *task) {
	atomic.AddInt64(&s.active, 1)
	waitDur := time.Since(t.queuedAt)

	start := time.Now()
	value, err := func() (v any, e error) {
		defer func() {
			if r := recover(); r != nil {
				e = pipelineerr.Wrap(pipelineerr.KindInternal, "scheduler", "task panicked", asError(r))
			}
		}()
		return t.fn(s.ctx)
	}()
	dur := time.Since(start)

	atomic.AddInt64(&s.active, -1)
	if err != nil {
		atomic.AddInt64(&s.failed, 1)
	} else {
		atomic.AddInt64(&s.completed, 1)
	}

	s.statsMu.Lock()
	s.totalTaskNs += dur.Nanoseconds()
	s.totalWaitNs += waitDur.Nanoseconds()
	s.sampleCount++
	s.statsMu.Unlock()

	if t.resultCh != nil {
		t.resultCh <- taskResult{value: value, err: err}
	}
	s.signalActivity()
}

func asError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return pipelineerr.New(pipelineerr.KindInternal, "scheduler", "non-error panic value")
}

// WaitAll blocks until no task is active and every queue is empty.
func (s *Scheduler) WaitAll() {
	for {
		if atomic.LoadInt64(&s.active) == 0 && s.allQueuesEmpty() {
			return
		}
		s.activityMu.Lock()
		ch := s.activityCh
		s.activityMu.Unlock()
		select {
		case <-ch:
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (s *Scheduler) allQueuesEmpty() bool {
	if s.global.size() > 0 {
		return false
	}
	for _, q := range s.queues {
		if q.size() > 0 {
			return false
		}
	}
	return true
}

// Statistics returns a point-in-time snapshot.
func (s *Scheduler) Statistics() Statistics {
	s.statsMu.Lock()
	avgTask := time.Duration(0)
	avgWait := time.Duration(0)
	if s.sampleCount > 0 {
		avgTask = time.Duration(s.totalTaskNs / s.sampleCount)
		avgWait = time.Duration(s.totalWaitNs / s.sampleCount)
	}
	s.statsMu.Unlock()

	queued := s.global.size()
	for _, q := range s.queues {
		queued += q.size()
	}

	return Statistics{
		NumWorkers:         len(s.queues),
		Active:             atomic.LoadInt64(&s.active),
		Queued:             queued,
		Completed:          atomic.LoadInt64(&s.completed),
		Failed:             atomic.LoadInt64(&s.failed),
		WorkStealingEvents: atomic.LoadInt64(&s.workStealingEvents),
		AverageTaskTime:    avgTask,
		AverageQueueWait:   avgWait,
	}
}

// Shutdown stops all worker goroutines. In-flight tasks run to completion;
// queued-but-not-started tasks are abandoned.
func (s *Scheduler) Shutdown() {
	s.cancel()
	s.wg.Wait()
}
