package idle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of deferred work. Errors are logged, never retried.
type Task func() error

// Options tunes the executor.
type Options struct {
	// MaxWorkPerIdle bounds how long one idle slot may run before the
	// remainder of the queue is pushed to the next slot.
	MaxWorkPerIdle time.Duration
	// SlotInterval is the gap between idle slots while work remains.
	SlotInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxWorkPerIdle <= 0 {
		o.MaxWorkPerIdle = 10 * time.Millisecond
	}
	if o.SlotInterval <= 0 {
		o.SlotInterval = 4 * time.Millisecond
	}
	return o
}

// Executor runs persistence and indexing work in bounded idle slots so it
// never competes with the inbound drain loop for long stretches.
// Tasks run in FIFO order and never synchronously with AddTask.
type Executor struct {
	mu    sync.Mutex
	tasks []Task

	opts   Options
	logger *zap.Logger

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an executor.
func New(opts Options, logger *zap.Logger) *Executor {
	return &Executor{
		opts:   opts.withDefaults(),
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// AddTask schedules fn for a later idle slot.
func (e *Executor) AddTask(fn Task) {
	e.mu.Lock()
	e.tasks = append(e.tasks, fn)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of tasks not yet run.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

// Start launches the slot loop.
func (e *Executor) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.loop(ctx)
}

// Stop cancels the loop, then drains remaining tasks once so queued
// persistence work is not lost on shutdown.
func (e *Executor) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
	for {
		fn := e.pop()
		if fn == nil {
			return
		}
		e.run(fn)
	}
}

func (e *Executor) loop(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-e.wake:
		case <-ctx.Done():
			return
		}
		for e.slot() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.opts.SlotInterval):
			}
		}
	}
}

// slot runs tasks until the queue empties or the per-slot budget elapses.
// Returns true when tasks remain.
func (e *Executor) slot() bool {
	deadline := time.Now().Add(e.opts.MaxWorkPerIdle)
	for time.Now().Before(deadline) {
		fn := e.pop()
		if fn == nil {
			return false
		}
		e.run(fn)
	}
	return e.Pending() > 0
}

func (e *Executor) pop() Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.tasks) == 0 {
		return nil
	}
	fn := e.tasks[0]
	e.tasks = e.tasks[1:]
	return fn
}

// run executes one task in isolation.
func (e *Executor) run(fn Task) {
	defer func() {
		if r := recover(); r != nil {
			if e.logger != nil {
				e.logger.Error("idle task panicked", zap.Any("panic", r))
			}
		}
	}()
	if err := fn(); err != nil && e.logger != nil {
		e.logger.Warn("idle task failed", zap.Error(err))
	}
}
