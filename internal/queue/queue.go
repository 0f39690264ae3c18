package queue

import (
	"context"
	"sync"
	"time"

	"github.com/linnet-im/linnet/internal/protocol"
	"go.uber.org/zap"
)

// Handler processes one drained envelope. A panic inside the handler is
// caught and logged; it never stops the drain loop.
type Handler func(protocol.Envelope)

// Options tunes drain behavior.
type Options struct {
	// MaxFrameTime bounds how long one drain cycle may run, so ingestion
	// never starves the rest of the event loop.
	MaxFrameTime time.Duration
	// InitialBatchSize is the starting items-per-cycle ceiling.
	InitialBatchSize int
	// MaxBatchSize is the ceiling the batch grows toward under sustained load.
	MaxBatchSize int
	// BackpressureThreshold is the total depth above which the batch is
	// forced to MaxBatchSize.
	BackpressureThreshold int
	// EnablePriority selects lane ordering; false means strict FIFO.
	EnablePriority bool
}

func (o Options) withDefaults() Options {
	if o.MaxFrameTime <= 0 {
		o.MaxFrameTime = 6 * time.Millisecond
	}
	if o.InitialBatchSize <= 0 {
		o.InitialBatchSize = 8
	}
	if o.MaxBatchSize < o.InitialBatchSize {
		o.MaxBatchSize = o.InitialBatchSize
	}
	if o.BackpressureThreshold <= 0 {
		o.BackpressureThreshold = 256
	}
	return o
}

type item struct {
	env      protocol.Envelope
	enqueued time.Time
	resolved chan struct{}
}

// Queue buffers inbound envelopes in four priority lanes and drains them in
// time-boxed batches. Push never fails and never blocks; under backpressure
// the batch grows and the low lane may be starved indefinitely in favor of
// urgent traffic.
type Queue struct {
	mu    sync.Mutex
	lanes [protocol.NumPriorities][]*item
	batch int

	opts    Options
	handler Handler
	logger  *zap.Logger

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a queue draining into handler.
func New(opts Options, handler Handler, logger *zap.Logger) *Queue {
	opts = opts.withDefaults()
	return &Queue{
		opts:    opts,
		batch:   opts.InitialBatchSize,
		handler: handler,
		logger:  logger,
		wake:    make(chan struct{}, 1),
	}
}

// Push enqueues an envelope. The returned channel is closed once the item
// has been drained and its handler has run.
func (q *Queue) Push(env protocol.Envelope, prio protocol.Priority) <-chan struct{} {
	if !q.opts.EnablePriority {
		prio = protocol.Normal
	}
	it := &item{env: env, enqueued: time.Now(), resolved: make(chan struct{})}

	q.mu.Lock()
	q.lanes[prio] = append(q.lanes[prio], it)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return it.resolved
}

// PushEnvelope enqueues with the priority derived from the opcode.
func (q *Queue) PushEnvelope(env protocol.Envelope) <-chan struct{} {
	return q.Push(env, protocol.PriorityFor(env.Code))
}

// Depth returns the total number of queued items across all lanes.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, lane := range q.lanes {
		n += len(lane)
	}
	return n
}

// Start launches the drain loop.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	q.done = make(chan struct{})
	go q.loop(ctx)
}

// Stop cancels the drain loop and waits for it to exit. Items still queued
// are never redelivered; redelivery is the transport's concern.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
		<-q.done
	}
}

func (q *Queue) loop(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-q.wake:
		case <-ctx.Done():
			return
		}
		for q.drainCycle() {
			// Yield between cycles so timers and other goroutines run;
			// the gap stands in for frame alignment.
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
		}
	}
}

// drainCycle processes up to one batch within the frame budget.
// Returns true when items remain.
func (q *Queue) drainCycle() bool {
	deadline := time.Now().Add(q.opts.MaxFrameTime)
	batch := q.nextBatchSize()

	// Urgent items bypass batching entirely: drain the lane dry first.
	for {
		it := q.pop(protocol.Urgent, protocol.Urgent)
		if it == nil {
			break
		}
		q.process(it)
	}

	processed := 0
	for processed < batch && time.Now().Before(deadline) {
		it := q.pop(protocol.Urgent, protocol.Low)
		if it == nil {
			break
		}
		q.process(it)
		processed++
	}

	q.adjustBatch(processed, batch)
	return q.Depth() > 0
}

// nextBatchSize applies backpressure: above the threshold the batch is
// forced to the ceiling so the queue drains faster.
func (q *Queue) nextBatchSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	depth := 0
	for _, lane := range q.lanes {
		depth += len(lane)
	}
	if depth > q.opts.BackpressureThreshold {
		return q.opts.MaxBatchSize
	}
	return q.batch
}

// adjustBatch grows the ceiling under sustained load and resets it once
// the queue has been drained.
func (q *Queue) adjustBatch(processed, batch int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	empty := true
	for _, lane := range q.lanes {
		if len(lane) > 0 {
			empty = false
			break
		}
	}
	switch {
	case empty:
		q.batch = q.opts.InitialBatchSize
	case processed >= batch:
		q.batch = min(q.batch*2, q.opts.MaxBatchSize)
	}
}

// pop removes the oldest item from the highest non-empty lane in [from, to].
func (q *Queue) pop(from, to protocol.Priority) *item {
	q.mu.Lock()
	defer q.mu.Unlock()
	for p := from; p <= to; p++ {
		if len(q.lanes[p]) > 0 {
			it := q.lanes[p][0]
			q.lanes[p] = q.lanes[p][1:]
			return it
		}
	}
	return nil
}

// process runs the handler for one item in isolation and resolves it.
func (q *Queue) process(it *item) {
	defer close(it.resolved)
	defer func() {
		if r := recover(); r != nil {
			if q.logger != nil {
				q.logger.Error("queue consumer panicked",
					zap.Int("code", it.env.Code),
					zap.Any("panic", r))
			}
		}
	}()
	q.handler(it.env)
}
