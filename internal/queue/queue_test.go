package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/linnet-im/linnet/internal/protocol"
	"go.uber.org/zap"
)

// recorder collects handled opcodes in order.
type recorder struct {
	mu    sync.Mutex
	codes []int
}

func (r *recorder) handle(env protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, env.Code)
}

func (r *recorder) snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.codes...)
}

func startQueue(t *testing.T, opts Options, h Handler) *Queue {
	t.Helper()
	q := New(opts, h, zap.NewNop())
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

func TestUrgentResolvesBeforeEarlierLow(t *testing.T) {
	rec := &recorder{}
	q := New(Options{EnablePriority: true}, rec.handle, zap.NewNop())

	// LOW pushed first, URGENT second.
	lowDone := q.Push(protocol.Envelope{Code: protocol.OpHeartBeatSuccess}, protocol.Low)
	urgentDone := q.Push(protocol.Envelope{Code: protocol.OpForceLogout}, protocol.Urgent)

	q.Start(context.Background())
	defer q.Stop()

	select {
	case <-urgentDone:
	case <-time.After(time.Second):
		t.Fatal("urgent item never resolved")
	}
	select {
	case <-lowDone:
	case <-time.After(time.Second):
		t.Fatal("low item never resolved")
	}

	codes := rec.snapshot()
	if len(codes) != 2 || codes[0] != protocol.OpForceLogout || codes[1] != protocol.OpHeartBeatSuccess {
		t.Errorf("drain order = %v, want [FORCE_LOGOUT, HEART_BEAT_SUCCESS]", codes)
	}
}

func TestLaneOrderAcrossAllPriorities(t *testing.T) {
	rec := &recorder{}
	q := New(Options{EnablePriority: true}, rec.handle, zap.NewNop())

	q.Push(protocol.Envelope{Code: 4}, protocol.Low)
	q.Push(protocol.Envelope{Code: 3}, protocol.Normal)
	q.Push(protocol.Envelope{Code: 2}, protocol.High)
	last := q.Push(protocol.Envelope{Code: 1}, protocol.Urgent)

	q.Start(context.Background())
	defer q.Stop()

	<-last
	waitFor(t, func() bool { return len(rec.snapshot()) == 4 })

	codes := rec.snapshot()
	want := []int{1, 2, 3, 4}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("drain order = %v, want %v", codes, want)
		}
	}
}

func TestStrictFIFOWhenPriorityDisabled(t *testing.T) {
	rec := &recorder{}
	q := New(Options{EnablePriority: false}, rec.handle, zap.NewNop())

	q.Push(protocol.Envelope{Code: 1}, protocol.Low)
	q.Push(protocol.Envelope{Code: 2}, protocol.Urgent)
	done := q.Push(protocol.Envelope{Code: 3}, protocol.High)

	q.Start(context.Background())
	defer q.Stop()

	<-done
	waitFor(t, func() bool { return len(rec.snapshot()) == 3 })

	codes := rec.snapshot()
	for i, want := range []int{1, 2, 3} {
		if codes[i] != want {
			t.Fatalf("drain order = %v, want [1 2 3]", codes)
		}
	}
}

func TestConsumerPanicDoesNotStopDrain(t *testing.T) {
	rec := &recorder{}
	handler := func(env protocol.Envelope) {
		if env.Code == 13 {
			panic("bad message")
		}
		rec.handle(env)
	}
	q := startQueue(t, Options{EnablePriority: true}, handler)

	q.Push(protocol.Envelope{Code: 13}, protocol.Normal)
	done := q.Push(protocol.Envelope{Code: 7}, protocol.Normal)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("item after panicking item never resolved")
	}
	codes := rec.snapshot()
	if len(codes) != 1 || codes[0] != 7 {
		t.Errorf("handled = %v, want [7]", codes)
	}
}

func TestBackpressureUrgentNeverDelayed(t *testing.T) {
	rec := &recorder{}
	q := New(Options{
		EnablePriority:        true,
		InitialBatchSize:      2,
		MaxBatchSize:          8,
		BackpressureThreshold: 16,
	}, rec.handle, zap.NewNop())

	// Flood beyond the threshold with low-value traffic first.
	for i := 0; i < 64; i++ {
		q.Push(protocol.Envelope{Code: protocol.OpHeartBeat}, protocol.Low)
	}
	var urgent []<-chan struct{}
	for i := 0; i < 4; i++ {
		urgent = append(urgent, q.Push(protocol.Envelope{Code: protocol.OpForceLogout}, protocol.Urgent))
	}

	q.Start(context.Background())
	defer q.Stop()

	for _, ch := range urgent {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("urgent item delayed behind low flood")
		}
	}

	// Every urgent item drained before any heartbeat.
	codes := rec.snapshot()
	seen := 0
	for _, c := range codes {
		if c == protocol.OpForceLogout {
			seen++
		} else if seen < 4 {
			t.Fatalf("heartbeat drained before all urgent items: %v", codes)
		}
	}
}

func TestPushAfterStart(t *testing.T) {
	rec := &recorder{}
	q := startQueue(t, Options{EnablePriority: true}, rec.handle)

	done := q.PushEnvelope(protocol.Envelope{Code: protocol.OpSingleMessage})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("item never resolved")
	}
	if q.Depth() != 0 {
		t.Errorf("depth = %d, want 0", q.Depth())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}
