package idle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func startExecutor(t *testing.T, opts Options) *Executor {
	t.Helper()
	e := New(opts, zap.NewNop())
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	return e
}

func TestTasksRunInFIFOOrder(t *testing.T) {
	e := startExecutor(t, Options{})

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	for i := 1; i <= 5; i++ {
		i := i
		e.AddTask(func() error {
			mu.Lock()
			order = append(order, i)
			if len(order) == 5 {
				close(done)
			}
			mu.Unlock()
			return nil
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i+1 {
			t.Fatalf("order = %v, want 1..5", order)
		}
	}
}

func TestAddTaskNeverSynchronous(t *testing.T) {
	e := startExecutor(t, Options{})

	var ran bool
	var mu sync.Mutex
	e.AddTask(func() error {
		mu.Lock()
		ran = true
		mu.Unlock()
		return nil
	})

	// The task must not have run inside AddTask itself.
	mu.Lock()
	if ran {
		t.Error("task ran synchronously with AddTask")
	}
	mu.Unlock()
}

func TestFailingTaskDoesNotBlockNext(t *testing.T) {
	e := startExecutor(t, Options{})

	done := make(chan struct{})
	e.AddTask(func() error { return errors.New("disk full") })
	e.AddTask(func() error { panic("worse") })
	e.AddTask(func() error { close(done); return nil })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task after failures never ran")
	}
}

func TestBudgetCarriesRemainderToNextSlot(t *testing.T) {
	// A tiny budget forces multiple slots.
	e := startExecutor(t, Options{MaxWorkPerIdle: time.Millisecond, SlotInterval: time.Millisecond})

	var count int
	var mu sync.Mutex
	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		e.AddTask(func() error {
			time.Sleep(500 * time.Microsecond)
			mu.Lock()
			count++
			if count == 20 {
				close(done)
			}
			mu.Unlock()
			return nil
		})
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("not all tasks completed across slots")
	}
}

func TestStopDrainsPendingTasks(t *testing.T) {
	e := New(Options{}, zap.NewNop())
	e.Start(context.Background())

	var mu sync.Mutex
	var count int
	for i := 0; i < 10; i++ {
		e.AddTask(func() error {
			mu.Lock()
			count++
			mu.Unlock()
			return nil
		})
	}
	e.Stop()

	mu.Lock()
	defer mu.Unlock()
	if count != 10 {
		t.Errorf("ran %d tasks, want 10 (Stop must flush)", count)
	}
}
