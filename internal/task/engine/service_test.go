package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestEnqueueBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue() = %v, want ErrStopped", err)
	}
}

func TestTasksRunSeriallyInOrder(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{QueueSize: 16})

	var (
		mu      sync.Mutex
		order   []int
		running int
		overlap bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		err := s.Enqueue(Task{Name: "step", Run: func(context.Context) error {
			defer wg.Done()
			mu.Lock()
			running++
			if running > 1 {
				overlap = true
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			running--
			order = append(order, i)
			mu.Unlock()
			return nil
		}})
		if err != nil {
			t.Fatalf("Enqueue(%d) = %v", i, err)
		}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Fatal("tasks overlapped")
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestPanicAndTimeoutAreRecorded(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{DefaultTimeout: 20 * time.Millisecond})

	done := make(chan struct{})
	_ = s.Enqueue(Task{Name: "panics", Run: func(context.Context) error { panic("boom") }})
	_ = s.Enqueue(Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	_ = s.Enqueue(Task{Name: "last", Run: func(context.Context) error { close(done); return nil }})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panic")
	}

	deadline := time.Now().Add(time.Second)
	for len(s.Snapshot().History) < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	snap := s.Snapshot()
	if snap.Failed != 2 {
		t.Fatalf("Failed = %d, want 2", snap.Failed)
	}
	if len(snap.History) != 3 || snap.History[1].Error == "" {
		t.Fatalf("History = %+v", snap.History)
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{QueueSize: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	_ = s.Enqueue(Task{Name: "block", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}})
	<-started
	defer close(release)

	noop := func(context.Context) error { return nil }
	if err := s.Enqueue(Task{Name: "fills", Run: noop}); err != nil {
		t.Fatalf("Enqueue() = %v", err)
	}
	if err := s.Enqueue(Task{Name: "overflow", Run: noop}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue() = %v, want ErrQueueFull", err)
	}
	if s.Snapshot().Dropped != 1 {
		t.Fatalf("Dropped = %d", s.Snapshot().Dropped)
	}
}
