package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecordsFirstErrorAndCancels(t *testing.T) {
	sup := NewSupervisor(context.Background(), WithCancelOnError(true))
	boom := errors.New("boom")
	sup.Go("fails", func(ctx context.Context) error { return boom })
	sup.Go0("waits", func(ctx context.Context) { <-ctx.Done() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sup.Wait(ctx)
	if !errors.Is(err, boom) {
		t.Fatalf("Wait() = %v, want boom", err)
	}
	if sup.Active() != 0 {
		t.Fatalf("Active = %d, want 0", sup.Active())
	}
}

func TestGoRecoversPanic(t *testing.T) {
	sup := NewSupervisor(context.Background())
	sup.Go0("panics", func(ctx context.Context) { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Wait(ctx); err == nil {
		t.Fatal("expected panic to surface as error")
	}
	if sup.Context().Err() != nil {
		t.Fatal("context canceled without WithCancelOnError")
	}
}

func TestGoRestartRetriesUntilClean(t *testing.T) {
	sup := NewSupervisor(context.Background())
	var runs atomic.Int32
	sup.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("not yet")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
}

func TestStopCancelsLoops(t *testing.T) {
	sup := NewSupervisor(context.Background())
	sup.GoRestart("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Stop(ctx); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
}

func TestBackoffDoublesAndResets(t *testing.T) {
	b := backoff{min: 10 * time.Millisecond, max: 50 * time.Millisecond}
	var got []time.Duration
	for range 5 {
		got = append(got, b.next(time.Millisecond))
	}
	want := []time.Duration{10, 20, 40, 50, 50}
	for i := range want {
		if got[i] != want[i]*time.Millisecond {
			t.Fatalf("delays = %v", got)
		}
	}
	if d := b.next(healthyRun); d != b.min {
		t.Fatalf("after healthy run = %v, want %v", d, b.min)
	}
}
