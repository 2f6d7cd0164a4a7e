package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pablasso/taskd/internal/task"
)

func TestEmit_FansOutToEveryObserver(t *testing.T) {
	var mu sync.Mutex
	var kinds []Kind

	s := New(func(err error) { t.Fatalf("unexpected observer error: %v", err) })
	for i := 0; i < 3; i++ {
		s.Register(func(ctx context.Context, ev Event) error {
			mu.Lock()
			defer mu.Unlock()
			kinds = append(kinds, ev.Kind)
			return nil
		})
	}

	s.Emit(context.Background(), Event{Kind: KindStarted, Task: task.Task{ID: 1}})

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 3 {
		t.Fatalf("expected 3 observer invocations, got %d", len(kinds))
	}
	for _, k := range kinds {
		if k != KindStarted {
			t.Errorf("expected KindStarted, got %v", k)
		}
	}
}

func TestEmit_ObserverErrorDoesNotStopOthers(t *testing.T) {
	var mu sync.Mutex
	var errs []error
	var secondRan bool

	s := New(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	})
	s.Register(func(ctx context.Context, ev Event) error {
		return errors.New("boom")
	})
	s.Register(func(ctx context.Context, ev Event) error {
		secondRan = true
		return nil
	})

	s.Emit(context.Background(), Event{Kind: KindFailed})

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 {
		t.Fatalf("expected exactly 1 reported error, got %d: %v", len(errs), errs)
	}
	if !secondRan {
		t.Error("expected second observer to still run after first errored")
	}
}

func TestEmit_PanicIsRecoveredAndReported(t *testing.T) {
	var mu sync.Mutex
	var gotErr error

	s := New(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		gotErr = err
	})
	s.Register(func(ctx context.Context, ev Event) error {
		panic("observer exploded")
	})

	s.Emit(context.Background(), Event{Kind: KindCompleted})

	mu.Lock()
	defer mu.Unlock()
	if gotErr == nil {
		t.Fatal("expected panic to be reported as an error")
	}
}

func TestEmit_ObserverTimeoutIsReported(t *testing.T) {
	var mu sync.Mutex
	var gotErr error
	done := make(chan struct{})

	s := New(func(err error) {
		mu.Lock()
		gotErr = err
		mu.Unlock()
		close(done)
	})
	s.observerTimeout = 10 * time.Millisecond
	s.Register(func(ctx context.Context, ev Event) error {
		<-ctx.Done()
		return ctx.Err()
	})

	s.Emit(context.Background(), Event{Kind: KindStarted})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for observer timeout to be reported")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotErr == nil {
		t.Fatal("expected timeout to be reported as an error")
	}
}

func TestEmit_NoObserversIsANoop(t *testing.T) {
	s := New(func(err error) { t.Fatalf("unexpected error: %v", err) })
	s.Emit(context.Background(), Event{Kind: KindStarted})
}
