// Tests for placeholder registration, resolution and waiting.

package pending

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRegistry_Lifecycle(t *testing.T) {
	r := New()
	if r.IsPending("tmp-1") {
		t.Fatal("unknown id must not be pending")
	}
	r.Register("tmp-1")
	r.Register("tmp-1")
	if !r.IsPending("tmp-1") {
		t.Fatal("expected pending after register")
	}
	if got := r.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
	r.Resolve("tmp-1", "real-1")
	if r.IsPending("tmp-1") {
		t.Fatal("expected not pending after resolve")
	}
	rec, ok := r.Lookup("tmp-1")
	if !ok || !rec.Ready || rec.RealID != "real-1" {
		t.Fatalf("Lookup() = %+v, %v", rec, ok)
	}
	// Second resolve is ignored.
	r.Resolve("tmp-1", "real-2")
	if rec, _ := r.Lookup("tmp-1"); rec.RealID != "real-1" {
		t.Errorf("RealID = %q after second resolve", rec.RealID)
	}
}

func TestRegistry_ResolveFallsBackToTempID(t *testing.T) {
	r := New()
	r.Register("tmp-1")
	r.Resolve("tmp-1", "")
	rec, ok := r.Lookup("tmp-1")
	if !ok || !rec.Ready || rec.RealID != "tmp-1" {
		t.Fatalf("Lookup() = %+v, %v", rec, ok)
	}
}

func TestRegistry_Discard(t *testing.T) {
	r := New()
	r.Register("tmp-1")
	r.Discard("tmp-1")
	r.Discard("tmp-1")
	if r.IsPending("tmp-1") {
		t.Fatal("expected not pending after discard")
	}
	if _, ok := r.Lookup("tmp-1"); ok {
		t.Fatal("expected record removed")
	}
}

func TestRegistry_Await(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown id resolves immediately", func(t *testing.T) {
		r := New()
		got, err := r.Await(ctx, "c-1")
		if err != nil || got != "c-1" {
			t.Fatalf("Await() = %q, %v", got, err)
		}
	})

	t.Run("resolves only after Resolve", func(t *testing.T) {
		r := New()
		r.Register("tmp-1")
		type res struct {
			id  string
			err error
			at  time.Time
		}
		ch := make(chan res, 1)
		go func() {
			id, err := r.Await(ctx, "tmp-1")
			ch <- res{id, err, time.Now()}
		}()
		select {
		case got := <-ch:
			t.Fatalf("Await returned before Resolve: %+v", got)
		case <-time.After(50 * time.Millisecond):
		}
		before := time.Now()
		r.Resolve("tmp-1", "real-1")
		got := <-ch
		if got.err != nil || got.id != "real-1" {
			t.Fatalf("Await() = %q, %v", got.id, got.err)
		}
		if got.at.Before(before) {
			t.Error("Await returned before Resolve ran")
		}
	})

	t.Run("already resolved", func(t *testing.T) {
		r := New()
		r.Register("tmp-1")
		r.Resolve("tmp-1", "real-1")
		got, err := r.Await(ctx, "tmp-1")
		if err != nil || got != "real-1" {
			t.Fatalf("Await() = %q, %v", got, err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		const ceiling = 80 * time.Millisecond
		r := New(WithTimeout(ceiling))
		r.Register("tmp-1")
		start := time.Now()
		_, err := r.Await(ctx, "tmp-1")
		elapsed := time.Since(start)
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("Await() error = %v, want ErrTimeout", err)
		}
		if elapsed < ceiling {
			t.Errorf("timed out after %v, before the %v ceiling", elapsed, ceiling)
		}
		if elapsed > ceiling+2*time.Second {
			t.Errorf("timed out after %v, far beyond the %v ceiling", elapsed, ceiling)
		}
	})

	t.Run("discarded while waiting", func(t *testing.T) {
		r := New()
		r.Register("tmp-1")
		go func() {
			time.Sleep(20 * time.Millisecond)
			r.Discard("tmp-1")
		}()
		if _, err := r.Await(ctx, "tmp-1"); !errors.Is(err, ErrDiscarded) {
			t.Fatalf("Await() error = %v, want ErrDiscarded", err)
		}
	})

	t.Run("context canceled", func(t *testing.T) {
		r := New()
		r.Register("tmp-1")
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := r.Await(cctx, "tmp-1"); !errors.Is(err, context.Canceled) {
			t.Fatalf("Await() error = %v, want context.Canceled", err)
		}
	})
}

func TestRegistry_Subscribe(t *testing.T) {
	r := New()
	var mu sync.Mutex
	var a, b []Event
	cancelA := r.Subscribe(func(e Event) {
		mu.Lock()
		a = append(a, e)
		mu.Unlock()
	})
	r.Subscribe(func(e Event) {
		mu.Lock()
		b = append(b, e)
		mu.Unlock()
	})
	r.Register("tmp-1")
	r.Resolve("tmp-1", "real-1")
	cancelA()
	r.Register("tmp-2")
	r.Discard("tmp-2")

	mu.Lock()
	defer mu.Unlock()
	if len(a) != 2 {
		t.Fatalf("first listener got %d events, want 2", len(a))
	}
	if a[1].Type != EventResolved || a[1].RealID != "real-1" {
		t.Errorf("unexpected event %+v", a[1])
	}
	if len(b) != 4 {
		t.Fatalf("second listener got %d events, want 4", len(b))
	}
	if b[3].Type != EventDiscarded || b[3].TempID != "tmp-2" {
		t.Errorf("unexpected event %+v", b[3])
	}
}

func TestRegistry_Retention(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := New(WithRetention(time.Minute))
	r.now = func() time.Time { return now }
	r.Register("tmp-1")
	r.Resolve("tmp-1", "real-1")
	now = now.Add(30 * time.Second)
	r.Register("tmp-2")
	if _, ok := r.Lookup("tmp-1"); !ok {
		t.Fatal("resolved record pruned too early")
	}
	now = now.Add(time.Minute)
	r.Register("tmp-3")
	if _, ok := r.Lookup("tmp-1"); ok {
		t.Fatal("resolved record not pruned")
	}
	if !r.IsPending("tmp-2") {
		t.Fatal("pending record must never be pruned")
	}
}
