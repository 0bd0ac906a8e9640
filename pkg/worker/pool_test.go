package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/veea/vbus/metric"
)

type testWork struct {
	id   int
	fail bool
}

func TestNewPool_Defaults(t *testing.T) {
	processor := func(context.Context, testWork) error { return nil }

	pool := NewPool(5, 100, processor)
	if pool.workers != 5 || pool.queueSize != 100 {
		t.Errorf("Expected 5 workers and queue 100, got %d and %d", pool.workers, pool.queueSize)
	}

	pool = NewPool(0, 0, processor)
	if pool.workers != 10 || pool.queueSize != 1000 {
		t.Errorf("Expected defaults 10 and 1000, got %d and %d", pool.workers, pool.queueSize)
	}

	if s := NewSerial(4, processor); s.workers != 1 {
		t.Errorf("Expected serial pool to have one worker, got %d", s.workers)
	}
}

func TestNewPool_NilProcessor(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic for nil processor")
		}
	}()
	NewPool[testWork](5, 100, nil)
}

func TestPool_Lifecycle(t *testing.T) {
	pool := NewPool(2, 10, func(context.Context, testWork) error { return nil })

	if err := pool.Submit(testWork{}); !errors.Is(err, ErrPoolNotStarted) {
		t.Errorf("Expected ErrPoolNotStarted, got %v", err)
	}

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	if err := pool.Start(ctx); !errors.Is(err, ErrPoolAlreadyStarted) {
		t.Errorf("Expected ErrPoolAlreadyStarted, got %v", err)
	}

	if err := pool.Stop(time.Second); err != nil {
		t.Fatalf("Failed to stop pool: %v", err)
	}
	if err := pool.Stop(time.Second); err != nil {
		t.Errorf("Second stop should be a no-op, got %v", err)
	}
	if err := pool.Submit(testWork{}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Expected ErrPoolStopped, got %v", err)
	}
	if err := pool.SubmitWait(ctx, testWork{}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Expected ErrPoolStopped from SubmitWait, got %v", err)
	}
}

func TestSerial_PreservesOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		got []int
	)
	pool := NewSerial(1000, func(_ context.Context, w testWork) error {
		mu.Lock()
		got = append(got, w.id)
		mu.Unlock()
		return nil
	})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}

	for i := 0; i < 500; i++ {
		if err := pool.SubmitWait(context.Background(), testWork{id: i}); err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
	}
	if err := pool.Stop(5 * time.Second); err != nil {
		t.Fatalf("Failed to stop pool: %v", err)
	}

	if len(got) != 500 {
		t.Fatalf("Expected 500 items, got %d", len(got))
	}
	for i, id := range got {
		if id != i {
			t.Fatalf("Item %d out of order: got %d", i, id)
		}
	}
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ testWork) error {
		<-release
		return nil
	})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	defer pool.Stop(time.Second)

	// The first item occupies the worker, the second fills the queue.
	if err := pool.Submit(testWork{id: 1}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for pool.Stats().QueueDepth != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := pool.Submit(testWork{id: 2}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if err := pool.Submit(testWork{id: 3}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.SubmitWait(ctx, testWork{id: 4}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected SubmitWait to time out, got %v", err)
	}

	if stats := pool.Stats(); stats.Dropped != 1 {
		t.Errorf("Expected 1 dropped item, got %d", stats.Dropped)
	}
	close(release)
}

func TestPool_ErrorHandler(t *testing.T) {
	var failed atomic.Int64
	pool := NewPool(2, 10,
		func(_ context.Context, w testWork) error {
			if w.fail {
				return errors.New("boom")
			}
			return nil
		},
		WithErrorHandler(func(w testWork, err error) {
			if !w.fail || err == nil {
				t.Errorf("Unexpected error callback for %+v: %v", w, err)
			}
			failed.Add(1)
		}),
	)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}

	for i := 0; i < 6; i++ {
		if err := pool.Submit(testWork{id: i, fail: i%2 == 0}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	if err := pool.Stop(time.Second); err != nil {
		t.Fatalf("Failed to stop pool: %v", err)
	}

	stats := pool.Stats()
	if stats.Processed != 6 || stats.Failed != 3 || failed.Load() != 3 {
		t.Errorf("Unexpected stats %+v, callbacks %d", stats, failed.Load())
	}
}

func TestPool_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(1, 1, func(ctx context.Context, _ testWork) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	if err := pool.Submit(testWork{}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	cancel()
	if err := pool.Stop(time.Second); err != nil {
		t.Errorf("Expected workers to exit after cancellation, got %v", err)
	}
}

func TestPool_StopTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	pool := NewPool(1, 1, func(context.Context, testWork) error {
		<-release
		return nil
	})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	if err := pool.Submit(testWork{}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if err := pool.Stop(20 * time.Millisecond); !errors.Is(err, ErrStopTimeout) {
		t.Errorf("Expected ErrStopTimeout, got %v", err)
	}
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool := NewSerial(10, func(context.Context, testWork) error { return nil },
		WithMetricsRegistry[testWork](registry, "test_pool"))
	if pool.metrics == nil {
		t.Fatal("Expected metrics to be initialized")
	}

	// A second pool with the same prefix runs without metrics.
	dup := NewSerial(10, func(context.Context, testWork) error { return nil },
		WithMetricsRegistry[testWork](registry, "test_pool"))
	if dup.metrics != nil {
		t.Error("Expected duplicate prefix to disable metrics")
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	_ = pool.Submit(testWork{})
	if err := pool.Stop(time.Second); err != nil {
		t.Fatalf("Failed to stop pool: %v", err)
	}

	families, err := registry.PrometheusRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "vbus_test_pool_processed_total" {
			found = true
		}
	}
	if !found {
		t.Error("Expected vbus_test_pool_processed_total to be registered")
	}
}
