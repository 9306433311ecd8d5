package mutation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func runJob(fn func(ctx context.Context)) *job {
	return &job{run: fn, abort: func(error) {}}
}

func TestLane_SerialProcessing(t *testing.T) {
	var mu sync.Mutex
	var processed []int

	l := newLane(context.Background(), "k", 10, time.Second, nil, zap.NewNop())
	defer l.close()

	for i := 1; i <= 5; i++ {
		n := i
		if err := l.enqueue(runJob(func(ctx context.Context) {
			time.Sleep(5 * time.Millisecond) // 模拟网络耗时
			mu.Lock()
			processed = append(processed, n)
			mu.Unlock()
		})); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(processed) != 5 {
		t.Fatalf("expected 5 processed jobs, got %d", len(processed))
	}
	for i, n := range processed {
		if n != i+1 {
			t.Fatalf("order mismatch at %d: expected %d, got %d", i, i+1, n)
		}
	}
}

func TestLane_BackPressure(t *testing.T) {
	release := make(chan struct{})
	l := newLane(context.Background(), "k", 2, time.Second, nil, zap.NewNop())
	defer l.close()
	defer close(release)

	dropped := 0
	for i := 0; i < 10; i++ {
		err := l.enqueue(runJob(func(ctx context.Context) { <-release }))
		if errors.Is(err, ErrQueueFull) {
			dropped++
		}
	}
	if dropped == 0 {
		t.Fatalf("expected some jobs to be rejected by backpressure")
	}

	st := l.stats()
	if st.Dropped != int64(dropped) {
		t.Fatalf("expected %d dropped in stats, got %d", dropped, st.Dropped)
	}
	if st.Capacity != 2 {
		t.Fatalf("expected capacity 2, got %d", st.Capacity)
	}
}

// TestLane_CloseAbortsQueued 验证关闭时队列中的任务通过 abort 收尾，而不是被静默丢弃。
func TestLane_CloseAbortsQueued(t *testing.T) {
	started := make(chan struct{})
	l := newLane(context.Background(), "k", 10, time.Second, nil, zap.NewNop())

	_ = l.enqueue(runJob(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}))
	<-started

	var aborted int64
	for i := 0; i < 3; i++ {
		_ = l.enqueue(&job{
			run:   func(ctx context.Context) { t.Errorf("queued job should not run after close") },
			abort: func(err error) { atomic.AddInt64(&aborted, 1) },
		})
	}

	l.close()
	if got := atomic.LoadInt64(&aborted); got != 3 {
		t.Fatalf("expected 3 aborted jobs, got %d", got)
	}
	if err := l.enqueue(runJob(func(context.Context) {})); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

// TestCoordinator_ReapsIdleLane 验证空闲 lane 被回收，之后同 key 派发会新建 lane。
func TestCoordinator_ReapsIdleLane(t *testing.T) {
	c := New(Options{Timeout: time.Second, LaneCapacity: 4, LaneIdleAfter: 20 * time.Millisecond})
	defer c.Close()

	if _, err := Run(c, context.Background(), Op[int]{Key: "feed/list"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := len(c.Stats()); got != 1 {
		t.Fatalf("expected 1 live lane, got %d", got)
	}

	deadline := time.Now().Add(time.Second)
	for len(c.Stats()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected idle lane to be reaped")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := Run(c, context.Background(), Op[int]{Key: "feed/list"}); err != nil {
		t.Fatalf("run after reap: %v", err)
	}
}
