package mutation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

// likeState 模拟缓存中的一条书评点赞状态。
type likeState struct {
	mu    sync.Mutex
	liked bool
	count int
}

type likeSnap struct {
	liked bool
	count int
}

func (s *likeState) get() likeSnap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return likeSnap{s.liked, s.count}
}

func (s *likeState) set(v likeSnap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liked, s.count = v.liked, v.count
}

func (s *likeState) toggle() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior := likeSnap{s.liked, s.count}
	s.liked = !s.liked
	if s.liked {
		s.count++
	} else {
		s.count--
	}
	return prior
}

func (s *likeState) restore(snap any) { s.set(snap.(likeSnap)) }

func toggleOp(s *likeState, network func(ctx context.Context) (likeSnap, error)) Op[likeSnap] {
	return Op[likeSnap]{
		Key:      "review/42",
		Predict:  s.toggle,
		Network:  network,
		Rollback: s.restore,
	}
}

func newTestCoordinator() *Coordinator {
	return New(Options{Timeout: time.Second, LaneCapacity: 4, LaneIdleAfter: time.Second})
}

// TestDispatchPredictsBeforeReturning 验证预测在 Dispatch 返回前已可见，网络调用不阻塞调用方。
func TestDispatchPredictsBeforeReturning(t *testing.T) {
	c := newTestCoordinator()
	defer c.Close()

	s := &likeState{count: 10}
	release := make(chan struct{})
	h := Dispatch(c, context.Background(), toggleOp(s, func(ctx context.Context) (likeSnap, error) {
		<-release
		return likeSnap{true, 11}, nil
	}))

	assert.Equal(t, s.get(), likeSnap{true, 11})
	select {
	case <-h.Done():
		t.Fatalf("expected mutation still in flight")
	default:
	}

	close(release)
	if _, err := h.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	assert.Equal(t, s.get(), likeSnap{true, 11})
	assert.Equal(t, c.Pending("review/42"), 0)
}

// TestRunRollsBackToExactPriorState 验证失败后状态与派发前完全一致，并把错误交给调用方。
func TestRunRollsBackToExactPriorState(t *testing.T) {
	c := newTestCoordinator()
	defer c.Close()

	s := &likeState{count: 10}
	before := s.get()
	netErr := errors.New("network down")

	_, err := Run(c, context.Background(), toggleOp(s, func(ctx context.Context) (likeSnap, error) {
		return likeSnap{}, netErr
	}))
	if !errors.Is(err, netErr) {
		t.Fatalf("expected network error, got %v", err)
	}
	assert.Equal(t, s.get(), before)
}

// TestReconcileRefinesPrediction 验证成功后用服务端数据修正预测值。
func TestReconcileRefinesPrediction(t *testing.T) {
	c := newTestCoordinator()
	defer c.Close()

	s := &likeState{count: 10}
	op := toggleOp(s, func(ctx context.Context) (likeSnap, error) {
		// 期间他人也点了赞
		return likeSnap{true, 12}, nil
	})
	op.Reconcile = s.set

	res, err := Run(c, context.Background(), op)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	assert.Equal(t, res, likeSnap{true, 12})
	assert.Equal(t, s.get(), likeSnap{true, 12})
}

// TestSameKeyRollbackRebasesLaterPrediction 验证同 key 先发的变更失败时，
// 回滚不会覆盖后发的在途预测。
func TestSameKeyRollbackRebasesLaterPrediction(t *testing.T) {
	c := newTestCoordinator()
	defer c.Close()

	s := &likeState{liked: false, count: 10}
	release1 := make(chan struct{})
	release2 := make(chan struct{})

	h1 := Dispatch(c, context.Background(), toggleOp(s, func(ctx context.Context) (likeSnap, error) {
		<-release1
		return likeSnap{}, errors.New("boom")
	}))
	h2 := Dispatch(c, context.Background(), toggleOp(s, func(ctx context.Context) (likeSnap, error) {
		<-release2
		return likeSnap{true, 11}, nil
	}))
	// 两次切换后回到未点赞
	assert.Equal(t, s.get(), likeSnap{false, 10})
	assert.Equal(t, c.Pending("review/42"), 2)

	close(release1)
	if _, err := h1.Result(); err == nil {
		t.Fatalf("expected first mutation to fail")
	}
	// 第一次撤销后，第二次切换基于真实状态重新预测
	assert.Equal(t, s.get(), likeSnap{true, 11})

	close(release2)
	if _, err := h2.Result(); err != nil {
		t.Fatalf("second mutation: %v", err)
	}
	assert.Equal(t, s.get(), likeSnap{true, 11})
}

// TestSameKeyNetworkCallsAreSerial 验证同 key 的网络调用按派发顺序执行。
func TestSameKeyNetworkCallsAreSerial(t *testing.T) {
	c := newTestCoordinator()
	defer c.Close()

	var mu sync.Mutex
	var order []int
	handles := make([]*Handle[int], 0, 3)
	for i := 1; i <= 3; i++ {
		n := i
		handles = append(handles, Dispatch(c, context.Background(), Op[int]{
			Key: "user/7",
			Network: func(ctx context.Context) (int, error) {
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				return n, nil
			},
		}))
	}
	for _, h := range handles {
		if _, err := h.Result(); err != nil {
			t.Fatalf("result: %v", err)
		}
	}
	assert.Equal(t, order, []int{1, 2, 3})
}

func TestDifferentKeysRunConcurrently(t *testing.T) {
	c := newTestCoordinator()
	defer c.Close()

	block := make(chan struct{})
	defer close(block)
	Dispatch(c, context.Background(), Op[int]{
		Key: "a",
		Network: func(ctx context.Context) (int, error) {
			<-block
			return 0, nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := Run(c, ctx, Op[int]{Key: "b", Network: func(ctx context.Context) (int, error) { return 1, nil }}); err != nil {
		t.Fatalf("expected key b to complete while a is blocked, got %v", err)
	}
}

// TestCallerCancellationDoesNotAbortNetwork 验证界面离开（ctx 取消）不会取消在途变更。
func TestCallerCancellationDoesNotAbortNetwork(t *testing.T) {
	c := newTestCoordinator()
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	h := Dispatch(c, ctx, Op[bool]{
		Key: "review/1",
		Network: func(netCtx context.Context) (bool, error) {
			close(started)
			time.Sleep(20 * time.Millisecond)
			return netCtx.Err() == nil, netCtx.Err()
		},
	})
	<-started
	cancel()

	if _, err := h.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected wait to end with caller cancellation, got %v", err)
	}
	ok, err := h.Result()
	if err != nil || !ok {
		t.Fatalf("expected network to finish with live context, got ok=%v err=%v", ok, err)
	}
}

// TestQueueFullRollsBackImmediately 验证 lane 满时拒绝派发并立即回滚预测。
func TestQueueFullRollsBackImmediately(t *testing.T) {
	c := New(Options{Timeout: time.Second, LaneCapacity: 1, LaneIdleAfter: time.Second})
	defer c.Close()

	s := &likeState{count: 3}
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	Dispatch(c, context.Background(), Op[int]{
		Key: "review/42",
		Network: func(ctx context.Context) (int, error) {
			close(started)
			<-release
			return 0, nil
		},
	})
	<-started
	// 第二个占满缓冲
	Dispatch(c, context.Background(), Op[int]{Key: "review/42"})

	before := s.get()
	h := Dispatch(c, context.Background(), Op[int]{
		Key:      "review/42",
		Predict:  s.toggle,
		Rollback: s.restore,
	})
	select {
	case <-h.Done():
	default:
		t.Fatalf("expected rejected dispatch to settle synchronously")
	}
	if _, err := h.Result(); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	assert.Equal(t, s.get(), before)
}

// TestCloseRollsBackQueuedMutations 验证关闭时排队未执行的变更被回滚。
func TestCloseRollsBackQueuedMutations(t *testing.T) {
	c := newTestCoordinator()

	s := &likeState{count: 5}
	started := make(chan struct{})
	h1 := Dispatch(c, context.Background(), Op[int]{
		Key: "review/42",
		Network: func(ctx context.Context) (int, error) {
			close(started)
			<-ctx.Done()
			return 0, ctx.Err()
		},
	})
	<-started
	h2 := Dispatch(c, context.Background(), toggleOp(s, func(ctx context.Context) (likeSnap, error) {
		return likeSnap{true, 6}, nil
	}))
	assert.Equal(t, s.get(), likeSnap{true, 6})

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := h1.Result(); err == nil {
		t.Fatalf("expected in-flight mutation to be cancelled")
	}
	if _, err := h2.Result(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected queued mutation aborted with ErrClosed, got %v", err)
	}
	assert.Equal(t, s.get(), likeSnap{false, 5})

	if _, err := Dispatch(c, context.Background(), Op[int]{Key: "x"}).Result(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestNetworkPanicBecomesError(t *testing.T) {
	c := newTestCoordinator()
	defer c.Close()

	s := &likeState{count: 1}
	_, err := Run(c, context.Background(), toggleOp(s, func(ctx context.Context) (likeSnap, error) {
		panic("bad payload")
	}))
	if err == nil {
		t.Fatalf("expected panic converted to error")
	}
	assert.Equal(t, s.get(), likeSnap{false, 1})
}

// TestPredictPanicReleasesCoordinator 预测阶段 panic 只让本次派发失败，同 key 的后续变更和 Close 照常进行。
func TestPredictPanicReleasesCoordinator(t *testing.T) {
	c := newTestCoordinator()

	h := Dispatch(c, context.Background(), Op[likeSnap]{
		Key:     "review/42",
		Predict: func() any { panic("bad cache") },
		Network: func(ctx context.Context) (likeSnap, error) {
			t.Errorf("network must not run after a failed predict")
			return likeSnap{}, nil
		},
	})
	if _, err := h.Result(); err == nil {
		t.Fatalf("expected predict panic to surface as error")
	}
	assert.Equal(t, c.Pending("review/42"), 0)

	s := &likeState{count: 10}
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err := Run(c, context.Background(), toggleOp(s, func(ctx context.Context) (likeSnap, error) {
			return likeSnap{true, 11}, nil
		}))
		if err != nil || res != (likeSnap{true, 11}) {
			t.Errorf("expected follow-up mutation to commit, got %v %v", res, err)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("coordinator wedged after predict panic")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
