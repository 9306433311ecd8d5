package mutation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"inkgora/client/internal/logger"
)

// Op 一次乐观变更。
//
//   - Predict 在 Dispatch 返回前同步执行，修改缓存并返回回滚所需的快照
//   - Network 是唯一的挂起点，在该 key 的 lane 上执行
//   - Reconcile 成功后用服务端权威数据修正预测（可选，缺省时预测即为最终结果）
//   - Rollback 失败时用快照恢复预测前的状态
type Op[R any] struct {
	Key       string
	Predict   func() any
	Network   func(ctx context.Context) (R, error)
	Reconcile func(R)
	Rollback  func(snapshot any)
}

type Options struct {
	// Timeout 单次网络调用超时；调用方 ctx 的取消不会传递到网络调用
	Timeout       time.Duration
	LaneCapacity  int
	LaneIdleAfter time.Duration
	Logger        *zap.Logger
}

const defaultTimeout = 30 * time.Second

// entry 已预测、尚未落定的变更。snapshot 在 rebase 时会被刷新。
type entry struct {
	key      string
	predict  func() any
	rollback func(any)
	snapshot any
}

// Coordinator 所有界面共用的乐观变更协调器。
//
// 同一 key 的变更按派发顺序串行走网络；某个变更落定时，若它需要回滚或修正，
// 先按逆序撤销其后仍在途的预测，应用回滚/修正，再按顺序重新预测。
// 这样回滚永远不会覆盖更新的在途预测。
type Coordinator struct {
	mu      sync.Mutex
	lanes   map[string]*lane
	pending map[string][]*entry
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	opts   Options
	logger *zap.Logger
}

func New(opts Options) *Coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		lanes:   make(map[string]*lane),
		pending: make(map[string][]*entry),
		ctx:     ctx,
		cancel:  cancel,
		opts:    opts,
		logger:  logger.OrNop(opts.Logger),
	}
}

// Handle 一次派发的异步结果。
type Handle[R any] struct {
	done chan struct{}
	res  R
	err  error
}

func newHandle[R any]() *Handle[R] {
	return &Handle[R]{done: make(chan struct{})}
}

func (h *Handle[R]) finish(res R, err error) {
	h.res = res
	h.err = err
	close(h.done)
}

// Done 落定（回滚或提交完成）后关闭。
func (h *Handle[R]) Done() <-chan struct{} { return h.done }

// Result 阻塞直到落定。
func (h *Handle[R]) Result() (R, error) {
	<-h.done
	return h.res, h.err
}

// Wait 等待落定；ctx 取消只结束等待，不影响变更本身。
func (h *Handle[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-h.done:
		return h.res, h.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Dispatch 同步应用预测，然后把网络调用排到该 key 的 lane 上，立即返回。
func Dispatch[R any](c *Coordinator, ctx context.Context, op Op[R]) *Handle[R] {
	h := newHandle[R]()
	var zero R

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		h.finish(zero, ErrClosed)
		return h
	}

	e := &entry{key: op.Key, predict: op.Predict, rollback: op.Rollback}
	if op.Predict != nil {
		if err := guard(op.Key, "predict", func() { e.snapshot = op.Predict() }); err != nil {
			c.mu.Unlock()
			c.logger.Error("[Mutation] predict failed", zap.String("key", op.Key), zap.Error(err))
			h.finish(zero, err)
			return h
		}
	}
	c.pending[op.Key] = append(c.pending[op.Key], e)

	rollback := func() {
		if e.rollback != nil {
			e.rollback(e.snapshot)
		}
	}
	netCtx := context.WithoutCancel(ctx)

	j := &job{
		run: func(laneCtx context.Context) {
			callCtx, cancel := context.WithTimeout(netCtx, c.opts.Timeout)
			defer cancel()
			stop := context.AfterFunc(laneCtx, cancel)
			defer stop()

			res, err := callNetwork(callCtx, op)
			if err != nil {
				c.logger.Info("[Mutation] rolled back", zap.String("key", op.Key), zap.Error(err))
				c.settle(e, rollback)
				h.finish(zero, err)
				return
			}
			if op.Reconcile != nil {
				c.settle(e, func() { op.Reconcile(res) })
			} else {
				c.settle(e, nil)
			}
			h.finish(res, nil)
		},
		abort: func(err error) {
			c.settle(e, rollback)
			h.finish(zero, err)
		},
	}

	if err := c.laneFor(op.Key).enqueue(j); err != nil {
		c.settleLocked(e, rollback)
		c.mu.Unlock()
		h.finish(zero, err)
		return h
	}
	c.mu.Unlock()

	c.logger.Debug("[Mutation] dispatched", zap.String("key", op.Key))
	return h
}

// Run 派发并等待落定。
func Run[R any](c *Coordinator, ctx context.Context, op Op[R]) (R, error) {
	return Dispatch(c, ctx, op).Wait(ctx)
}

func callNetwork[R any](ctx context.Context, op Op[R]) (res R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("mutation %s: network panicked: %v", op.Key, r)
		}
	}()
	if op.Network == nil {
		return res, nil
	}
	return op.Network(ctx)
}

// guard 在持有 c.mu 时执行回调；panic 转为错误，锁由调用方照常释放。
func guard(key, stage string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("mutation %s: %s panicked: %v", key, stage, r)
		}
	}()
	fn()
	return nil
}

func (c *Coordinator) settle(e *entry, apply func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settleLocked(e, apply)
}

// settleLocked 从在途列表摘除 e；apply 非空时围绕它做 rebase。
func (c *Coordinator) settleLocked(e *entry, apply func()) {
	list := c.pending[e.key]
	idx := -1
	for i, p := range list {
		if p == e {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	later := list[idx+1:]

	if apply != nil {
		for i := len(later) - 1; i >= 0; i-- {
			if p := later[i]; p.rollback != nil {
				c.logGuard(p.key, "rollback", func() { p.rollback(p.snapshot) })
			}
		}
		c.logGuard(e.key, "settle", apply)
		for _, p := range later {
			if p.predict != nil {
				c.logGuard(p.key, "predict", func() { p.snapshot = p.predict() })
			}
		}
		if len(later) > 0 {
			c.logger.Debug("[Mutation] rebased pending predictions", zap.String("key", e.key), zap.Int("count", len(later)))
		}
	}

	rest := append(list[:idx:idx], later...)
	if len(rest) == 0 {
		delete(c.pending, e.key)
		return
	}
	c.pending[e.key] = rest
}

func (c *Coordinator) logGuard(key, stage string, fn func()) {
	if err := guard(key, stage, fn); err != nil {
		c.logger.Error("[Mutation] callback panicked", zap.String("key", key), zap.Error(err))
	}
}

// laneFor 调用方需持有 c.mu。
func (c *Coordinator) laneFor(key string) *lane {
	if l, ok := c.lanes[key]; ok {
		return l
	}
	l := newLane(c.ctx, key, c.opts.LaneCapacity, c.opts.LaneIdleAfter, c.reap, c.logger)
	c.lanes[key] = l
	return l
}

func (c *Coordinator) reap(l *lane) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(l.jobs) > 0 {
		return false
	}
	if c.lanes[l.key] == l {
		delete(c.lanes, l.key)
	}
	return true
}

// Pending 该 key 仍在途的变更数。
func (c *Coordinator) Pending(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending[key])
}

// Stats 当前存活 lane 的统计，按 key 排序。
func (c *Coordinator) Stats() []LaneStats {
	c.mu.Lock()
	lanes := make([]*lane, 0, len(c.lanes))
	for _, l := range c.lanes {
		lanes = append(lanes, l)
	}
	c.mu.Unlock()

	out := make([]LaneStats, 0, len(lanes))
	for _, l := range lanes {
		out = append(out, l.stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Close 中止所有在途变更（回滚）并停止 lane。
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	lanes := make([]*lane, 0, len(c.lanes))
	for _, l := range c.lanes {
		lanes = append(lanes, l)
	}
	c.lanes = make(map[string]*lane)
	c.mu.Unlock()

	c.cancel()
	for _, l := range lanes {
		l.close()
	}
	c.logger.Info("[Mutation] coordinator closed", zap.Int("lanes", len(lanes)))
	return nil
}
