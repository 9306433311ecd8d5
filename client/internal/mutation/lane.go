package mutation

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull 同一 key 积压过多，拒绝新变更（背压控制）。
	ErrQueueFull = errors.New("mutation lane full")
	// ErrClosed 协调器已关闭。
	ErrClosed = errors.New("mutation coordinator closed")
)

const (
	defaultLaneCapacity = 32
	defaultIdleAfter    = 30 * time.Second
	slowJobThreshold    = 5 * time.Second
)

// job 队列中的一次网络调用。abort 用于关闭时未执行的任务。
type job struct {
	run      func(ctx context.Context)
	abort    func(err error)
	enqueued time.Time
}

// LaneStats 单个 lane 的统计信息。
type LaneStats struct {
	Key       string
	Total     int64
	Processed int64
	Dropped   int64
	Pending   int
	Capacity  int
}

// lane 为单个 key 提供串行执行：同一 key 的网络调用按派发顺序依次完成。
// 空闲超过 idleAfter 后由 reap 回调决定是否退出。
type lane struct {
	key       string
	jobs      chan *job
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *zap.Logger
	idleAfter time.Duration
	// reap 在持有协调器锁时检查队列是否仍为空，返回 true 表示 lane 已摘除
	reap func(l *lane) bool

	mu        sync.Mutex
	total     int64
	processed int64
	dropped   int64
}

func newLane(parent context.Context, key string, capacity int, idleAfter time.Duration, reap func(*lane) bool, logger *zap.Logger) *lane {
	if capacity <= 0 {
		capacity = defaultLaneCapacity
	}
	if idleAfter <= 0 {
		idleAfter = defaultIdleAfter
	}
	ctx, cancel := context.WithCancel(parent)
	l := &lane{
		key:       key,
		jobs:      make(chan *job, capacity),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		idleAfter: idleAfter,
		reap:      reap,
	}
	l.wg.Add(1)
	go l.processLoop()

	logger.Debug("[Lane] created", zap.String("key", key), zap.Int("capacity", capacity))
	return l
}

// enqueue 非阻塞入队；调用方需持有协调器锁，保证与 reap 互斥。
func (l *lane) enqueue(j *job) error {
	select {
	case <-l.ctx.Done():
		return ErrClosed
	default:
	}

	j.enqueued = time.Now()
	select {
	case l.jobs <- j:
		l.mu.Lock()
		l.total++
		l.mu.Unlock()
		return nil
	default:
		l.mu.Lock()
		l.dropped++
		l.mu.Unlock()
		l.logger.Warn("[Lane] queue full, rejecting mutation", zap.String("key", l.key), zap.Int("pending", len(l.jobs)))
		return errors.Wrapf(ErrQueueFull, "key=%s", l.key)
	}
}

func (l *lane) processLoop() {
	defer l.wg.Done()

	idle := time.NewTimer(l.idleAfter)
	defer idle.Stop()

	for {
		select {
		case <-l.ctx.Done():
			l.drain(ErrClosed)
			return

		case j := <-l.jobs:
			// select 在两路同时就绪时随机选择，关闭后不再执行新任务
			if l.ctx.Err() != nil {
				j.abort(ErrClosed)
				l.drain(ErrClosed)
				return
			}
			l.process(j)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(l.idleAfter)

		case <-idle.C:
			if l.reap != nil && l.reap(l) {
				l.logger.Debug("[Lane] reaped idle lane", zap.String("key", l.key))
				l.cancel()
				return
			}
			idle.Reset(l.idleAfter)
		}
	}
}

func (l *lane) process(j *job) {
	start := time.Now()
	j.run(l.ctx)
	elapsed := time.Since(start)

	l.mu.Lock()
	l.processed++
	l.mu.Unlock()

	if elapsed > slowJobThreshold {
		l.logger.Warn("[Lane] slow mutation",
			zap.String("key", l.key),
			zap.Duration("queue_latency", start.Sub(j.enqueued)),
			zap.Duration("processing_time", elapsed))
	}
}

// drain 关闭时仍在队列中的任务直接中止，由 abort 负责回滚。
func (l *lane) drain(err error) {
	for {
		select {
		case j := <-l.jobs:
			j.abort(err)
		default:
			return
		}
	}
}

func (l *lane) close() {
	l.cancel()
	l.wg.Wait()

	st := l.stats()
	l.logger.Debug("[Lane] closed",
		zap.String("key", l.key),
		zap.Int64("total", st.Total),
		zap.Int64("processed", st.Processed),
		zap.Int64("dropped", st.Dropped))
}

func (l *lane) stats() LaneStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LaneStats{
		Key:       l.key,
		Total:     l.total,
		Processed: l.processed,
		Dropped:   l.dropped,
		Pending:   len(l.jobs),
		Capacity:  cap(l.jobs),
	}
}
