package notify

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"inkgora/client/internal/api"
	"inkgora/client/internal/bus"
	"inkgora/client/internal/logger"
	"inkgora/client/internal/session"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxAttempts = 5
)

// ChannelName 用户专属通知频道。
func ChannelName(userID string) string {
	return "notifications/users/" + userID
}

type Options struct {
	UserID    string
	Tokens    session.TokenProvider
	Transport Transport
	Counter   *Counter
	// Bus 可选：计数变化与新通知会额外分发到本地事件总线，主题见 bus.UserTopic
	Bus         bus.Bus
	Clock       Clock
	BaseDelay   time.Duration
	MaxAttempts int
	Logger      *zap.Logger

	OnConnect func()
	// OnDisconnect 仅在放弃重连时以 terminal=true 调用一次
	OnDisconnect func(err error, terminal bool)
	// OnError 每次可恢复的失败都会调用
	OnError func(err error)
}

// Channel 可重连的通知推送通道。
//
// 状态机：Disconnected → Connecting → Connected → Disconnected。
// 连续第 k 次失败（k < MaxAttempts）在 BaseDelay*2^(k-1) 后重试，
// 第 MaxAttempts 次失败后放弃。成功打开流即清零失败计数。
// gen 在每次 Connect/Disconnect/放弃时递增，过期的回调一律丢弃。
type Channel struct {
	opts    Options
	channel string
	logger  *zap.Logger

	// 本地事件主题带用户 id
	unreadTopic       string
	notificationTopic string

	mu       sync.Mutex
	state    State
	gen      uint64
	attempts int
	stream   Stream
	timer    Timer
	cancel   context.CancelFunc
}

func NewChannel(opts Options) *Channel {
	if opts.Clock == nil {
		opts.Clock = RealClock
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Counter == nil {
		opts.Counter = NewCounter()
	}
	ch := &Channel{
		opts:    opts,
		channel: ChannelName(opts.UserID),
		logger:  logger.OrNop(opts.Logger),

		unreadTopic:       bus.UserTopic(bus.TopicUnreadCount, opts.UserID),
		notificationTopic: bus.UserTopic(bus.TopicNotificationReceived, opts.UserID),
	}
	if opts.Bus != nil {
		opts.Counter.OnChange(func(n int) {
			if err := opts.Bus.Publish(context.Background(), ch.unreadTopic, n); err != nil {
				ch.logger.Warn("[Notify] publish unread count failed", zap.Error(err))
			}
		})
	}
	return ch
}

func (c *Channel) Counter() *Counter { return c.opts.Counter }

func (c *Channel) Name() string { return c.channel }

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect 开始连接；已在连接中或已连接时什么都不做。
// 没有令牌时返回 api.ErrUnauthenticated，不发起任何尝试。
// ctx 只用于取令牌，连接生命周期由 Disconnect 控制。
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if c.opts.Tokens == nil {
		return api.ErrUnauthenticated
	}
	tok, err := c.opts.Tokens.AccessToken(ctx)
	if err != nil {
		return errors.WithMessage(err, "resolve access token")
	}
	if tok == "" {
		return api.ErrUnauthenticated
	}

	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.state = Connecting
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Info("[Notify] connecting", zap.String("channel", c.channel))
	go c.attempt(gen)
	return nil
}

// Disconnect 幂等：关闭流、取消重连定时器、重置状态。登出时先于身份变更调用。
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.state == Disconnected && c.stream == nil && c.timer == nil && c.cancel == nil {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.state = Disconnected
	c.attempts = 0
	stream, timer, cancel := c.stream, c.timer, c.cancel
	c.stream, c.timer, c.cancel = nil, nil, nil
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if stream != nil {
		_ = stream.Close()
	}
	c.logger.Info("[Notify] disconnected", zap.String("channel", c.channel))
}

func (c *Channel) attempt(gen uint64) {
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		cancel()
		return
	}
	c.timer = nil
	c.cancel = cancel
	c.mu.Unlock()

	tok, err := c.opts.Tokens.AccessToken(ctx)
	if err == nil && tok == "" {
		err = api.ErrUnauthenticated
	}
	if err != nil {
		c.fail(gen, err)
		return
	}

	if err := c.opts.Transport.Subscribe(ctx, tok, c.channel); err != nil {
		c.fail(gen, errors.WithMessage(err, "subscribe"))
		return
	}
	stream, err := c.opts.Transport.Open(ctx, tok, c.channel)
	if err != nil {
		c.fail(gen, errors.WithMessage(err, "open stream"))
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		_ = stream.Close()
		return
	}
	c.state = Connected
	c.attempts = 0
	c.stream = stream
	c.mu.Unlock()

	c.logger.Info("[Notify] connected", zap.String("channel", c.channel))
	if c.opts.OnConnect != nil {
		c.opts.OnConnect()
	}

	for {
		raw, err := stream.Next()
		if err != nil {
			c.fail(gen, err)
			return
		}
		c.handle(raw)
	}
}

// fail 拆掉当前连接并安排下一次尝试，或在达到上限时放弃。
func (c *Channel) fail(gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	stream, cancel := c.stream, c.cancel
	c.stream, c.cancel = nil, nil
	c.attempts++
	k := c.attempts

	if k >= c.opts.MaxAttempts {
		c.gen++
		c.state = Disconnected
		c.attempts = 0
		c.mu.Unlock()

		c.teardown(stream, cancel)
		c.logger.Error("[Notify] giving up after consecutive failures",
			zap.String("channel", c.channel), zap.Int("attempts", k), zap.Error(err))
		if c.opts.OnDisconnect != nil {
			c.opts.OnDisconnect(err, true)
		}
		return
	}

	delay := c.opts.BaseDelay << (k - 1)
	c.state = Connecting
	c.timer = c.opts.Clock.AfterFunc(delay, func() { c.attempt(gen) })
	c.mu.Unlock()

	c.teardown(stream, cancel)
	c.logger.Warn("[Notify] connection failed, retrying",
		zap.String("channel", c.channel), zap.Int("attempt", k), zap.Duration("delay", delay), zap.Error(err))
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}

func (c *Channel) teardown(stream Stream, cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if stream != nil {
		_ = stream.Close()
	}
}

func (c *Channel) handle(raw []byte) {
	evt, err := ParseEvent(raw)
	if err != nil {
		c.logger.Warn("[Notify] dropping malformed event", zap.ByteString("raw", raw), zap.Error(err))
		return
	}
	n := c.opts.Counter.Apply(evt)
	c.logger.Debug("[Notify] event", zap.String("type", evt.Type), zap.Int("unread", n))

	if evt.Notification != nil && c.opts.Bus != nil {
		if err := c.opts.Bus.Publish(context.Background(), c.notificationTopic, evt.Notification); err != nil {
			c.logger.Warn("[Notify] publish notification failed", zap.Error(err))
		}
	}
}
