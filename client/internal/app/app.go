package app

import (
	"context"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"inkgora/client/internal/api"
	"inkgora/client/internal/bus"
	"inkgora/client/internal/cache"
	"inkgora/client/internal/config"
	"inkgora/client/internal/logger"
	"inkgora/client/internal/model"
	"inkgora/client/internal/mutation"
	"inkgora/client/internal/notify"
	"inkgora/client/internal/session"
	"inkgora/client/internal/viewmodel"
)

// App 一个登录身份下的客户端核心。所有组件都从这里拿到同一个会话、
// 同一套缓存与同一个变更协调器。
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	sess     *session.Session
	sessions session.Store

	client      *api.Client
	registry    *cache.Registry
	deps        viewmodel.Deps
	coordinator *mutation.Coordinator
	counter     *notify.Counter
	bus         bus.Bus
	ownsBus     bool
	channel     *notify.Channel
	subs        []bus.Subscription

	once          sync.Once
	feed          *viewmodel.Feed
	toRead        *viewmodel.ToReadList
	notifications *viewmodel.Notifications
}

// Options 可替换的组件，测试中用来注入假实现。
// 传入的 Bus 由调用方负责关闭，可以在多个 App 之间共享。
type Options struct {
	Transport notify.Transport
	Clock     notify.Clock
	Bus       bus.Bus
}

// New 为 sess 组装所有组件。sessions 保存 sess 的记录，令牌每次都从它读取，
// 所以 Logout 删除记录后所有请求立即变为未登录。
func New(cfg *config.Config, sess *session.Session, sessions session.Store, l *zap.Logger, opts Options) (*App, error) {
	if sess == nil {
		return nil, errors.New("nil session")
	}
	l = logger.OrNop(l).With(zap.String("session_id", sess.ID), zap.String("user_id", sess.UserID))

	tokens := session.StoreTokenProvider{Store: sessions, SessionID: sess.ID}
	client := api.NewClient(cfg.API, tokens, l)

	b, ownsBus := opts.Bus, false
	if b == nil {
		ownsBus = true
		var err error
		if b, err = bus.New(cfg.Bus, l); err != nil {
			return nil, errors.WithMessage(err, "init bus")
		}
	}

	transport := opts.Transport
	if transport == nil {
		var err error
		if transport, err = notify.NewTransport(cfg.Notifications, client.BaseURL()); err != nil {
			if ownsBus {
				_ = b.Close()
			}
			return nil, errors.WithMessage(err, "init notification transport")
		}
	}

	registry := cache.NewRegistry()
	coordinator := mutation.New(mutation.Options{
		Timeout:       cfg.Mutations.Timeout,
		LaneCapacity:  cfg.Mutations.LaneCapacity,
		LaneIdleAfter: cfg.Mutations.LaneIdleAfter,
		Logger:        l,
	})
	counter := notify.NewCounter()

	a := &App{
		cfg:         cfg,
		logger:      l,
		sess:        sess,
		sessions:    sessions,
		client:      client,
		registry:    registry,
		coordinator: coordinator,
		counter:     counter,
		bus:         b,
		ownsBus:     ownsBus,
	}
	a.deps = viewmodel.Deps{
		Gateway:     client,
		Coordinator: coordinator,
		Stores:      viewmodel.NewStores(registry),
		Counter:     counter,
		Me:          me(sess),
		Logger:      l,
	}
	a.channel = notify.NewChannel(notify.Options{
		UserID:      sess.UserID,
		Tokens:      tokens,
		Transport:   transport,
		Counter:     counter,
		Bus:         b,
		Clock:       opts.Clock,
		BaseDelay:   cfg.Notifications.BaseDelay,
		MaxAttempts: cfg.Notifications.MaxReconnectAttempts,
		Logger:      l,
		OnDisconnect: func(err error, terminal bool) {
			l.Warn("[App] notification channel stopped", zap.Bool("terminal", terminal), zap.Error(err))
		},
	})

	sub, err := b.Subscribe(bus.UserTopic(bus.TopicNotificationReceived, sess.UserID), a.onNotification)
	if err != nil {
		_ = a.Close()
		return nil, errors.WithMessage(err, "subscribe notifications")
	}
	a.subs = append(a.subs, sub)

	l.Info("[App] ready", zap.String("api", client.BaseURL()), zap.String("transport", cfg.Notifications.Transport))
	return a, nil
}

// Login 由访问令牌建立会话记录并组装 App。
func Login(ctx context.Context, cfg *config.Config, sessions session.Store, token string, l *zap.Logger, opts Options) (*App, error) {
	sess, err := session.FromToken(uuid.NewString(), token)
	if err != nil {
		return nil, err
	}
	if err := sessions.Save(ctx, sess); err != nil {
		return nil, errors.WithMessage(err, "save session")
	}
	a, err := New(cfg, sess, sessions, l, opts)
	if err != nil {
		_ = sessions.Delete(ctx, sess.ID)
		return nil, err
	}
	return a, nil
}

// NewSessionStore 按配置选择会话存储；返回的 close 用于释放连接。
func NewSessionStore(ctx context.Context, cfg config.SessionConfig) (session.Store, func() error, error) {
	switch cfg.Store {
	case "", "memory":
		return session.NewInMemoryStore(), func() error { return nil }, nil
	case "redis":
		s, err := session.NewRedisStore(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, errors.Errorf("unsupported session store: %q", cfg.Store)
	}
}

func me(sess *session.Session) model.User {
	id, _ := strconv.ParseInt(sess.UserID, 10, 64)
	return model.User{ID: id, Username: sess.Username}
}

func (a *App) Session() *session.Session { return a.sess }

func (a *App) Client() *api.Client { return a.client }

func (a *App) Channel() *notify.Channel { return a.channel }

func (a *App) Counter() *notify.Counter { return a.counter }

func (a *App) Bus() bus.Bus { return a.bus }

func (a *App) Stores() viewmodel.Stores { return a.deps.Stores }

func (a *App) Coordinator() *mutation.Coordinator { return a.coordinator }

func (a *App) initLists() {
	a.once.Do(func() {
		a.feed = viewmodel.NewFeed(a.deps)
		a.toRead = viewmodel.NewToReadList(a.deps)
		a.notifications = viewmodel.NewNotifications(a.deps)
	})
}

// Feed、ToReadList、Notifications 在会话内只有一份。
func (a *App) Feed() *viewmodel.Feed {
	a.initLists()
	return a.feed
}

func (a *App) ToReadList() *viewmodel.ToReadList {
	a.initLists()
	return a.toRead
}

func (a *App) Notifications() *viewmodel.Notifications {
	a.initLists()
	return a.notifications
}

func (a *App) Profile(userID int64) *viewmodel.Profile {
	return viewmodel.NewProfile(a.deps, userID)
}

func (a *App) Comments(reviewID int64) *viewmodel.Comments {
	return viewmodel.NewComments(a.deps, reviewID)
}

func (a *App) ReviewDetail(r model.Review) *viewmodel.ReviewDetail {
	return viewmodel.NewReviewDetail(a.deps, r)
}

// Connect 打开通知通道，并以服务端未读数作为初始值。
func (a *App) Connect(ctx context.Context) error {
	if err := a.channel.Connect(ctx); err != nil {
		return err
	}
	if _, err := a.Notifications().RefreshUnread(ctx); err != nil {
		a.logger.Warn("[App] initial unread count failed", zap.Error(err))
	}
	return nil
}

// RegisterDevice 上报推送令牌。
func (a *App) RegisterDevice(ctx context.Context, token, platform string) error {
	if token == "" {
		return errors.New("empty device token")
	}
	return errors.WithMessage(a.client.RegisterDeviceToken(ctx, token, platform), "register device")
}

// Logout 先断开通知通道并中止所有在途变更（回滚在此之前完成），
// 再清空缓存与未读数，最后删除会话记录。之后的变更派发返回 mutation.ErrClosed。
func (a *App) Logout(ctx context.Context) error {
	a.channel.Disconnect()
	if err := a.coordinator.Close(); err != nil {
		a.logger.Warn("[App] close coordinator", zap.Error(err))
	}
	a.registry.ClearAll()
	a.counter.Reset()
	if err := a.sessions.Delete(ctx, a.sess.ID); err != nil {
		return errors.WithMessage(err, "delete session")
	}
	a.logger.Info("[App] logged out")
	return nil
}

// Close 释放通道、协调器与事件总线，不删除会话记录。
func (a *App) Close() error {
	a.channel.Disconnect()
	for _, s := range a.subs {
		_ = s.Unsubscribe()
	}
	a.subs = nil
	if err := a.coordinator.Close(); err != nil {
		a.logger.Warn("[App] close coordinator", zap.Error(err))
	}
	if !a.ownsBus {
		return nil
	}
	return a.bus.Close()
}

// onNotification 推送来的新通知插到已加载列表的头部。
func (a *App) onNotification(msg bus.Message) {
	var n model.Notification
	if err := msg.Decode(&n); err != nil {
		a.logger.Warn("[App] bad notification payload", zap.Error(err))
		return
	}
	store := a.deps.Stores.Notifications
	if store.Contains(cache.KeyNotifications, model.NotificationKey(n)) {
		return
	}
	store.Prepend(cache.KeyNotifications, n)
}
