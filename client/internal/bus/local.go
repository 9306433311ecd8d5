package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"inkgora/client/internal/logger"
)

// LocalBus 进程内同步分发：Publish 返回时所有订阅者都已处理完。
type LocalBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
	closed bool
	logger *zap.Logger
}

func NewLocalBus(l *zap.Logger) *LocalBus {
	return &LocalBus{subs: make(map[string]map[int]Handler), logger: logger.OrNop(l)}
}

func (b *LocalBus) Publish(_ context.Context, topic string, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil
	}
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	msg := Message{Topic: topic, Data: data}
	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (b *LocalBus) Subscribe(topic string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	b.nextID++
	id := b.nextID
	b.subs[topic][id] = h
	b.logger.Debug("[Bus] subscribed", zap.String("topic", topic), zap.Int("id", id))

	return localSub(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}), nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]map[int]Handler)
	return nil
}

type localSub func()

func (s localSub) Unsubscribe() error {
	s()
	return nil
}
