package bus

import (
	"context"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"inkgora/client/internal/config"
	"inkgora/client/internal/logger"
)

// NatsBus 以 NATS core 主题分发（无持久化）：主题为 {prefix}.{topic}。
type NatsBus struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

func NewNatsBus(cfg config.BusConfig, l *zap.Logger) (*NatsBus, error) {
	if len(cfg.NATSServers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	lg := logger.OrNop(l)
	opts := []nats.Option{
		nats.Name("inkgora-client"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			lg.Warn("[Bus] nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			lg.Info("[Bus] nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(strings.Join(cfg.NATSServers, ","), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "connect nats")
	}
	return &NatsBus{nc: nc, prefix: cfg.SubjectPrefix, logger: lg}, nil
}

func (b *NatsBus) subject(topic string) string {
	if b.prefix == "" {
		return topic
	}
	return b.prefix + "." + topic
}

func (b *NatsBus) Publish(ctx context.Context, topic string, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := nats.NewMsg(b.subject(topic))
	msg.Data = data
	msg.Header.Set("Content-Type", "application/json")
	if err := b.nc.PublishMsg(msg); err != nil {
		return errors.Wrapf(err, "publish %s", topic)
	}
	return nil
}

func (b *NatsBus) Subscribe(topic string, h Handler) (Subscription, error) {
	sub, err := b.nc.Subscribe(b.subject(topic), func(m *nats.Msg) {
		hdr := make(map[string]string, len(m.Header))
		for k := range m.Header {
			hdr[k] = m.Header.Get(k)
		}
		h(Message{Topic: topic, Data: m.Data, Header: hdr})
	})
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe %s", topic)
	}
	return sub, nil
}

// Flush 等待已发布消息送达服务器。
func (b *NatsBus) Flush() error {
	return b.nc.Flush()
}

func (b *NatsBus) Close() error {
	return b.nc.Drain()
}
