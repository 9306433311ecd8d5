package bus

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"inkgora/client/internal/config"
)

// 通知通道向本地分发的事件主题。
const (
	TopicUnreadCount          = "notifications.unread_count"
	TopicNotificationReceived = "notifications.received"
)

// UserTopic 按用户细分的主题。多个进程共享一条 nats 总线时，每个会话只订阅自己的主题。
func UserTopic(topic, userID string) string {
	return topic + "." + userID
}

// Message 一条已编码的事件，Data 为 JSON。
type Message struct {
	Topic  string
	Data   []byte
	Header map[string]string
}

// Decode 把 Data 解到 v。
func (m Message) Decode(v any) error {
	return errors.Wrapf(json.Unmarshal(m.Data, v), "decode %s", m.Topic)
}

type Handler func(Message)

type Subscription interface {
	Unsubscribe() error
}

// Bus 进程内（或跨进程）的事件分发。
type Bus interface {
	Publish(ctx context.Context, topic string, v any) error
	Subscribe(topic string, h Handler) (Subscription, error)
	Close() error
}

// New 按配置选择实现：local 进程内分发，nats 跨进程（例如多个前端进程共享未读数）。
func New(cfg config.BusConfig, l *zap.Logger) (Bus, error) {
	switch cfg.Kind {
	case "", "local":
		return NewLocalBus(l), nil
	case "nats":
		return NewNatsBus(cfg, l)
	default:
		return nil, errors.Errorf("unsupported bus kind: %q", cfg.Kind)
	}
}

func encode(v any) ([]byte, error) {
	if raw, ok := v.([]byte); ok {
		return raw, nil
	}
	raw, err := json.Marshal(v)
	return raw, errors.Wrap(err, "encode bus payload")
}
