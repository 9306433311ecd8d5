package notify

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"inkgora/client/internal/model"
)

// ErrMalformedEvent 推送内容无法识别；通道会记录并丢弃，不影响连接。
var ErrMalformedEvent = errors.New("malformed notification event")

const (
	EventUnreadCount     = "unread_count"
	EventNewNotification = "new_notification"
)

// Event 通道上的一条推送。Count 为空表示未携带计数。
type Event struct {
	Type         string
	Count        *int
	Notification *model.Notification
}

type rawEvent struct {
	Type         string         `json:"type"`
	Count        *float64       `json:"count"`
	Notification map[string]any `json:"notification"`
}

// ParseEvent 解析一帧 JSON：
//
//	{"type":"unread_count","count":5}
//	{"type":"new_notification","notification":{...},"count":6}
func ParseEvent(raw []byte) (Event, error) {
	var re rawEvent
	if err := json.Unmarshal(raw, &re); err != nil {
		return Event{}, errors.Wrap(ErrMalformedEvent, err.Error())
	}

	evt := Event{Type: re.Type}
	if re.Count != nil {
		n := int(*re.Count)
		evt.Count = &n
	}

	switch re.Type {
	case EventUnreadCount:
		if evt.Count == nil {
			return Event{}, errors.Wrap(ErrMalformedEvent, "unread_count without count")
		}
	case EventNewNotification:
		if re.Notification != nil {
			n, err := decodeNotification(re.Notification)
			if err != nil {
				return Event{}, errors.Wrap(ErrMalformedEvent, err.Error())
			}
			evt.Notification = &n
		}
	case "":
		return Event{}, errors.Wrap(ErrMalformedEvent, "missing type")
	}
	return evt, nil
}

// decodeNotification 推送体与 REST 列表共用 NotificationDTO 的字段兜底规则。
func decodeNotification(in map[string]any) (model.Notification, error) {
	var dto model.NotificationDTO
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &dto,
		DecodeHook:       timeHook,
	})
	if err != nil {
		return model.Notification{}, err
	}
	if err := dec.Decode(in); err != nil {
		return model.Notification{}, err
	}
	return dto.ToDomain(), nil
}

// timeHook 支持 RFC3339 字符串与 Unix 秒。
func timeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Time{}) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		if v == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339, v)
	case float64:
		return time.Unix(int64(v), 0).UTC(), nil
	}
	return data, nil
}
