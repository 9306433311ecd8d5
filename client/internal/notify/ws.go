package notify

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"inkgora/client/internal/api"
)

const handshakeTimeout = 15 * time.Second

// WSTransport 与 SSE 相同的订阅握手，之后通过 websocket 接收同样的 JSON 帧。
type WSTransport struct {
	baseURL   string
	handshake *http.Client
	dialer    websocket.Dialer
}

func NewWSTransport(baseURL string) *WSTransport {
	return &WSTransport{
		baseURL:   strings.TrimRight(baseURL, "/"),
		handshake: &http.Client{Timeout: handshakeTimeout},
		dialer:    websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

func (t *WSTransport) Subscribe(ctx context.Context, token, channel string) error {
	return subscribe(ctx, t.handshake, t.baseURL, token, channel)
}

func (t *WSTransport) Open(ctx context.Context, token, channel string) (Stream, error) {
	u, err := url.Parse(t.baseURL + "/__transmit/ws")
	if err != nil {
		return nil, errors.Wrap(err, "parse ws url")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"channels": {channel}}.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	conn, resp, err := t.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, statusError(resp)
		}
		return nil, &api.NetworkError{Op: "dial ws " + channel, Err: err}
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

// Next 只接收文本帧；二进制帧跳过。
func (s *wsStream) Next() ([]byte, error) {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, &api.NetworkError{Op: "read ws", Err: err}
		}
		if mt == websocket.TextMessage {
			return data, nil
		}
	}
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
