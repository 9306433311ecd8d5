package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"inkgora/client/internal/api"
	"inkgora/client/internal/config"
)

// Stream 一条已打开的推送流。Next 阻塞直到收到一帧数据或连接出错。
type Stream interface {
	Next() ([]byte, error)
	Close() error
}

// Transport 推送通道的底层实现：先显式订阅频道，再打开流。
type Transport interface {
	Subscribe(ctx context.Context, token, channel string) error
	Open(ctx context.Context, token, channel string) (Stream, error)
}

// NewTransport 按配置选择 sse 或 ws。
func NewTransport(cfg config.NotificationConfig, baseURL string) (Transport, error) {
	switch cfg.Transport {
	case "", "sse":
		return NewSSETransport(baseURL), nil
	case "ws":
		return NewWSTransport(baseURL), nil
	default:
		return nil, errors.Errorf("unsupported notification transport: %q", cfg.Transport)
	}
}

// subscribe POST {base}/__transmit/subscribe {channel}
func subscribe(ctx context.Context, hc *http.Client, baseURL, token, channel string) error {
	body, _ := json.Marshal(map[string]string{"channel": channel})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/__transmit/subscribe", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create subscribe request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := hc.Do(req)
	if err != nil {
		return &api.NetworkError{Op: "subscribe " + channel, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Message == "" {
		payload.Message = strings.TrimSpace(string(raw))
	}
	return &api.ServerError{Status: resp.StatusCode, Message: payload.Message}
}
