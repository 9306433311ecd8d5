package notify

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"inkgora/client/internal/api"
)

// SSETransport GET {base}/__transmit/events?channels={channel}，text/event-stream。
type SSETransport struct {
	baseURL string
	// 流式连接不设整体超时；握手请求单独使用短超时客户端
	stream    *http.Client
	handshake *http.Client
}

func NewSSETransport(baseURL string) *SSETransport {
	return &SSETransport{
		baseURL:   strings.TrimRight(baseURL, "/"),
		stream:    &http.Client{},
		handshake: &http.Client{Timeout: handshakeTimeout},
	}
}

func (t *SSETransport) Subscribe(ctx context.Context, token, channel string) error {
	return subscribe(ctx, t.handshake, t.baseURL, token, channel)
}

func (t *SSETransport) Open(ctx context.Context, token, channel string) (Stream, error) {
	q := url.Values{"channels": {channel}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/__transmit/events?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "create events request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.stream.Do(req)
	if err != nil {
		return nil, &api.NetworkError{Op: "open events " + channel, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return newSSEStream(resp.Body), nil
}

// sseStream 按 SSE 帧边界（空行）切分，只返回 data 内容；注释行与 event/id/retry 字段忽略。
type sseStream struct {
	body      io.ReadCloser
	reader    *bufio.Reader
	closeOnce sync.Once
}

func newSSEStream(body io.ReadCloser) *sseStream {
	return &sseStream{body: body, reader: bufio.NewReader(body)}
}

func (s *sseStream) Next() ([]byte, error) {
	var data bytes.Buffer
	hasData := false
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" {
				return nil, io.ErrUnexpectedEOF
			}
			if err != io.EOF {
				return nil, &api.NetworkError{Op: "read events", Err: err}
			}
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				return data.Bytes(), nil
			}
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field == "data" {
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
		if err == io.EOF {
			if hasData {
				return data.Bytes(), nil
			}
			return nil, io.ErrUnexpectedEOF
		}
	}
}

func (s *sseStream) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.body.Close() })
	return err
}
