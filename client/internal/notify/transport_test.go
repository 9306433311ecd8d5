package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"

	"inkgora/client/internal/api"
)

func TestSSEStreamSplitsFrames(t *testing.T) {
	raw := ": keep-alive\n\nevent:message\ndata:{\"type\":\"unread_count\",\ndata: \"count\":2}\n\nid: 3\ndata: {\"type\":\"unread_count\",\"count\":3}\r\n\r\n"
	s := newSSEStream(io.NopCloser(strings.NewReader(raw)))

	first, err := s.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	assert.Equal(t, string(first), "{\"type\":\"unread_count\",\n\"count\":2}")

	second, err := s.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	evt, err := ParseEvent(second)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	assert.Equal(t, *evt.Count, 3)

	if _, err := s.Next(); err == nil {
		t.Fatalf("expected error at end of stream")
	}
}

// subscribeRecorder 记录握手请求，检查鉴权与频道名。
func subscribeRecorder(t *testing.T, got *string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"bad token"}`))
			return
		}
		var body struct {
			Channel string `json:"channel"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode subscribe body: %v", err)
		}
		*got = body.Channel
		w.WriteHeader(http.StatusNoContent)
	}
}

func TestSSETransportEndToEnd(t *testing.T) {
	var subscribed string
	mux := http.NewServeMux()
	mux.HandleFunc("/__transmit/subscribe", subscribeRecorder(t, &subscribed))
	mux.HandleFunc("/__transmit/events", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("channels") != "notifications/users/7" {
			t.Errorf("unexpected channels %q", r.URL.Query().Get("channels"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"unread_count\",\"count\":4}\n\n")
		w.(http.Flusher).Flush()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tr := NewSSETransport(srv.URL)
	ctx := context.Background()
	if err := tr.Subscribe(ctx, "tok", ChannelName("7")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	assert.Equal(t, subscribed, "notifications/users/7")

	stream, err := tr.Open(ctx, "tok", ChannelName("7"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stream.Close()
	raw, err := stream.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	assert.Equal(t, string(raw), `{"type":"unread_count","count":4}`)

	if err := tr.Subscribe(ctx, "wrong", ChannelName("7")); !errors.Is(err, api.ErrUnauthenticated) {
		t.Fatalf("expected 401 to map to ErrUnauthenticated, got %v", err)
	}
}

func TestWSTransportEndToEnd(t *testing.T) {
	var subscribed string
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/__transmit/subscribe", subscribeRecorder(t, &subscribed))
	mux.HandleFunc("/__transmit/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x1})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"new_notification","count":8}`))
		_, _, _ = conn.ReadMessage()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tr := NewWSTransport(srv.URL)
	ctx := context.Background()
	if err := tr.Subscribe(ctx, "tok", ChannelName("7")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	stream, err := tr.Open(ctx, "tok", ChannelName("7"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stream.Close()

	raw, err := stream.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	evt, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	assert.Equal(t, evt.Type, EventNewNotification)
	assert.Equal(t, *evt.Count, 8)

	if _, err := tr.Open(ctx, "wrong", ChannelName("7")); !errors.Is(err, api.ErrUnauthenticated) {
		t.Fatalf("expected rejected handshake to map to ErrUnauthenticated, got %v", err)
	}
}
