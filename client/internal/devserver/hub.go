package devserver

import (
	"sync"

	"github.com/golang/glog"
)

const listenerBuffer = 16

// listener 一条已打开的推送流（SSE 或 websocket）。
type listener struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (l *listener) stop() { l.once.Do(func() { close(l.done) }) }

// Hub 按频道扇出推送帧。频道必须先经过 subscribe 握手才能打开流。
type Hub struct {
	mu         sync.Mutex
	subscribed map[string]bool
	listeners  map[string]map[*listener]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subscribed: make(map[string]bool),
		listeners:  make(map[string]map[*listener]struct{}),
	}
}

func (h *Hub) Subscribe(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribed[channel] = true
}

func (h *Hub) Subscribed(channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subscribed[channel]
}

// attach 注册一条流，返回的 detach 必须在流结束时调用。
func (h *Hub) attach(channel string) (*listener, func()) {
	l := &listener{frames: make(chan []byte, listenerBuffer), done: make(chan struct{})}

	h.mu.Lock()
	if h.listeners[channel] == nil {
		h.listeners[channel] = make(map[*listener]struct{})
	}
	h.listeners[channel][l] = struct{}{}
	total := len(h.listeners[channel])
	h.mu.Unlock()
	glog.V(1).Infof("[Hub] listener attached channel=%s total=%d", channel, total)

	return l, func() {
		h.mu.Lock()
		delete(h.listeners[channel], l)
		remaining := len(h.listeners[channel])
		h.mu.Unlock()
		l.stop()
		glog.V(1).Infof("[Hub] listener detached channel=%s remaining=%d", channel, remaining)
	}
}

// Publish 投递一帧；慢消费者的帧直接丢弃。返回实际投递数。
func (h *Hub) Publish(channel string, frame []byte) int {
	h.mu.Lock()
	targets := make([]*listener, 0, len(h.listeners[channel]))
	for l := range h.listeners[channel] {
		targets = append(targets, l)
	}
	h.mu.Unlock()

	delivered := 0
	for _, l := range targets {
		select {
		case l.frames <- frame:
			delivered++
		default:
			glog.Warningf("[Hub] dropping frame for slow listener channel=%s", channel)
		}
	}
	return delivered
}

// Listeners 当前打开的流数量。
func (h *Hub) Listeners(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners[channel])
}

// Kick 断开频道上的所有流，用来模拟服务端掉线。
func (h *Hub) Kick(channel string) {
	h.mu.Lock()
	targets := make([]*listener, 0, len(h.listeners[channel]))
	for l := range h.listeners[channel] {
		targets = append(targets, l)
	}
	h.mu.Unlock()

	for _, l := range targets {
		l.stop()
	}
}
