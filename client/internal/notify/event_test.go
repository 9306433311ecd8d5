package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func intp(n int) *int { return &n }

func TestParseEvent(t *testing.T) {
	evt, err := ParseEvent([]byte(`{"type":"unread_count","count":5}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	assert.Equal(t, evt.Type, EventUnreadCount)
	assert.Equal(t, *evt.Count, 5)

	evt, err = ParseEvent([]byte(`{"type":"new_notification","notification":{"id":"9","type":"like","isRead":false,"fromUser":{"id":3,"avatar_url":"a.png"},"createdAt":"2026-01-02T03:04:05Z"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.Count != nil {
		t.Fatalf("expected no count, got %d", *evt.Count)
	}
	n := evt.Notification
	if n == nil || n.ID != 9 || n.Type != "like" {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if n.Actor == nil || n.Actor.ID != 3 || n.Actor.Avatar != "a.png" {
		t.Fatalf("expected actor from fromUser with avatar fallback, got %+v", n.Actor)
	}
	assert.Equal(t, n.CreatedAt, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
}

func TestParseEventRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"count":3}`,
		`{"type":"unread_count"}`,
		`{"type":"new_notification","notification":"oops"}`,
	} {
		if _, err := ParseEvent([]byte(raw)); !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("%s: expected ErrMalformedEvent, got %v", raw, err)
		}
	}
}

// TestReduceNeverNegative 验证各类事件归约后计数不为负。
func TestReduceNeverNegative(t *testing.T) {
	cases := []struct {
		name  string
		start int
		evt   Event
		want  int
	}{
		{"absolute set", 2, Event{Type: EventUnreadCount, Count: intp(5)}, 5},
		{"negative absolute clamps", 2, Event{Type: EventUnreadCount, Count: intp(-3)}, 0},
		{"new without count increments", 5, Event{Type: EventNewNotification}, 6},
		{"new with count sets", 5, Event{Type: EventNewNotification, Count: intp(9)}, 9},
		{"unknown keeps", 4, Event{Type: "something_else"}, 4},
	}
	for _, tc := range cases {
		if got := Reduce(tc.start, tc.evt); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestCounterFloorAndCallbacks(t *testing.T) {
	c := NewCounter()
	var seen []int
	c.OnChange(func(n int) { seen = append(seen, n) })

	c.Decrement()
	assert.Equal(t, c.Value(), 0)

	c.Set(2)
	c.Increment()
	c.Decrement()
	c.Set(-1)
	c.Apply(Event{Type: EventNewNotification})

	assert.Equal(t, c.Value(), 1)
	// 值未变化的更新不触发回调
	assert.Equal(t, seen, []int{2, 3, 2, 0, 1})
}

func TestCounterRestoreYieldsToPushedCount(t *testing.T) {
	c := NewCounter()
	c.Set(5)

	// 预测清零期间只收到 +1，回滚后两者叠加
	prev, gen := c.Take()
	c.Apply(Event{Type: EventNewNotification})
	assert.Equal(t, c.Restore(gen, prev), 6)

	// 预测期间收到绝对计数，回滚不再覆盖它
	prev, gen = c.Take()
	c.Apply(Event{Type: EventUnreadCount, Count: intp(7)})
	assert.Equal(t, c.Restore(gen, prev), 7)

	applied, gen := c.Adjust(-1)
	assert.Equal(t, applied, -1)
	assert.Equal(t, c.Restore(gen, -applied), 7)

	// 已为 0 时减一不生效，回滚也不加回
	c.Set(0)
	applied, _ = c.Adjust(-1)
	assert.Equal(t, applied, 0)
}
