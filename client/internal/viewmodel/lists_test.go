package viewmodel

import (
	"context"
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"inkgora/client/internal/api"
	"inkgora/client/internal/model"
	"inkgora/client/internal/notify"
)

func bookPage(ids ...string) model.Page[model.Book] {
	items := make([]model.Book, 0, len(ids))
	for _, id := range ids {
		items = append(items, model.Book{ID: id, Title: "book " + id})
	}
	return model.Page[model.Book]{Items: items, Pagination: model.Pagination{CurrentPage: 1, LastPage: 1, Total: len(ids)}}
}

func bookIDs(bs []model.Book) []string {
	out := make([]string, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.ID)
	}
	return out
}

func TestToReadListAddPrependsAndReconciles(t *testing.T) {
	gw := &fakeGateway{
		toRead: func(int) (model.Page[model.Book], error) { return bookPage("a", "b"), nil },
		addToRead: func(b api.NewBook) (model.Book, error) {
			return model.Book{ID: b.BookID, Title: "Dune", Authors: []string{"Frank Herbert"}}, nil
		},
	}
	list := NewToReadList(newTestDeps(t, gw))
	ctx := context.Background()
	_, _ = list.LoadFirst(ctx)

	h := list.Add(ctx, api.NewBook{BookID: "dune", Title: "dune"})
	assert.Equal(t, bookIDs(list.Items()), []string{"dune", "a", "b"})
	assert.Equal(t, list.Contains("dune"), true)

	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("add: %v", err)
	}
	assert.Equal(t, list.Items()[0].Title, "Dune")
	assert.Equal(t, list.Items()[0].Authors, []string{"Frank Herbert"})
}

func TestToReadListAddRollback(t *testing.T) {
	gw := &fakeGateway{
		toRead:    func(int) (model.Page[model.Book], error) { return bookPage("a", "b"), nil },
		addToRead: func(api.NewBook) (model.Book, error) { return model.Book{}, errors.New("boom") },
	}
	list := NewToReadList(newTestDeps(t, gw))
	ctx := context.Background()
	_, _ = list.LoadFirst(ctx)

	if _, err := list.Add(ctx, api.NewBook{BookID: "dune"}).Wait(ctx); err == nil {
		t.Fatalf("expected add failure")
	}
	assert.Equal(t, bookIDs(list.Items()), []string{"a", "b"})

	// 已在清单中的书失败时不能被移除
	if _, err := list.Add(ctx, api.NewBook{BookID: "a"}).Wait(ctx); err == nil {
		t.Fatalf("expected add failure")
	}
	assert.Equal(t, bookIDs(list.Items()), []string{"a", "b"})
}

func TestToReadListRemoveRollbackRestoresPosition(t *testing.T) {
	g := make(gate)
	gw := &fakeGateway{
		toRead: func(int) (model.Page[model.Book], error) { return bookPage("a", "b", "c"), nil },
		removeToRead: func(string) error {
			g.wait()
			return errors.New("boom")
		},
	}
	list := NewToReadList(newTestDeps(t, gw))
	ctx := context.Background()
	_, _ = list.LoadFirst(ctx)

	h := list.Remove(ctx, "b")
	assert.Equal(t, bookIDs(list.Items()), []string{"a", "c"})

	close(g)
	_, _ = h.Result()
	assert.Equal(t, bookIDs(list.Items()), []string{"a", "b", "c"})
}

func notificationPage(ns ...model.Notification) model.Page[model.Notification] {
	return model.Page[model.Notification]{Items: ns, Pagination: model.Pagination{CurrentPage: 1, LastPage: 1, Total: len(ns)}}
}

func TestNotificationsMarkRead(t *testing.T) {
	fail := true
	gw := &fakeGateway{
		notifications: func(int) (model.Page[model.Notification], error) {
			return notificationPage(
				model.Notification{ID: 1, Type: "like"},
				model.Notification{ID: 2, Type: "follow", Read: true},
			), nil
		},
		markRead: func(int64) error {
			if fail {
				return errors.New("boom")
			}
			return nil
		},
	}
	deps := newTestDeps(t, gw)
	n := NewNotifications(deps)
	ctx := context.Background()
	_, _ = n.LoadFirst(ctx)
	deps.Counter.Set(3)

	if _, err := n.MarkRead(ctx, 1).Wait(ctx); err == nil {
		t.Fatalf("expected failure")
	}
	assert.Equal(t, n.Items()[0].Read, false)
	assert.Equal(t, n.UnreadCount(), 3)

	fail = false
	if _, err := n.MarkRead(ctx, 1).Wait(ctx); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	assert.Equal(t, n.Items()[0].Read, true)
	assert.Equal(t, n.UnreadCount(), 2)

	// 已读通知不改计数
	if _, err := n.MarkRead(ctx, 2).Wait(ctx); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	assert.Equal(t, n.UnreadCount(), 2)
}

func TestNotificationsMarkAllReadRollback(t *testing.T) {
	g := make(gate)
	gw := &fakeGateway{
		notifications: func(int) (model.Page[model.Notification], error) {
			return notificationPage(
				model.Notification{ID: 1},
				model.Notification{ID: 2, Read: true},
				model.Notification{ID: 3},
			), nil
		},
		markAllRead: func() error {
			g.wait()
			return errors.New("boom")
		},
	}
	deps := newTestDeps(t, gw)
	n := NewNotifications(deps)
	ctx := context.Background()
	_, _ = n.LoadFirst(ctx)
	deps.Counter.Set(5)
	before := n.Items()

	h := n.MarkAllRead(ctx)
	assert.Equal(t, n.UnreadCount(), 0)
	for _, item := range n.Items() {
		assert.Equal(t, item.Read, true)
	}

	close(g)
	_, _ = h.Result()
	assert.Equal(t, n.Items(), before)
	assert.Equal(t, n.UnreadCount(), 5)
}

func TestNotificationsRefreshUnread(t *testing.T) {
	count, err := 7, error(nil)
	gw := &fakeGateway{unread: func() (int, error) { return count, err }}
	deps := newTestDeps(t, gw)
	n := NewNotifications(deps)

	got, e := n.RefreshUnread(context.Background())
	if e != nil {
		t.Fatalf("refresh: %v", e)
	}
	assert.Equal(t, got, 7)

	err = errors.New("offline")
	got, e = n.RefreshUnread(context.Background())
	assert.Equal(t, e != nil, true)
	assert.Equal(t, got, 7)
}

func TestCommentsAddSwapsTempForServerComment(t *testing.T) {
	g := make(gate)
	gw := &fakeGateway{
		feed: func(int) (model.Page[model.Review], error) { return reviewPage(1, 1, review(42, 3)), nil },
		comments: func(int64, int) (model.Page[model.Comment], error) {
			return model.Page[model.Comment]{
				Items:      []model.Comment{{ID: 5, ReviewID: 42, Content: "older"}},
				Pagination: model.Pagination{CurrentPage: 1, LastPage: 1, Total: 1},
			}, nil
		},
		addComment: func(id int64, content string) (model.Comment, error) {
			g.wait()
			return model.Comment{ID: 9, ReviewID: id, Content: content}, nil
		},
	}
	deps := newTestDeps(t, gw)
	feed := NewFeed(deps)
	comments := NewComments(deps, 42)
	ctx := context.Background()
	_, _ = feed.LoadFirst(ctx)
	_, _ = comments.LoadFirst(ctx)

	h := comments.Add(ctx, "great read")
	items := comments.Items()
	assert.Equal(t, len(items), 2)
	assert.Equal(t, items[0].ID, int64(0))
	assert.Equal(t, items[0].TempID != "", true)
	assert.Equal(t, items[0].Author.ID, int64(1))
	assert.Equal(t, feed.Items()[0].CommentsCount, 1)

	close(g)
	if _, err := h.Result(); err != nil {
		t.Fatalf("add comment: %v", err)
	}
	items = comments.Items()
	assert.Equal(t, items[0].ID, int64(9))
	assert.Equal(t, items[0].Content, "great read")
	assert.Equal(t, items[1].ID, int64(5))
	assert.Equal(t, feed.Items()[0].CommentsCount, 1)
}

func TestCommentsAddRollback(t *testing.T) {
	gw := &fakeGateway{
		feed: func(int) (model.Page[model.Review], error) { return reviewPage(1, 1, review(42, 3)), nil },
		comments: func(int64, int) (model.Page[model.Comment], error) {
			return model.Page[model.Comment]{Pagination: model.Pagination{CurrentPage: 1, LastPage: 1}}, nil
		},
		addComment: func(int64, string) (model.Comment, error) { return model.Comment{}, errors.New("boom") },
	}
	deps := newTestDeps(t, gw)
	feed := NewFeed(deps)
	comments := NewComments(deps, 42)
	ctx := context.Background()
	_, _ = feed.LoadFirst(ctx)
	_, _ = comments.LoadFirst(ctx)

	if _, err := comments.Add(ctx, "nope").Wait(ctx); err == nil {
		t.Fatalf("expected failure")
	}
	assert.Equal(t, len(comments.Items()), 0)
	assert.Equal(t, feed.Items()[0].CommentsCount, 0)
}

// TestNotificationsMarkAllReadRollbackKeepsPushedCounts 标记全部已读失败前通道推送的计数不被回滚覆盖。
func TestNotificationsMarkAllReadRollbackKeepsPushedCounts(t *testing.T) {
	seven := 7
	cases := []struct {
		name   string
		pushed notify.Event
		want   int
	}{
		{"absolute count wins", notify.Event{Type: notify.EventUnreadCount, Count: &seven}, 7},
		{"increment stacks on restored count", notify.Event{Type: notify.EventNewNotification}, 6},
	}
	for _, tc := range cases {
		g := make(gate)
		gw := &fakeGateway{
			notifications: func(int) (model.Page[model.Notification], error) {
				return notificationPage(model.Notification{ID: 1}, model.Notification{ID: 3}), nil
			},
			markAllRead: func() error {
				g.wait()
				return errors.New("boom")
			},
		}
		deps := newTestDeps(t, gw)
		n := NewNotifications(deps)
		ctx := context.Background()
		_, _ = n.LoadFirst(ctx)
		deps.Counter.Set(5)

		h := n.MarkAllRead(ctx)
		deps.Counter.Apply(tc.pushed)
		close(g)
		if _, err := h.Result(); err == nil {
			t.Fatalf("%s: expected failure", tc.name)
		}
		if got := n.UnreadCount(); got != tc.want {
			t.Fatalf("%s: expected unread %d, got %d", tc.name, tc.want, got)
		}
	}
}
