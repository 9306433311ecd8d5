package viewmodel

import (
	"context"

	"inkgora/client/internal/cache"
	"inkgora/client/internal/model"
	"inkgora/client/internal/mutation"
)

// Notifications 通知列表与未读数。已读相关变更共用一个 key 串行执行。
type Notifications struct {
	deps  Deps
	pager *pager[model.Notification]
}

func NewNotifications(deps Deps) *Notifications {
	return &Notifications{
		deps: deps,
		pager: &pager[model.Notification]{
			store: deps.Stores.Notifications,
			key:   cache.KeyNotifications,
			fetch: deps.Gateway.Notifications,
		},
	}
}

func (n *Notifications) LoadFirst(ctx context.Context) ([]model.Notification, error) {
	return n.pager.loadFirst(ctx)
}

func (n *Notifications) LoadMore(ctx context.Context) (bool, error) {
	return n.pager.loadMore(ctx)
}

func (n *Notifications) Load(ctx context.Context) ([]model.Notification, error) {
	return n.pager.load(ctx)
}

func (n *Notifications) Items() []model.Notification { return n.pager.items() }

func (n *Notifications) HasMore() bool { return n.pager.hasMore() }

func (n *Notifications) UnreadCount() int { return n.deps.Counter.Value() }

// RefreshUnread 以服务端计数为准覆盖本地未读数。
func (n *Notifications) RefreshUnread(ctx context.Context) (int, error) {
	count, err := n.deps.Gateway.UnreadCount(ctx)
	if err != nil {
		return n.deps.Counter.Value(), err
	}
	return n.deps.Counter.Set(count), nil
}

// markReadSnap 回滚时把未读数加回 restore；gen 之后收到过服务端计数则以服务端为准。
type markReadSnap struct {
	patched []cache.Patched[model.Notification]
	restore int
	gen     uint64
}

func markRead(item model.Notification) model.Notification {
	item.Read = true
	return item
}

// MarkRead 未读的通知标记为已读并减少未读数；已读或不在列表中的通知不改计数。
func (n *Notifications) MarkRead(ctx context.Context, id int64) *mutation.Handle[struct{}] {
	store := n.deps.Stores.Notifications
	return mutation.Dispatch(n.deps.Coordinator, ctx, mutation.Op[struct{}]{
		Key: notificationsReadKey,
		Predict: func() any {
			p, ok := store.PatchItem(cache.KeyNotifications,
				func(item model.Notification) bool { return item.ID == id && !item.Read }, markRead)
			if !ok {
				return markReadSnap{}
			}
			applied, gen := n.deps.Counter.Adjust(-1)
			return markReadSnap{patched: []cache.Patched[model.Notification]{p}, restore: -applied, gen: gen}
		},
		Network: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, n.deps.Gateway.MarkNotificationRead(ctx, id)
		},
		Rollback: func(snap any) {
			s := snap.(markReadSnap)
			store.Unpatch(cache.KeyNotifications, s.patched)
			if s.restore > 0 {
				n.deps.Counter.Restore(s.gen, s.restore)
			}
		},
	})
}

// MarkAllRead 全部标记已读并清零未读数；失败时恢复列表，
// 未读数加回清零前的值，期间推送来的服务端计数优先。
func (n *Notifications) MarkAllRead(ctx context.Context) *mutation.Handle[struct{}] {
	store := n.deps.Stores.Notifications
	return mutation.Dispatch(n.deps.Coordinator, ctx, mutation.Op[struct{}]{
		Key: notificationsReadKey,
		Predict: func() any {
			var s markReadSnap
			s.patched = store.PatchAll(cache.KeyNotifications,
				func(item model.Notification) bool { return !item.Read }, markRead)
			s.restore, s.gen = n.deps.Counter.Take()
			return s
		},
		Network: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, n.deps.Gateway.MarkAllNotificationsRead(ctx)
		},
		Rollback: func(snap any) {
			s := snap.(markReadSnap)
			store.Unpatch(cache.KeyNotifications, s.patched)
			n.deps.Counter.Restore(s.gen, s.restore)
		},
	})
}
