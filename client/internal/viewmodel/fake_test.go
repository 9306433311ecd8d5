package viewmodel

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"inkgora/client/internal/api"
	"inkgora/client/internal/cache"
	"inkgora/client/internal/model"
	"inkgora/client/internal/mutation"
	"inkgora/client/internal/notify"
)

var errNotStubbed = errors.New("not stubbed")

// fakeGateway 每个方法对应一个可选桩函数，未设置时返回 errNotStubbed。
type fakeGateway struct {
	feed          func(page int) (model.Page[model.Review], error)
	like          func(id int64) (api.LikeResult, error)
	comments      func(id int64, page int) (model.Page[model.Comment], error)
	addComment    func(id int64, content string) (model.Comment, error)
	toRead        func(page int) (model.Page[model.Book], error)
	addToRead     func(b api.NewBook) (model.Book, error)
	removeToRead  func(id string) error
	user          func(id int64) (model.User, error)
	userReviews   func(id int64, page int) (model.Page[model.Review], error)
	follow        func(id int64) (api.FollowResult, error)
	unfollow      func(id int64) (api.FollowResult, error)
	block         func(id int64) error
	unblock       func(id int64) error
	notifications func(page int) (model.Page[model.Notification], error)
	unread        func() (int, error)
	markRead      func(id int64) error
	markAllRead   func() error
}

func (f *fakeGateway) Feed(_ context.Context, page int) (model.Page[model.Review], error) {
	if f.feed == nil {
		return model.Page[model.Review]{}, errNotStubbed
	}
	return f.feed(page)
}

func (f *fakeGateway) LikeReview(_ context.Context, id int64) (api.LikeResult, error) {
	if f.like == nil {
		return api.LikeResult{}, errNotStubbed
	}
	return f.like(id)
}

func (f *fakeGateway) ReviewComments(_ context.Context, id int64, page int) (model.Page[model.Comment], error) {
	if f.comments == nil {
		return model.Page[model.Comment]{}, errNotStubbed
	}
	return f.comments(id, page)
}

func (f *fakeGateway) AddComment(_ context.Context, id int64, content string) (model.Comment, error) {
	if f.addComment == nil {
		return model.Comment{}, errNotStubbed
	}
	return f.addComment(id, content)
}

func (f *fakeGateway) ToReadList(_ context.Context, page int) (model.Page[model.Book], error) {
	if f.toRead == nil {
		return model.Page[model.Book]{}, errNotStubbed
	}
	return f.toRead(page)
}

func (f *fakeGateway) AddToReadList(_ context.Context, b api.NewBook) (model.Book, error) {
	if f.addToRead == nil {
		return model.Book{}, errNotStubbed
	}
	return f.addToRead(b)
}

func (f *fakeGateway) RemoveFromToReadList(_ context.Context, id string) error {
	if f.removeToRead == nil {
		return errNotStubbed
	}
	return f.removeToRead(id)
}

func (f *fakeGateway) User(_ context.Context, id int64) (model.User, error) {
	if f.user == nil {
		return model.User{}, errNotStubbed
	}
	return f.user(id)
}

func (f *fakeGateway) UserReviews(_ context.Context, id int64, page int) (model.Page[model.Review], error) {
	if f.userReviews == nil {
		return model.Page[model.Review]{}, errNotStubbed
	}
	return f.userReviews(id, page)
}

func (f *fakeGateway) Follow(_ context.Context, id int64) (api.FollowResult, error) {
	if f.follow == nil {
		return api.FollowResult{}, errNotStubbed
	}
	return f.follow(id)
}

func (f *fakeGateway) Unfollow(_ context.Context, id int64) (api.FollowResult, error) {
	if f.unfollow == nil {
		return api.FollowResult{}, errNotStubbed
	}
	return f.unfollow(id)
}

func (f *fakeGateway) Block(_ context.Context, id int64) error {
	if f.block == nil {
		return errNotStubbed
	}
	return f.block(id)
}

func (f *fakeGateway) Unblock(_ context.Context, id int64) error {
	if f.unblock == nil {
		return errNotStubbed
	}
	return f.unblock(id)
}

func (f *fakeGateway) Notifications(_ context.Context, page int) (model.Page[model.Notification], error) {
	if f.notifications == nil {
		return model.Page[model.Notification]{}, errNotStubbed
	}
	return f.notifications(page)
}

func (f *fakeGateway) UnreadCount(context.Context) (int, error) {
	if f.unread == nil {
		return 0, errNotStubbed
	}
	return f.unread()
}

func (f *fakeGateway) MarkNotificationRead(_ context.Context, id int64) error {
	if f.markRead == nil {
		return errNotStubbed
	}
	return f.markRead(id)
}

func (f *fakeGateway) MarkAllNotificationsRead(context.Context) error {
	if f.markAllRead == nil {
		return errNotStubbed
	}
	return f.markAllRead()
}

func newTestDeps(t *testing.T, gw Gateway) Deps {
	t.Helper()
	coord := mutation.New(mutation.Options{Timeout: time.Second, Logger: zap.NewNop()})
	t.Cleanup(func() { _ = coord.Close() })
	return Deps{
		Gateway:     gw,
		Coordinator: coord,
		Stores:      NewStores(cache.NewRegistry()),
		Counter:     notify.NewCounter(),
		Me:          model.User{ID: 1, Username: "me"},
		Logger:      zap.NewNop(),
	}
}

func reviewPage(current, last int, reviews ...model.Review) model.Page[model.Review] {
	return model.Page[model.Review]{
		Items:      reviews,
		Pagination: model.Pagination{CurrentPage: current, LastPage: last, Total: last * len(reviews)},
	}
}

func review(id, authorID int64) model.Review {
	return model.Review{ID: id, Author: model.User{ID: authorID}, LikesCount: 10}
}

func reviewIDs(rs []model.Review) []int64 {
	out := make([]int64, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

// gate 让测试在网络调用返回前检查预测状态。
type gate chan struct{}

func (g gate) wait() { <-g }
