package viewmodel

import (
	"context"
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"inkgora/client/internal/api"
	"inkgora/client/internal/cache"
	"inkgora/client/internal/model"
)

// TestFeedLikeRollbackScenario 点赞 #42：立即显示已点赞 11，网络失败后恢复为未点赞 10 并返回错误。
func TestFeedLikeRollbackScenario(t *testing.T) {
	g := make(gate)
	netErr := errors.New("network down")
	gw := &fakeGateway{
		feed: func(page int) (model.Page[model.Review], error) {
			return reviewPage(1, 1, review(41, 3), review(42, 3)), nil
		},
		userReviews: func(id int64, page int) (model.Page[model.Review], error) {
			return reviewPage(1, 1, review(42, 3)), nil
		},
		like: func(id int64) (api.LikeResult, error) {
			g.wait()
			return api.LikeResult{}, netErr
		},
	}
	deps := newTestDeps(t, gw)
	feed := NewFeed(deps)
	profile := NewProfile(deps, 3)

	ctx := context.Background()
	if _, err := feed.LoadFirst(ctx); err != nil {
		t.Fatalf("load feed: %v", err)
	}
	if _, err := profile.pager.loadFirst(ctx); err != nil {
		t.Fatalf("load user reviews: %v", err)
	}
	before := feed.Items()

	h := feed.ToggleLike(ctx, 42)

	liked := feed.Items()[1]
	assert.Equal(t, liked.IsLiked, true)
	assert.Equal(t, liked.LikesCount, 11)
	// 个人主页中的同一条书评也同步更新
	assert.Equal(t, profile.Reviews()[0].IsLiked, true)

	close(g)
	if _, err := h.Result(); !errors.Is(err, netErr) {
		t.Fatalf("expected network error surfaced, got %v", err)
	}
	assert.Equal(t, feed.Items(), before)
	assert.Equal(t, profile.Reviews()[0].LikesCount, 10)
	assert.Equal(t, profile.Reviews()[0].IsLiked, false)
}

func TestFeedLikeReconcilesWithServerCount(t *testing.T) {
	gw := &fakeGateway{
		feed: func(page int) (model.Page[model.Review], error) {
			return reviewPage(1, 1, review(42, 3)), nil
		},
		like: func(id int64) (api.LikeResult, error) {
			return api.LikeResult{IsLiked: true, LikesCount: 15}, nil
		},
	}
	feed := NewFeed(newTestDeps(t, gw))
	ctx := context.Background()
	_, _ = feed.LoadFirst(ctx)

	res, err := feed.ToggleLike(ctx, 42).Wait(ctx)
	if err != nil {
		t.Fatalf("toggle like: %v", err)
	}
	assert.Equal(t, res.LikesCount, 15)
	items := feed.Items()
	assert.Equal(t, len(items), 1)
	assert.Equal(t, items[0].LikesCount, 15)
	assert.Equal(t, items[0].IsLiked, true)
}

func TestFeedPagination(t *testing.T) {
	calls := 0
	gw := &fakeGateway{
		feed: func(page int) (model.Page[model.Review], error) {
			calls++
			switch page {
			case 1:
				return reviewPage(1, 2, review(1, 3), review(2, 3)), nil
			default:
				return reviewPage(2, 2, review(3, 4)), nil
			}
		},
	}
	feed := NewFeed(newTestDeps(t, gw))
	ctx := context.Background()

	if _, err := feed.LoadFirst(ctx); err != nil {
		t.Fatalf("load first: %v", err)
	}
	assert.Equal(t, feed.HasMore(), true)

	loaded, err := feed.LoadMore(ctx)
	if err != nil || !loaded {
		t.Fatalf("expected page 2 loaded, got loaded=%v err=%v", loaded, err)
	}
	assert.Equal(t, reviewIDs(feed.Items()), []int64{1, 2, 3})
	assert.Equal(t, feed.HasMore(), false)

	loaded, _ = feed.LoadMore(ctx)
	assert.Equal(t, loaded, false)
	assert.Equal(t, calls, 2)

	// Refresh 丢弃第 2 页
	if _, err := feed.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	assert.Equal(t, reviewIDs(feed.Items()), []int64{1, 2})
}

func TestReviewDetailToggleLikeRollback(t *testing.T) {
	g := make(gate)
	gw := &fakeGateway{
		like: func(id int64) (api.LikeResult, error) {
			g.wait()
			return api.LikeResult{}, errors.New("boom")
		},
	}
	detail := NewReviewDetail(newTestDeps(t, gw), review(42, 3))

	h := detail.ToggleLike(context.Background())
	assert.Equal(t, detail.Review().IsLiked, true)
	assert.Equal(t, detail.Review().LikesCount, 11)

	close(g)
	_, _ = h.Result()
	assert.Equal(t, detail.Review(), review(42, 3))
}

// TestFeedAndDetailLikesSerialize 验证 feed 与详情页对同一书评的连续点赞按顺序落定，
// 先发者失败时后发者的预测基于恢复后的状态重新计算。
func TestFeedAndDetailLikesSerialize(t *testing.T) {
	first := make(gate)
	calls := 0
	gw := &fakeGateway{
		feed: func(page int) (model.Page[model.Review], error) {
			return reviewPage(1, 1, review(42, 3)), nil
		},
		like: func(id int64) (api.LikeResult, error) {
			calls++
			if calls == 1 {
				first.wait()
				return api.LikeResult{}, errors.New("boom")
			}
			return api.LikeResult{IsLiked: true, LikesCount: 11}, nil
		},
	}
	deps := newTestDeps(t, gw)
	feed := NewFeed(deps)
	ctx := context.Background()
	_, _ = feed.LoadFirst(ctx)

	h1 := feed.ToggleLike(ctx, 42)
	h2 := feed.ToggleLike(ctx, 42)
	assert.Equal(t, feed.Items()[0].IsLiked, false)

	close(first)
	if _, err := h1.Result(); err == nil {
		t.Fatalf("expected first like to fail")
	}
	if _, err := h2.Result(); err != nil {
		t.Fatalf("second like: %v", err)
	}
	got := feed.Items()[0]
	assert.Equal(t, got.IsLiked, true)
	assert.Equal(t, got.LikesCount, 11)
	assert.Equal(t, deps.Stores.Reviews.IsStale(cache.KeyFeed), false)
}
