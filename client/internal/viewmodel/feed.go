package viewmodel

import (
	"context"

	"go.uber.org/zap"

	"inkgora/client/internal/api"
	"inkgora/client/internal/cache"
	"inkgora/client/internal/model"
	"inkgora/client/internal/mutation"
)

// Feed 首页动态。
type Feed struct {
	deps  Deps
	pager *pager[model.Review]
}

func NewFeed(deps Deps) *Feed {
	return &Feed{
		deps: deps,
		pager: &pager[model.Review]{
			store: deps.Stores.Reviews,
			key:   cache.KeyFeed,
			fetch: deps.Gateway.Feed,
		},
	}
}

func (f *Feed) LoadFirst(ctx context.Context) ([]model.Review, error) {
	return f.pager.loadFirst(ctx)
}

func (f *Feed) LoadMore(ctx context.Context) (bool, error) {
	return f.pager.loadMore(ctx)
}

// Load 读取 feed；关注等操作使其失效后，下一次 Load 会从第 1 页重新拉取。
func (f *Feed) Load(ctx context.Context) ([]model.Review, error) {
	return f.pager.load(ctx)
}

// Stale 缓存是否已失效，界面据此决定何时调用 Load。
func (f *Feed) Stale() bool { return f.pager.stale() }

// Refresh 丢弃已加载的页，从第 1 页重建。
func (f *Feed) Refresh(ctx context.Context) ([]model.Review, error) {
	f.deps.Stores.Reviews.Invalidate(cache.KeyFeed)
	return f.pager.loadFirst(ctx)
}

func (f *Feed) Items() []model.Review { return f.pager.items() }

func (f *Feed) HasMore() bool { return f.pager.hasMore() }

func (f *Feed) Loading() bool { return f.pager.Loading() }

// ToggleLike 乐观切换点赞：所有包含该书评的集合立即更新，失败时恢复。
func (f *Feed) ToggleLike(ctx context.Context, reviewID int64) *mutation.Handle[api.LikeResult] {
	reviews := f.deps.Stores.Reviews
	return mutation.Dispatch(f.deps.Coordinator, ctx, mutation.Op[api.LikeResult]{
		Key: reviewMutationKey(reviewID),
		Predict: func() any {
			return patchEverywhere(reviews, reviewByID(reviewID), toggleLiked)
		},
		Network: func(ctx context.Context) (api.LikeResult, error) {
			return f.deps.Gateway.LikeReview(ctx, reviewID)
		},
		Reconcile: func(res api.LikeResult) {
			patchEverywhere(reviews, reviewByID(reviewID), applyLike(res))
		},
		Rollback: func(snap any) {
			snap.(keyedPatch[model.Review]).undo(reviews)
			f.deps.log().Info("[Feed] like rolled back", zap.Int64("review_id", reviewID))
		},
	})
}
