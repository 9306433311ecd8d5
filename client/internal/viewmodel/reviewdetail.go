package viewmodel

import (
	"context"
	"sync"

	"inkgora/client/internal/api"
	"inkgora/client/internal/model"
	"inkgora/client/internal/mutation"
)

// ReviewDetail 书评详情页：书评作为页面本地状态持有，不进入分页缓存。
type ReviewDetail struct {
	deps Deps

	mu     sync.Mutex
	review model.Review
}

func NewReviewDetail(deps Deps, review model.Review) *ReviewDetail {
	return &ReviewDetail{deps: deps, review: review}
}

func (d *ReviewDetail) Review() model.Review {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.review
}

func (d *ReviewDetail) set(r model.Review) {
	d.mu.Lock()
	d.review = r
	d.mu.Unlock()
}

func (d *ReviewDetail) update(fn func(model.Review) model.Review) model.Review {
	d.mu.Lock()
	defer d.mu.Unlock()
	prior := d.review
	d.review = fn(prior)
	return prior
}

// ToggleLike 与 feed 共用同一变更 key，两处同时操作时按顺序落定。
func (d *ReviewDetail) ToggleLike(ctx context.Context) *mutation.Handle[api.LikeResult] {
	id := d.Review().ID
	return mutation.Dispatch(d.deps.Coordinator, ctx, mutation.Op[api.LikeResult]{
		Key: reviewMutationKey(id),
		Predict: func() any {
			return d.update(toggleLiked)
		},
		Network: func(ctx context.Context) (api.LikeResult, error) {
			return d.deps.Gateway.LikeReview(ctx, id)
		},
		Reconcile: func(res api.LikeResult) {
			d.update(applyLike(res))
		},
		Rollback: func(snap any) {
			d.set(snap.(model.Review))
		},
	})
}
