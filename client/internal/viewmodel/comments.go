package viewmodel

import (
	"context"
	"time"

	"github.com/google/uuid"

	"inkgora/client/internal/cache"
	"inkgora/client/internal/model"
	"inkgora/client/internal/mutation"
)

// Comments 单条书评下的评论。
type Comments struct {
	deps     Deps
	reviewID int64
	key      string
	pager    *pager[model.Comment]
}

func NewComments(deps Deps, reviewID int64) *Comments {
	key := cache.KeyReviewComments(itoa(reviewID))
	return &Comments{
		deps:     deps,
		reviewID: reviewID,
		key:      key,
		pager: &pager[model.Comment]{
			store: deps.Stores.Comments,
			key:   key,
			fetch: func(ctx context.Context, page int) (model.Page[model.Comment], error) {
				return deps.Gateway.ReviewComments(ctx, reviewID, page)
			},
		},
	}
}

func (c *Comments) LoadFirst(ctx context.Context) ([]model.Comment, error) {
	return c.pager.loadFirst(ctx)
}

func (c *Comments) LoadMore(ctx context.Context) (bool, error) {
	return c.pager.loadMore(ctx)
}

func (c *Comments) Load(ctx context.Context) ([]model.Comment, error) {
	return c.pager.load(ctx)
}

func (c *Comments) Items() []model.Comment { return c.pager.items() }

func (c *Comments) HasMore() bool { return c.pager.hasMore() }

type commentSnap struct {
	inserted bool
	counts   keyedPatch[model.Review]
}

// Add 以临时 id 乐观插入评论并给书评评论数 +1；提交后换成服务端 id，失败时移除。
func (c *Comments) Add(ctx context.Context, content string) *mutation.Handle[model.Comment] {
	comments := c.deps.Stores.Comments
	reviews := c.deps.Stores.Reviews
	tempID := uuid.NewString()
	isTemp := func(cm model.Comment) bool { return cm.ID == 0 && cm.TempID == tempID }

	return mutation.Dispatch(c.deps.Coordinator, ctx, mutation.Op[model.Comment]{
		// 与点赞共用 key：两者改写同一条书评
		Key: reviewMutationKey(c.reviewID),
		Predict: func() any {
			inserted := comments.Prepend(c.key, model.Comment{
				TempID:    tempID,
				ReviewID:  c.reviewID,
				Author:    c.deps.Me,
				Content:   content,
				CreatedAt: time.Now(),
			})
			counts := patchEverywhere(reviews, reviewByID(c.reviewID), func(r model.Review) model.Review {
				r.CommentsCount++
				return r
			})
			return commentSnap{inserted: inserted, counts: counts}
		},
		Network: func(ctx context.Context) (model.Comment, error) {
			return c.deps.Gateway.AddComment(ctx, c.reviewID, content)
		},
		Reconcile: func(saved model.Comment) {
			comments.PatchItem(c.key, isTemp, func(model.Comment) model.Comment { return saved })
		},
		Rollback: func(snap any) {
			s := snap.(commentSnap)
			if s.inserted {
				comments.RemoveItems(c.key, isTemp)
			}
			s.counts.undo(reviews)
		},
	})
}
