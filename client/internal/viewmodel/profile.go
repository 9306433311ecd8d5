package viewmodel

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"inkgora/client/internal/api"
	"inkgora/client/internal/cache"
	"inkgora/client/internal/model"
	"inkgora/client/internal/mutation"
)

// Profile 用户主页：资料、书评列表与关注/拉黑关系。
type Profile struct {
	deps    Deps
	userID  int64
	userKey string
	pager   *pager[model.Review]
}

func NewProfile(deps Deps, userID int64) *Profile {
	return &Profile{
		deps:    deps,
		userID:  userID,
		userKey: cache.KeyUser(itoa(userID)),
		pager: &pager[model.Review]{
			store: deps.Stores.Reviews,
			key:   cache.KeyUserReviews(itoa(userID)),
			fetch: func(ctx context.Context, page int) (model.Page[model.Review], error) {
				return deps.Gateway.UserReviews(ctx, userID, page)
			},
		},
	}
}

// Load 并发拉取资料与第一页书评。
func (p *Profile) Load(ctx context.Context) (model.User, error) {
	var user model.User
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := p.deps.Gateway.User(gctx, p.userID)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	g.Go(func() error {
		_, err := p.pager.loadFirst(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.User{}, err
	}

	single := model.Page[model.User]{
		Items:      []model.User{user},
		Pagination: model.Pagination{CurrentPage: 1, LastPage: 1, Total: 1},
	}
	if _, err := p.deps.Stores.Users.Replace(p.userKey, single, 1); err != nil {
		return model.User{}, err
	}
	return user, nil
}

func (p *Profile) LoadMoreReviews(ctx context.Context) (bool, error) {
	return p.pager.loadMore(ctx)
}

// LoadReviews 书评列表失效或未加载时重新拉取第 1 页。
func (p *Profile) LoadReviews(ctx context.Context) ([]model.Review, error) {
	return p.pager.load(ctx)
}

func (p *Profile) User() (model.User, bool) {
	items := p.deps.Stores.Users.Items(p.userKey)
	if len(items) == 0 {
		return model.User{}, false
	}
	return items[0], true
}

func (p *Profile) Reviews() []model.Review { return p.pager.items() }

func (p *Profile) HasMoreReviews() bool { return p.pager.hasMore() }

func (p *Profile) isUser(u model.User) bool { return u.ID == p.userID }

// relationSnap 关系类变更的回滚信息。
type relationSnap struct {
	user    []cache.Patched[model.User]
	removed []cache.Removed[model.Review]
}

func (p *Profile) patchUser(update func(model.User) model.User) []cache.Patched[model.User] {
	return p.deps.Stores.Users.PatchAll(p.userKey, p.isUser, update)
}

func (p *Profile) rollback(snap any) {
	s := snap.(relationSnap)
	p.deps.Stores.Users.Unpatch(p.userKey, s.user)
	p.deps.Stores.Reviews.Reinsert(cache.KeyFeed, s.removed)
	p.deps.log().Info("[Profile] relation change rolled back", zap.Int64("user_id", p.userID))
}

func (p *Profile) applyFollowResult(res api.FollowResult) {
	p.patchUser(func(u model.User) model.User {
		u.IsFollowing = res.Followed
		u.FollowRequestPending = res.Pending
		u.FollowersCount = res.FollowersCount
		return u
	})
}

// Follow 公开账号直接关注（关注数 +1）；私密账号只产生待处理请求，计数不变。
// 服务端确认已关注时 feed 失效，下次读取重新拉取。
func (p *Profile) Follow(ctx context.Context) *mutation.Handle[api.FollowResult] {
	return mutation.Dispatch(p.deps.Coordinator, ctx, mutation.Op[api.FollowResult]{
		Key: relationMutationKey(p.userID),
		Predict: func() any {
			return relationSnap{user: p.patchUser(func(u model.User) model.User {
				if u.IsFollowing || u.FollowRequestPending {
					return u
				}
				if u.IsPrivate {
					u.FollowRequestPending = true
					return u
				}
				u.IsFollowing = true
				u.FollowersCount++
				return u
			})}
		},
		Network: func(ctx context.Context) (api.FollowResult, error) {
			return p.deps.Gateway.Follow(ctx, p.userID)
		},
		Reconcile: func(res api.FollowResult) {
			p.applyFollowResult(res)
			if res.Followed {
				p.deps.Stores.Reviews.Invalidate(cache.KeyFeed)
			}
		},
		Rollback: p.rollback,
	})
}

// Unfollow 取消关注（或撤回待处理请求），并立即从 feed 移除该作者的书评。
func (p *Profile) Unfollow(ctx context.Context) *mutation.Handle[api.FollowResult] {
	return mutation.Dispatch(p.deps.Coordinator, ctx, mutation.Op[api.FollowResult]{
		Key: relationMutationKey(p.userID),
		Predict: func() any {
			return relationSnap{
				user:    p.patchUser(unfollowed),
				removed: p.deps.Stores.Reviews.RemoveItems(cache.KeyFeed, reviewsBy(p.userID)),
			}
		},
		Network: func(ctx context.Context) (api.FollowResult, error) {
			return p.deps.Gateway.Unfollow(ctx, p.userID)
		},
		Reconcile: p.applyFollowResult,
		Rollback:  p.rollback,
	})
}

// Block 拉黑同时解除关注关系，并从 feed 移除其书评。
func (p *Profile) Block(ctx context.Context) *mutation.Handle[struct{}] {
	return mutation.Dispatch(p.deps.Coordinator, ctx, mutation.Op[struct{}]{
		Key: relationMutationKey(p.userID),
		Predict: func() any {
			return relationSnap{
				user: p.patchUser(func(u model.User) model.User {
					u = unfollowed(u)
					u.IsBlocked = true
					return u
				}),
				removed: p.deps.Stores.Reviews.RemoveItems(cache.KeyFeed, reviewsBy(p.userID)),
			}
		},
		Network: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.deps.Gateway.Block(ctx, p.userID)
		},
		Rollback: p.rollback,
	})
}

// Unblock 解除拉黑不会恢复此前的关注关系。
func (p *Profile) Unblock(ctx context.Context) *mutation.Handle[struct{}] {
	return mutation.Dispatch(p.deps.Coordinator, ctx, mutation.Op[struct{}]{
		Key: relationMutationKey(p.userID),
		Predict: func() any {
			return relationSnap{user: p.patchUser(func(u model.User) model.User {
				u.IsBlocked = false
				return u
			})}
		},
		Network: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.deps.Gateway.Unblock(ctx, p.userID)
		},
		Rollback: p.rollback,
	})
}

func unfollowed(u model.User) model.User {
	if u.IsFollowing && u.FollowersCount > 0 {
		u.FollowersCount--
	}
	u.IsFollowing = false
	u.FollowRequestPending = false
	return u
}
