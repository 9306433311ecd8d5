package viewmodel

import (
	"inkgora/client/internal/api"
	"inkgora/client/internal/cache"
	"inkgora/client/internal/model"
)

// keyedPatch 跨多个查询 key 的修改记录。
type keyedPatch[T any] map[string][]cache.Patched[T]

func (kp keyedPatch[T]) undo(store *cache.Store[T]) {
	for key, patched := range kp {
		store.Unpatch(key, patched)
	}
}

// patchEverywhere 同一实体可能同时出现在 feed 与个人主页等多个集合中，逐一修改。
func patchEverywhere[T any](store *cache.Store[T], match func(T) bool, update func(T) T) keyedPatch[T] {
	out := keyedPatch[T]{}
	for _, key := range store.Keys() {
		if p := store.PatchAll(key, match, update); len(p) > 0 {
			out[key] = p
		}
	}
	return out
}

func reviewByID(id int64) func(model.Review) bool {
	return func(r model.Review) bool { return r.ID == id }
}

func reviewsBy(authorID int64) func(model.Review) bool {
	return func(r model.Review) bool { return r.Author.ID == authorID }
}

// toggleLiked 点赞预测：状态取反，计数相应加减（不低于 0）。
func toggleLiked(r model.Review) model.Review {
	r.IsLiked = !r.IsLiked
	if r.IsLiked {
		r.LikesCount++
	} else if r.LikesCount > 0 {
		r.LikesCount--
	}
	return r
}

func applyLike(res api.LikeResult) func(model.Review) model.Review {
	return func(r model.Review) model.Review {
		r.IsLiked = res.IsLiked
		r.LikesCount = res.LikesCount
		return r
	}
}
