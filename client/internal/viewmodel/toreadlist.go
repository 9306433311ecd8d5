package viewmodel

import (
	"context"

	"inkgora/client/internal/api"
	"inkgora/client/internal/cache"
	"inkgora/client/internal/model"
	"inkgora/client/internal/mutation"
)

// ToReadList 待读清单。
type ToReadList struct {
	deps  Deps
	pager *pager[model.Book]
}

func NewToReadList(deps Deps) *ToReadList {
	return &ToReadList{
		deps: deps,
		pager: &pager[model.Book]{
			store: deps.Stores.Books,
			key:   cache.KeyToReadList,
			fetch: deps.Gateway.ToReadList,
		},
	}
}

func (l *ToReadList) LoadFirst(ctx context.Context) ([]model.Book, error) {
	return l.pager.loadFirst(ctx)
}

func (l *ToReadList) LoadMore(ctx context.Context) (bool, error) {
	return l.pager.loadMore(ctx)
}

func (l *ToReadList) Load(ctx context.Context) ([]model.Book, error) {
	return l.pager.load(ctx)
}

func (l *ToReadList) Items() []model.Book { return l.pager.items() }

func (l *ToReadList) HasMore() bool { return l.pager.hasMore() }

func (l *ToReadList) Contains(bookID string) bool {
	return l.deps.Stores.Books.Contains(cache.KeyToReadList, bookID)
}

// Add 乐观加入清单头部；已在清单中时不重复插入。失败时按 id 移除。
func (l *ToReadList) Add(ctx context.Context, book api.NewBook) *mutation.Handle[model.Book] {
	books := l.deps.Stores.Books
	byID := func(b model.Book) bool { return b.ID == book.BookID }
	return mutation.Dispatch(l.deps.Coordinator, ctx, mutation.Op[model.Book]{
		Key: bookMutationKey(book.BookID),
		Predict: func() any {
			if books.Contains(cache.KeyToReadList, book.BookID) {
				return false
			}
			return books.Prepend(cache.KeyToReadList, model.Book{
				ID:        book.BookID,
				Title:     book.Title,
				Authors:   book.Authors,
				Thumbnail: book.Thumbnail,
			})
		},
		Network: func(ctx context.Context) (model.Book, error) {
			return l.deps.Gateway.AddToReadList(ctx, book)
		},
		Reconcile: func(saved model.Book) {
			books.PatchItem(cache.KeyToReadList, byID, func(model.Book) model.Book { return saved })
		},
		Rollback: func(snap any) {
			if inserted, _ := snap.(bool); inserted {
				books.RemoveItems(cache.KeyToReadList, byID)
			}
		},
	})
}

// Remove 乐观移除，失败时回到原位置。
func (l *ToReadList) Remove(ctx context.Context, bookID string) *mutation.Handle[struct{}] {
	books := l.deps.Stores.Books
	return mutation.Dispatch(l.deps.Coordinator, ctx, mutation.Op[struct{}]{
		Key: bookMutationKey(bookID),
		Predict: func() any {
			return books.RemoveItems(cache.KeyToReadList, func(b model.Book) bool { return b.ID == bookID })
		},
		Network: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, l.deps.Gateway.RemoveFromToReadList(ctx, bookID)
		},
		Rollback: func(snap any) {
			books.Reinsert(cache.KeyToReadList, snap.([]cache.Removed[model.Book]))
		},
	})
}
