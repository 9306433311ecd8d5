package viewmodel

import (
	"context"
	"sync"

	"inkgora/client/internal/cache"
	"inkgora/client/internal/model"
)

// pager 一个分页查询：第 1 页重建，之后按已加载页数顺延。
type pager[T any] struct {
	store *cache.Store[T]
	key   string
	fetch func(ctx context.Context, page int) (model.Page[T], error)

	mu      sync.Mutex
	loading bool
}

func (p *pager[T]) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loading {
		return false
	}
	p.loading = true
	return true
}

func (p *pager[T]) end() {
	p.mu.Lock()
	p.loading = false
	p.mu.Unlock()
}

// Loading 是否有分页请求在途。
func (p *pager[T]) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

func (p *pager[T]) loadFirst(ctx context.Context) ([]T, error) {
	page, err := p.fetch(ctx, 1)
	if err != nil {
		return nil, err
	}
	c, err := p.store.Replace(p.key, page, 1)
	if err != nil {
		return nil, err
	}
	return c.Items(), nil
}

// loadMore 加载下一页；已到末页或已有请求在途时返回 false。过期集合从第 1 页重建。
func (p *pager[T]) loadMore(ctx context.Context) (bool, error) {
	if !p.begin() {
		return false, nil
	}
	defer p.end()

	c, ok := p.store.Get(p.key)
	if !ok || c.Stale || len(c.Pages) == 0 {
		if _, err := p.loadFirst(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
	if !c.LastPagination().HasMore() {
		return false, nil
	}

	next := len(c.Pages) + 1
	page, err := p.fetch(ctx, next)
	if err != nil {
		return false, err
	}
	if _, err := p.store.Replace(p.key, page, next); err != nil {
		return false, err
	}
	return true, nil
}

// load 读路径：集合缺失或已失效时先从第 1 页重建，否则直接返回缓存。
func (p *pager[T]) load(ctx context.Context) ([]T, error) {
	if !p.store.IsStale(p.key) {
		return p.store.Items(p.key), nil
	}
	return p.loadFirst(ctx)
}

// items 缓存快照，不触发拉取；失效后的旧数据仍会返回，需要新鲜数据时用 load。
func (p *pager[T]) items() []T {
	return p.store.Items(p.key)
}

func (p *pager[T]) stale() bool {
	return p.store.IsStale(p.key)
}

// hasMore 失效的集合总是 true：下一次 loadMore 会从第 1 页重建。
func (p *pager[T]) hasMore() bool {
	c, ok := p.store.Get(p.key)
	if !ok || c.Stale || len(c.Pages) == 0 {
		return true
	}
	return c.LastPagination().HasMore()
}
