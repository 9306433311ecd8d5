package cache

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"inkgora/client/internal/model"
)

// ErrInvalidPageSequence 页码不连续（调用方用法错误，开发期应尽早暴露）。
var ErrInvalidPageSequence = errors.New("invalid page sequence")

// 约定的查询 key。
const (
	KeyFeed          = "feed/list"
	KeyToReadList    = "toReadList/list"
	KeyNotifications = "notifications/list"
)

func KeyUser(userID string) string             { return "user/" + userID }
func KeyUserReviews(userID string) string      { return "userReviews/" + userID }
func KeyReviewComments(reviewID string) string { return "reviewComments/" + reviewID }

// Collection 一个查询 key 对应的分页集合。
type Collection[T any] struct {
	Pages []model.Page[T]
	Stale bool
}

// Items 按页顺序展开。
func (c Collection[T]) Items() []T {
	var out []T
	for _, p := range c.Pages {
		out = append(out, p.Items...)
	}
	return out
}

// LastPagination 最后一页的分页游标；集合为空时返回零值。
func (c Collection[T]) LastPagination() model.Pagination {
	if len(c.Pages) == 0 {
		return model.Pagination{}
	}
	return c.Pages[len(c.Pages)-1].Pagination
}

// Patched 记录一次原地修改前的值，用于回滚。
type Patched[T any] struct {
	ID    string
	Prior T
}

// Removed 记录被移除的条目及其原始位置，用于稳定回插。
type Removed[T any] struct {
	Page  int
	Index int
	Item  T
}

// Store 进程内分页缓存。所有操作同步完成，不做任何网络 I/O。
type Store[T any] struct {
	mu   sync.RWMutex
	idOf func(T) string
	data map[string]*Collection[T]
}

func NewStore[T any](idOf func(T) string) *Store[T] {
	return &Store[T]{
		idOf: idOf,
		data: make(map[string]*Collection[T]),
	}
}

// Get 返回集合的深拷贝，调用方修改不会影响内部状态。
func (s *Store[T]) Get(key string) (Collection[T], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data[key]
	if !ok {
		return Collection[T]{}, false
	}
	return clone(c), true
}

// Items 展开后的条目副本。
func (s *Store[T]) Items(key string) []T {
	c, _ := s.Get(key)
	return c.Items()
}

// Replace 写入第 pageNumber 页。
// 已存在的页覆盖（重复拉取幂等），已加载页数+1 的页追加，其余页码返回 ErrInvalidPageSequence。
// 过期或不存在的集合只接受第 1 页，并从空集合重建。
func (s *Store[T]) Replace(key string, page model.Page[T], pageNumber int) (Collection[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[key]
	if !ok || c.Stale {
		if pageNumber != 1 {
			return Collection[T]{}, errors.Wrapf(ErrInvalidPageSequence, "key=%s page=%d on empty collection", key, pageNumber)
		}
		c = &Collection[T]{}
		s.data[key] = c
	}

	loaded := len(c.Pages)
	switch {
	case pageNumber >= 1 && pageNumber <= loaded:
		c.Pages[pageNumber-1] = s.dedupe(c, page, pageNumber-1)
	case pageNumber == loaded+1:
		c.Pages = append(c.Pages, s.dedupe(c, page, loaded))
	default:
		return Collection[T]{}, errors.Wrapf(ErrInvalidPageSequence, "key=%s page=%d loaded=%d", key, pageNumber, loaded)
	}
	return clone(c), nil
}

// dedupe 去掉在其他页已出现过的条目：服务端 offset 分页在新内容插入后会整体后移。
func (s *Store[T]) dedupe(c *Collection[T], page model.Page[T], slot int) model.Page[T] {
	seen := make(map[string]struct{})
	for i, p := range c.Pages {
		if i == slot {
			continue
		}
		for _, it := range p.Items {
			seen[s.idOf(it)] = struct{}{}
		}
	}
	items := make([]T, 0, len(page.Items))
	for _, it := range page.Items {
		id := s.idOf(it)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		items = append(items, it)
	}
	return model.Page[T]{Items: items, Pagination: page.Pagination}
}

// PatchItem 修改所有页中第一个命中的条目；未命中不是错误（条目可能已滚出旧副本）。
func (s *Store[T]) PatchItem(key string, match func(T) bool, update func(T) T) (Patched[T], bool) {
	patched := s.patch(key, match, update, 1)
	if len(patched) == 0 {
		return Patched[T]{}, false
	}
	return patched[0], true
}

// PatchAll 修改所有命中的条目。
func (s *Store[T]) PatchAll(key string, match func(T) bool, update func(T) T) []Patched[T] {
	return s.patch(key, match, update, -1)
}

func (s *Store[T]) patch(key string, match func(T) bool, update func(T) T, limit int) []Patched[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[key]
	if !ok {
		return nil
	}
	var out []Patched[T]
	for pi := range c.Pages {
		items := c.Pages[pi].Items
		for i := range items {
			if !match(items[i]) {
				continue
			}
			prior := items[i]
			items[i] = update(prior)
			out = append(out, Patched[T]{ID: s.idOf(prior), Prior: prior})
			if limit > 0 && len(out) >= limit {
				return out
			}
		}
	}
	return out
}

// Unpatch 按 id 恢复修改前的值。
func (s *Store[T]) Unpatch(key string, patched []Patched[T]) {
	if len(patched) == 0 {
		return
	}
	prior := make(map[string]T, len(patched))
	for _, p := range patched {
		prior[p.ID] = p.Prior
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[key]
	if !ok {
		return
	}
	for pi := range c.Pages {
		items := c.Pages[pi].Items
		for i := range items {
			if v, hit := prior[s.idOf(items[i])]; hit {
				items[i] = v
			}
		}
	}
}

// RemoveItems 从每一页过滤掉命中的条目。
// 分页计数（Total/LastPage）保持服务端口径不变，派生总数需等下一次失效重拉后才可信。
func (s *Store[T]) RemoveItems(key string, match func(T) bool) []Removed[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[key]
	if !ok {
		return nil
	}
	var removed []Removed[T]
	for pi := range c.Pages {
		kept := c.Pages[pi].Items[:0:0]
		for i, it := range c.Pages[pi].Items {
			if match(it) {
				removed = append(removed, Removed[T]{Page: pi, Index: i, Item: it})
				continue
			}
			kept = append(kept, it)
		}
		c.Pages[pi].Items = kept
	}
	return removed
}

// Reinsert 按原始 (页, 下标) 升序稳定回插，已存在的 id 跳过。
// 集合在此期间被失效重建时，回插到的是新集合，位置按下标截断到页尾。
func (s *Store[T]) Reinsert(key string, removed []Removed[T]) {
	if len(removed) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[key]
	if !ok || len(c.Pages) == 0 {
		return
	}
	present := make(map[string]struct{})
	for _, p := range c.Pages {
		for _, it := range p.Items {
			present[s.idOf(it)] = struct{}{}
		}
	}
	// RemoveItems 产出即为升序；按升序插入时，前面的回插会把后面的下标还原到原值。
	for _, r := range removed {
		if _, dup := present[s.idOf(r.Item)]; dup {
			continue
		}
		pi := r.Page
		if pi >= len(c.Pages) {
			pi = len(c.Pages) - 1
		}
		items := c.Pages[pi].Items
		idx := r.Index
		if idx > len(items) {
			idx = len(items)
		}
		items = append(items, r.Item)
		copy(items[idx+1:], items[idx:])
		items[idx] = r.Item
		c.Pages[pi].Items = items
		present[s.idOf(r.Item)] = struct{}{}
	}
}

// Prepend 插入到第 1 页头部（乐观创建）；集合不存在时不做任何事。
func (s *Store[T]) Prepend(key string, item T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[key]
	if !ok || len(c.Pages) == 0 {
		return false
	}
	items := make([]T, 0, len(c.Pages[0].Items)+1)
	items = append(items, item)
	items = append(items, c.Pages[0].Items...)
	c.Pages[0].Items = items
	return true
}

// Contains 是否存在该 id 的条目。
func (s *Store[T]) Contains(key string, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data[key]
	if !ok {
		return false
	}
	for _, p := range c.Pages {
		for _, it := range p.Items {
			if s.idOf(it) == id {
				return true
			}
		}
	}
	return false
}

// Keys 当前已缓存的 key，按字典序。
func (s *Store[T]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Invalidate 标记过期：下一次读取必须从第 1 页重建。
func (s *Store[T]) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.data[key]; ok {
		c.Stale = true
	}
}

// IsStale 集合不存在也视为需要拉取。
func (s *Store[T]) IsStale(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data[key]
	return !ok || c.Stale
}

func (s *Store[T]) Clear(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

func (s *Store[T]) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]*Collection[T])
}

func clone[T any](c *Collection[T]) Collection[T] {
	out := Collection[T]{Stale: c.Stale, Pages: make([]model.Page[T], len(c.Pages))}
	for i, p := range c.Pages {
		items := make([]T, len(p.Items))
		copy(items, p.Items)
		out.Pages[i] = model.Page[T]{Items: items, Pagination: p.Pagination}
	}
	return out
}
