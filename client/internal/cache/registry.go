package cache

import "sync"

// Clearer 任何可整体清空的缓存。
type Clearer interface {
	ClearAll()
}

// Registry 汇总所有类型的 Store，登出时一次性清空。
type Registry struct {
	mu     sync.Mutex
	stores []Clearer
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register 登记并原样返回，便于在构造处链式使用。
func Register[T any](r *Registry, s *Store[T]) *Store[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores = append(r.stores, s)
	return s
}

func (r *Registry) ClearAll() {
	r.mu.Lock()
	stores := append([]Clearer(nil), r.stores...)
	r.mu.Unlock()

	for _, s := range stores {
		s.ClearAll()
	}
}
