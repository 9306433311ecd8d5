package session

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore 基于内存的会话存储：CLI 与测试使用，进程退出即丢失。
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]*Session
	now  func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]*Session), now: time.Now}
}

// Get 过期会话按不存在处理。
func (s *InMemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.data[id]
	if !ok || sess.Expired(s.now()) {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *InMemoryStore) Save(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sess
	s.data[sess.ID] = &cp
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, id)
	return nil
}
