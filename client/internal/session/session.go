package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("session not found")

// Session 当前登录身份。显式传给各组件，而不是依赖进程级的全局上下文。
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username,omitempty"`
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Expired 没有过期时间的会话视为长期有效。
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// FromToken 由访问令牌推导会话身份（sub 即用户 id）。
func FromToken(id, token string) (*Session, error) {
	claims, err := ParseClaims(token)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:          id,
		UserID:      claims.Subject,
		Username:    claims.Username,
		AccessToken: token,
		ExpiresAt:   claims.ExpiresAt,
		CreatedAt:   time.Now(),
	}, nil
}

type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}
