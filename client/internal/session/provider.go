package session

import (
	"context"

	"github.com/pkg/errors"
)

// TokenProvider 提供当前访问令牌；返回空字符串表示未登录。
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// StaticToken 固定令牌（CLI、测试）。
type StaticToken string

func (t StaticToken) AccessToken(context.Context) (string, error) {
	return string(t), nil
}

// StoreTokenProvider 按 cookie 中的会话 id 从 Store 取令牌，
// 等价于服务端动作把 cookie 换成 bearer 头的代理过程。
type StoreTokenProvider struct {
	Store     Store
	SessionID string
}

func (p StoreTokenProvider) AccessToken(ctx context.Context) (string, error) {
	if p.SessionID == "" {
		return "", nil
	}
	sess, err := p.Store.Get(ctx, p.SessionID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errors.WithMessage(err, "load session")
	}
	return sess.AccessToken, nil
}
