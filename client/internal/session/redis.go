package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"inkgora/client/internal/config"
)

// RedisStore 会话记录存放在 Redis，供服务端渲染层按 cookie 取回令牌。
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore 建连并 Ping 一次，连接失败直接返回错误。
func NewRedisStore(ctx context.Context, cfg config.SessionConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis %s", cfg.Redis.Addr)
	}
	return &RedisStore{client: rdb, prefix: cfg.Redis.KeyPrefix, ttl: cfg.TTL}, nil
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get session")
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	if sess.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return &sess, nil
}

// Save TTL 取令牌剩余有效期与配置 TTL 中较短者。
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	ttl := s.ttl
	if !sess.ExpiresAt.IsZero() {
		if left := time.Until(sess.ExpiresAt); left <= 0 {
			return nil
		} else if ttl <= 0 || left < ttl {
			ttl = left
		}
	}
	return errors.Wrap(s.client.Set(ctx, s.key(sess.ID), raw, ttl).Err(), "redis set session")
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return errors.Wrap(s.client.Del(ctx, s.key(id)).Err(), "redis del session")
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
