package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"speedchat-backend/internal/model"
)

// RedisUsageStore keeps per-user counters in one hash per user.
type RedisUsageStore struct {
	rdb    *goredis.Client
	prefix string
}

func NewRedisUsageStore(ctx context.Context, addr string, db int, prefix string) (*RedisUsageStore, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisUsageStore{rdb: rdb, prefix: prefix}, nil
}

func (s *RedisUsageStore) key(userID string) string {
	return s.prefix + userID
}

func (s *RedisUsageStore) IncrementUsage(ctx context.Context, userID string, delta model.Usage) error {
	key := s.key(userID)
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HIncrBy(ctx, key, "prompt_tokens", delta.PromptTokens)
		p.HIncrBy(ctx, key, "completion_tokens", delta.CompletionTokens)
		p.HIncrBy(ctx, key, "chats_created", delta.ChatsCreated)
		p.HIncrBy(ctx, key, "messages_sent", delta.MessagesSent)
		p.HSet(ctx, key, "updated_at", time.Now().UTC().Format(time.RFC3339Nano))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis increment usage: %w", err)
	}
	return nil
}

func (s *RedisUsageStore) GetUsage(ctx context.Context, userID string) (*model.Usage, error) {
	vals, err := s.rdb.HGetAll(ctx, s.key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get usage: %w", err)
	}
	return usageFromHash(userID, vals), nil
}

func (s *RedisUsageStore) ResetUsage(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("redis reset usage: %w", err)
	}
	return nil
}

func (s *RedisUsageStore) Close() error {
	return s.rdb.Close()
}

func usageFromHash(userID string, vals map[string]string) *model.Usage {
	n := func(k string) int64 {
		v, _ := strconv.ParseInt(vals[k], 10, 64)
		return v
	}
	u := &model.Usage{
		UserID:           userID,
		PromptTokens:     n("prompt_tokens"),
		CompletionTokens: n("completion_tokens"),
		ChatsCreated:     n("chats_created"),
		MessagesSent:     n("messages_sent"),
	}
	if ts, err := time.Parse(time.RFC3339Nano, vals["updated_at"]); err == nil {
		u.UpdatedAt = ts
	}
	return u
}
