package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"bulletin-service/internal/client"
	"bulletin-service/internal/models"
	"bulletin-service/internal/repository"
	"bulletin-service/internal/util"
)

const (
	sessionDataPrefix  = "session_data:"
	userSessionsPrefix = "user_sessions:"
)

type SessionCache struct {
	client *client.RedisClient
}

func NewSessionCache(client *client.RedisClient) *SessionCache {
	return &SessionCache{client: client}
}

// Create stores the session under its token and indexes it by user.
// Both keys expire with the session.
func (c *SessionCache) Create(ctx context.Context, s *models.Session) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := c.client.Client.TxPipeline()
	pipe.Set(ctx, sessionDataPrefix+s.Token, data, ttl)
	userSessionsKey := userSessionsPrefix + s.UserID
	pipe.SAdd(ctx, userSessionsKey, s.Token)
	pipe.Expire(ctx, userSessionsKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to create session", zap.String("user_id", s.UserID), zap.Duration("ttl", ttl), zap.Error(err))
		return fmt.Errorf("failed to create session: %w", err)
	}

	util.Debug("Session created", zap.String("user_id", s.UserID), zap.Duration("ttl", ttl))
	return nil
}

func (c *SessionCache) Get(ctx context.Context, token string) (*models.Session, error) {
	data, err := c.client.Client.Get(ctx, sessionDataPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

func (c *SessionCache) Delete(ctx context.Context, token string) error {
	s, err := c.Get(ctx, token)
	if err != nil {
		return err
	}

	pipe := c.client.Client.TxPipeline()
	pipe.Del(ctx, sessionDataPrefix+token)
	pipe.SRem(ctx, userSessionsPrefix+s.UserID, token)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	util.Debug("Session invalidated", zap.String("user_id", s.UserID))
	return nil
}

// DeleteAll invalidates every live session of a user and reports how many
// were removed.
func (c *SessionCache) DeleteAll(ctx context.Context, userID string) (int, error) {
	setKey := userSessionsPrefix + userID
	tokens, err := c.client.Client.SMembers(ctx, setKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get user sessions: %w", err)
	}

	keys := make([]string, 0, len(tokens)+1)
	for _, token := range tokens {
		keys = append(keys, sessionDataPrefix+token)
	}
	keys = append(keys, setKey)

	removed, err := c.client.Client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete user sessions: %w", err)
	}

	// the index key itself is counted by Del when present
	count := int(removed)
	if len(tokens) > 0 {
		count--
	}
	util.Info("User sessions invalidated", zap.String("user_id", userID), zap.Int("count", count))
	return count, nil
}
