package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"bulletin-service/internal/client"
	"bulletin-service/internal/models"
	"bulletin-service/internal/repository"
	"bulletin-service/internal/util"
)

const (
	userPrefix          = "user:"
	usernameIndexPrefix = "user_by_name:"
	emailIndexPrefix    = "user_by_email:"
)

type UserRepository struct {
	client *client.RedisClient
	cipher repository.FieldCipher
}

func NewUserRepository(client *client.RedisClient, cipher repository.FieldCipher) *UserRepository {
	return &UserRepository{client: client, cipher: cipher}
}

// Create claims the username and email indexes first so two concurrent
// registrations cannot both succeed. The email index holds a keyed hash,
// never the address itself.
func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	rec, err := repository.SealUser(ctx, r.cipher, u)
	if err != nil {
		return err
	}

	rdb := r.client.Client
	nameKey := usernameIndexPrefix + repository.UsernameKey(u.Username)
	emailKey := emailIndexPrefix + rec.EmailIndex

	ok, err := rdb.SetNX(ctx, nameKey, u.UserID, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to claim username: %w", err)
	}
	if !ok {
		return fmt.Errorf("username %w", repository.ErrDuplicate)
	}

	ok, err = rdb.SetNX(ctx, emailKey, u.UserID, 0).Result()
	if err != nil || !ok {
		rdb.Del(ctx, nameKey)
		if err != nil {
			return fmt.Errorf("failed to claim email: %w", err)
		}
		return fmt.Errorf("email %w", repository.ErrDuplicate)
	}

	if err := r.put(ctx, rec); err != nil {
		rdb.Del(ctx, nameKey, emailKey)
		util.Error("Failed to store user", zap.String("user_id", u.UserID), zap.Error(err))
		return err
	}

	util.Info("User created", zap.String("user_id", u.UserID), zap.String("username", u.Username))
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	rec, err := r.record(ctx, userID)
	if err != nil {
		return nil, err
	}
	return rec.Open(ctx, r.cipher)
}

// GetByLogin resolves a username or an email, case-insensitively
func (r *UserRepository) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	key := usernameIndexPrefix + repository.UsernameKey(login)
	if repository.IsEmailLogin(login) {
		key = emailIndexPrefix + repository.EmailIndex(r.cipher, login)
	}

	userID, err := r.client.Client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve login: %w", err)
	}
	return r.GetByID(ctx, userID)
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string, at time.Time, ip string) error {
	rec, err := r.record(ctx, userID)
	if err != nil {
		return err
	}

	sealed, err := r.cipher.EncryptField(ctx, ip)
	if err != nil {
		return fmt.Errorf("failed to seal last login ip: %w", err)
	}
	rec.LastLogin = &at
	rec.LastLoginIPSealed = sealed

	if err := r.put(ctx, rec); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (r *UserRepository) record(ctx context.Context, userID string) (*repository.UserRecord, error) {
	data, err := r.client.Client.Get(ctx, userPrefix+strings.TrimSpace(userID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var rec repository.UserRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &rec, nil
}

func (r *UserRepository) put(ctx context.Context, rec *repository.UserRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	if err := r.client.Client.Set(ctx, userPrefix+rec.UserID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}
	return nil
}
