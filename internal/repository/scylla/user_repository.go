package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"bulletin-service/internal/models"
	"bulletin-service/internal/repository"
	"bulletin-service/internal/util"
)

type UserRepository struct {
	client *ScyllaClient
	cipher repository.FieldCipher
}

func NewUserRepository(client *ScyllaClient, cipher repository.FieldCipher) *UserRepository {
	return &UserRepository{client: client, cipher: cipher}
}

// Create claims the username and email lookups with lightweight
// transactions, releasing the username if the email is taken.
func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	rec, err := repository.SealUser(ctx, r.cipher, u)
	if err != nil {
		return err
	}
	username := repository.UsernameKey(u.Username)

	applied, err := r.client.Query(ctx, insertUsername, username, u.UserID).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to claim username: %w", err)
	}
	if !applied {
		return fmt.Errorf("username %w", repository.ErrDuplicate)
	}

	applied, err = r.client.Query(ctx, insertEmail, rec.EmailIndex, u.UserID).MapScanCAS(map[string]interface{}{})
	if err != nil || !applied {
		r.release(ctx, deleteUsername, username)
		if err != nil {
			return fmt.Errorf("failed to claim email: %w", err)
		}
		return fmt.Errorf("email %w", repository.ErrDuplicate)
	}

	err = r.client.Query(ctx, insertUser,
		rec.UserID, rec.Username, rec.EmailSealed, rec.EmailIndex, rec.PasswordHash,
		rec.CreatedAt, rec.LastLogin, rec.LastLoginIPSealed,
	).Exec()
	if err != nil {
		r.release(ctx, deleteUsername, username)
		r.release(ctx, deleteEmail, rec.EmailIndex)
		util.Error("Failed to store user", zap.String("user_id", u.UserID), zap.Error(err))
		return fmt.Errorf("failed to store user: %w", err)
	}

	util.Info("User created", zap.String("user_id", u.UserID), zap.String("username", u.Username))
	return nil
}

func (r *UserRepository) release(ctx context.Context, stmt, key string) {
	if err := r.client.Query(ctx, stmt, key).Exec(); err != nil {
		util.Warn("Failed to release user claim", zap.Error(err))
	}
}

func (r *UserRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	var (
		rec       repository.UserRecord
		lastLogin time.Time
	)
	err := r.client.Query(ctx, getUser, userID).Scan(
		&rec.UserID, &rec.Username, &rec.EmailSealed, &rec.EmailIndex, &rec.PasswordHash,
		&rec.CreatedAt, &lastLogin, &rec.LastLoginIPSealed,
	)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	rec.LastLogin = nullableTime(lastLogin)
	return rec.Open(ctx, r.cipher)
}

// GetByLogin resolves a username or an email, case-insensitively
func (r *UserRepository) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	stmt, key := getUsername, repository.UsernameKey(login)
	if repository.IsEmailLogin(login) {
		stmt, key = getEmail, repository.EmailIndex(r.cipher, login)
	}

	var userID string
	if err := r.client.Query(ctx, stmt, key).Scan(&userID); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve login: %w", err)
	}
	return r.GetByID(ctx, userID)
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string, at time.Time, ip string) error {
	sealed, err := r.cipher.EncryptField(ctx, ip)
	if err != nil {
		return fmt.Errorf("failed to seal last login ip: %w", err)
	}

	applied, err := r.client.Query(ctx, updateLastLogin, at, sealed, userID).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	if !applied {
		return repository.ErrNotFound
	}
	return nil
}

// nullableTime maps the zero time scanned from a null column to nil
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
