// Package repository defines the storage contracts shared by the redis and
// scylla backends.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bulletin-service/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, userID string) (*models.User, error)
	GetByLogin(ctx context.Context, login string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time, ip string) error
}

type CommentStore interface {
	Add(ctx context.Context, c *models.Comment) error
	List(ctx context.Context, videoID string, limit int) ([]models.Comment, error)
}

type SessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, token string) (*models.Session, error)
	Delete(ctx context.Context, token string) error
	DeleteAll(ctx context.Context, userID string) (int, error)
}

// FieldCipher seals personal data before it is written and derives the
// keyed lookup index used in place of the plaintext.
type FieldCipher interface {
	EncryptField(ctx context.Context, plaintext string) (string, error)
	DecryptField(ctx context.Context, sealed string) (string, error)
	BlindIndex(value string) string
}

// UserRecord is the at-rest form of a user. Email and last login address
// are stored sealed; EmailIndex is a keyed hash of the lower-cased email.
type UserRecord struct {
	UserID            string     `json:"user_id"`
	Username          string     `json:"username"`
	EmailSealed       string     `json:"email_sealed"`
	EmailIndex        string     `json:"email_index"`
	PasswordHash      string     `json:"password_hash"`
	CreatedAt         time.Time  `json:"created_at"`
	LastLogin         *time.Time `json:"last_login,omitempty"`
	LastLoginIPSealed string     `json:"last_login_ip_sealed,omitempty"`
}

// UsernameKey is the case-insensitive uniqueness key of a username
func UsernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// EmailIndex is the case-insensitive lookup key of an email address
func EmailIndex(c FieldCipher, email string) string {
	return c.BlindIndex(strings.ToLower(strings.TrimSpace(email)))
}

// IsEmailLogin reports whether a login string should be resolved as an email
func IsEmailLogin(login string) bool {
	return strings.Contains(login, "@")
}

func SealUser(ctx context.Context, c FieldCipher, u *models.User) (*UserRecord, error) {
	email, err := c.EncryptField(ctx, u.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to seal email: %w", err)
	}
	ip, err := c.EncryptField(ctx, u.LastLoginIP)
	if err != nil {
		return nil, fmt.Errorf("failed to seal last login ip: %w", err)
	}

	return &UserRecord{
		UserID:            u.UserID,
		Username:          u.Username,
		EmailSealed:       email,
		EmailIndex:        EmailIndex(c, u.Email),
		PasswordHash:      u.PasswordHash,
		CreatedAt:         u.CreatedAt,
		LastLogin:         u.LastLogin,
		LastLoginIPSealed: ip,
	}, nil
}

func (r *UserRecord) Open(ctx context.Context, c FieldCipher) (*models.User, error) {
	email, err := c.DecryptField(ctx, r.EmailSealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open email: %w", err)
	}
	ip, err := c.DecryptField(ctx, r.LastLoginIPSealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open last login ip: %w", err)
	}

	return &models.User{
		UserID:       r.UserID,
		Username:     r.Username,
		Email:        email,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt,
		LastLogin:    r.LastLogin,
		LastLoginIP:  ip,
	}, nil
}
