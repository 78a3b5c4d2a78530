package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bulletin-service/internal/admission"
	"bulletin-service/internal/hashing"
	"bulletin-service/internal/models"
	"bulletin-service/internal/repository"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 128
	maxEmailLength    = 254
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// AuthService registers accounts and issues sessions. Registrations are
// gated per address and every login attempt goes through the admission
// controller's lockout tracking.
type AuthService struct {
	users      repository.UserStore
	sessions   repository.SessionStore
	hasher     *hashing.Hasher
	admission  *admission.Controller
	sessionTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

func NewAuthService(
	users repository.UserStore,
	sessions repository.SessionStore,
	hasher *hashing.Hasher,
	ctrl *admission.Controller,
	sessionTTL time.Duration,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		users:      users,
		sessions:   sessions,
		hasher:     hasher,
		admission:  ctrl,
		sessionTTL: sessionTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// Register creates an account. The address is charged before the password
// is hashed, so attempts that end as duplicates still count.
func (s *AuthService) Register(ctx context.Context, address string, req *RegisterRequest) (*models.User, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)

	if !usernamePattern.MatchString(username) {
		return nil, fmt.Errorf("%w: username must be 3-32 letters, digits or underscores", ErrInvalidInput)
	}
	if len(email) > maxEmailLength {
		return nil, fmt.Errorf("%w: email too long", ErrInvalidInput)
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	if len(req.Password) < minPasswordLength || len(req.Password) > maxPasswordLength {
		return nil, fmt.Errorf("%w: password must be %d-%d characters", ErrInvalidInput, minPasswordLength, maxPasswordLength)
	}

	if d := s.admission.CheckRegistration(address); !d.Allowed {
		return nil, denied(d)
	}
	s.admission.RecordRegistration(address)

	hash, err := s.hasher.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		UserID:       uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %v", ErrUserExists, err)
		}
		return nil, err
	}

	s.logger.Info("User registered", zap.String("user_id", user.UserID), zap.String("username", username))
	return user, nil
}

// Login checks the lockout state for the address and login before touching
// credentials. Unknown users cost the same hashing time as wrong passwords.
func (s *AuthService) Login(ctx context.Context, address string, req *LoginRequest) (*LoginResult, error) {
	if strings.TrimSpace(req.Login) == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: login and password are required", ErrInvalidInput)
	}

	if d := s.admission.CheckAuth(address, req.Login); !d.Allowed {
		return nil, denied(d)
	}

	user, err := s.users.GetByLogin(ctx, req.Login)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		s.hasher.VerifyDummy(req.Password)
		s.admission.RecordAuthFailure(address, req.Login)
		return nil, ErrInvalidCredentials
	}

	ok, err := s.hasher.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil {
		s.logger.Error("Stored password hash unreadable", zap.String("user_id", user.UserID), zap.Error(err))
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		s.admission.RecordAuthFailure(address, req.Login)
		return nil, ErrInvalidCredentials
	}

	s.admission.RecordAuthSuccess(address, req.Login)

	now := s.now().UTC()
	session := &models.Session{
		Token:     uuid.NewString(),
		UserID:    user.UserID,
		Username:  user.Username,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.UserID, now, address); err != nil {
		s.logger.Warn("Failed to update last login", zap.String("user_id", user.UserID), zap.Error(err))
	} else {
		user.LastLogin = &now
	}

	return &LoginResult{Token: session.Token, ExpiresAt: session.ExpiresAt, User: user}, nil
}

func (s *AuthService) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Delete(ctx, token); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUnauthorized
		}
		return err
	}
	return nil
}

// LogoutAll ends every session of the user owning the token
func (s *AuthService) LogoutAll(ctx context.Context, session *models.Session) (int, error) {
	n, err := s.sessions.DeleteAll(ctx, session.UserID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("User logged out everywhere", zap.String("user_id", session.UserID), zap.Int("sessions", n))
	return n, nil
}

// Authenticate resolves a bearer token to its session
func (s *AuthService) Authenticate(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	session, err := s.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if !s.now().Before(session.ExpiresAt) {
		return nil, ErrUnauthorized
	}
	return session, nil
}
