package service

import (
	"time"

	"go.uber.org/zap"

	"bulletin-service/internal/admission"
	"bulletin-service/internal/hashing"
	"bulletin-service/internal/repository"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	users      repository.UserStore
	sessions   repository.SessionStore
	comments   repository.CommentStore
	hasher     *hashing.Hasher
	admission  *admission.Controller
	sessionTTL time.Duration
	logger     *zap.Logger

	authService    *AuthService
	commentService *CommentService
}

func NewServiceFactory(
	users repository.UserStore,
	sessions repository.SessionStore,
	comments repository.CommentStore,
	hasher *hashing.Hasher,
	ctrl *admission.Controller,
	sessionTTL time.Duration,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		users:      users,
		sessions:   sessions,
		comments:   comments,
		hasher:     hasher,
		admission:  ctrl,
		sessionTTL: sessionTTL,
		logger:     logger,
	}
}

// AuthService returns the auth service instance (singleton)
func (f *ServiceFactory) AuthService() *AuthService {
	if f.authService == nil {
		f.authService = NewAuthService(f.users, f.sessions, f.hasher, f.admission, f.sessionTTL, f.logger)
	}
	return f.authService
}

// CommentService returns the comment service instance (singleton)
func (f *ServiceFactory) CommentService() *CommentService {
	if f.commentService == nil {
		f.commentService = NewCommentService(f.comments, f.admission, f.logger)
	}
	return f.commentService
}
