package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bulletin-service/internal/admission"
	"bulletin-service/internal/models"
	"bulletin-service/internal/repository"
	"bulletin-service/internal/util"
)

const (
	MaxCommentLength = 2000
	DefaultListLimit = 50
	MaxListLimit     = 100
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type CommentService struct {
	comments  repository.CommentStore
	admission *admission.Controller
	logger    *zap.Logger
	now       func() time.Time
}

func NewCommentService(comments repository.CommentStore, ctrl *admission.Controller, logger *zap.Logger) *CommentService {
	return &CommentService{
		comments:  comments,
		admission: ctrl,
		logger:    logger,
		now:       time.Now,
	}
}

// Identity is the admission key for a signed-in user
func Identity(session *models.Session) string {
	if session == nil {
		return ""
	}
	return admission.NormalizeLogin(session.Username)
}

// Post stores a comment from a signed-in user. The quota is consumed only
// once the comment is persisted.
func (s *CommentService) Post(ctx context.Context, address string, session *models.Session, videoID, body string) (*models.Comment, error) {
	if session == nil {
		return nil, ErrUnauthorized
	}
	if !videoIDPattern.MatchString(videoID) {
		return nil, fmt.Errorf("%w: invalid video id", ErrInvalidInput)
	}

	identity := Identity(session)
	if d := s.admission.CheckPost(address, identity); !d.Allowed {
		return nil, denied(d)
	}

	text := strings.TrimSpace(util.StripControl(body))
	if text == "" {
		return nil, fmt.Errorf("%w: comment must not be empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > MaxCommentLength {
		return nil, fmt.Errorf("%w: comment longer than %d characters", ErrInvalidInput, MaxCommentLength)
	}

	comment := &models.Comment{
		CommentID: uuid.NewString(),
		VideoID:   videoID,
		Author:    session.Username,
		Body:      util.SanitizeInput(text),
		CreatedAt: s.now().UTC(),
	}
	if err := s.comments.Add(ctx, comment); err != nil {
		return nil, err
	}

	s.admission.RecordPost(address, identity)
	s.logger.Debug("Comment posted",
		zap.String("comment_id", comment.CommentID),
		zap.String("video_id", videoID),
		zap.String("author", session.Username),
	)
	return comment, nil
}

// List returns the newest comments of a video. session may be nil.
func (s *CommentService) List(ctx context.Context, address string, session *models.Session, videoID string, limit int) ([]models.Comment, error) {
	if !videoIDPattern.MatchString(videoID) {
		return nil, fmt.Errorf("%w: invalid video id", ErrInvalidInput)
	}
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit < 1 || limit > MaxListLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidInput, MaxListLimit)
	}

	identity := Identity(session)
	if d := s.admission.CheckRetrieval(address, identity); !d.Allowed {
		return nil, denied(d)
	}

	comments, err := s.comments.List(ctx, videoID, limit)
	if err != nil {
		return nil, err
	}

	s.admission.RecordRetrieval(address, identity)
	return comments, nil
}
