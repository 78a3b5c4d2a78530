package scylla

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"bulletin-service/internal/models"
	"bulletin-service/internal/util"
)

// CommentRepository keeps every comment, clustered newest first per video
type CommentRepository struct {
	client *ScyllaClient
}

func NewCommentRepository(client *ScyllaClient) *CommentRepository {
	return &CommentRepository{client: client}
}

func (r *CommentRepository) Add(ctx context.Context, c *models.Comment) error {
	err := r.client.Query(ctx, insertComment, c.VideoID, c.CreatedAt, c.CommentID, c.Author, c.Body).Exec()
	if err != nil {
		util.Error("Failed to store comment", zap.String("video_id", c.VideoID), zap.Error(err))
		return fmt.Errorf("failed to store comment: %w", err)
	}
	return nil
}

// List returns up to limit comments, newest first
func (r *CommentRepository) List(ctx context.Context, videoID string, limit int) ([]models.Comment, error) {
	if limit <= 0 {
		return []models.Comment{}, nil
	}

	iter := r.client.Query(ctx, listComments, videoID, limit).Iter()
	comments := make([]models.Comment, 0, min(limit, iter.NumRows()))

	var c models.Comment
	for iter.Scan(&c.CommentID, &c.VideoID, &c.Author, &c.Body, &c.CreatedAt) {
		comments = append(comments, c)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	return comments, nil
}
