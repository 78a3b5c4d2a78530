package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"bulletin-service/internal/client"
	"bulletin-service/internal/models"
	"bulletin-service/internal/util"
)

const videoCommentsPrefix = "video_comments:"

type CommentRepository struct {
	client    *client.RedisClient
	retention int
}

// NewCommentRepository keeps at most retention comments per video. Zero
// keeps every comment.
func NewCommentRepository(client *client.RedisClient, retention int) *CommentRepository {
	return &CommentRepository{client: client, retention: retention}
}

// Add pushes the comment to the head of the video's list
func (r *CommentRepository) Add(ctx context.Context, c *models.Comment) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal comment: %w", err)
	}

	key := videoCommentsPrefix + c.VideoID
	pipe := r.client.Client.TxPipeline()
	pipe.LPush(ctx, key, data)
	if r.retention > 0 {
		pipe.LTrim(ctx, key, 0, int64(r.retention-1))
	}
	if _, err := pipe.Exec(ctx); err != nil {
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

	raw, err := r.client.Client.LRange(ctx, videoCommentsPrefix+videoID, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}

	comments := make([]models.Comment, 0, len(raw))
	for _, item := range raw {
		var c models.Comment
		if err := json.Unmarshal([]byte(item), &c); err != nil {
			util.Warn("Skipping malformed comment", zap.String("video_id", videoID), zap.Error(err))
			continue
		}
		comments = append(comments, c)
	}
	return comments, nil
}
