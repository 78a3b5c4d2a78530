package models

import "time"

// Comment is a single message posted under a video
type Comment struct {
	CommentID string    `json:"comment_id"`
	VideoID   string    `json:"video_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
