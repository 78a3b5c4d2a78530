package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"bulletin-service/internal/models"
	"bulletin-service/internal/service"
)

const maxCommentBody = 16 << 10

type CommentService interface {
	Post(ctx context.Context, address string, session *models.Session, videoID, body string) (*models.Comment, error)
	List(ctx context.Context, address string, session *models.Session, videoID string, limit int) ([]models.Comment, error)
}

type PostCommentRequest struct {
	Body string `json:"body"`
}

// CommentHandler serves the per-video comment board
type CommentHandler struct {
	responder
	comments CommentService
	auth     Authenticator
}

func NewCommentHandler(comments CommentService, auth Authenticator, logger *zap.Logger) *CommentHandler {
	return &CommentHandler{responder: responder{logger: logger}, comments: comments, auth: auth}
}

func (h *CommentHandler) RegisterRoutes(router chi.Router) {
	router.Route("/videos/{videoID}/comments", func(r chi.Router) {
		r.With(SessionMiddleware(h.auth, h.logger, false)).Get("/", h.List)
		r.With(SessionMiddleware(h.auth, h.logger, true)).Post("/", h.Post)
	})
}

func (h *CommentHandler) Post(w http.ResponseWriter, r *http.Request) {
	var req PostCommentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommentBody)).Decode(&req); err != nil {
		h.respondWithError(w, service.ErrInvalidInput, "Invalid request body")
		return
	}

	comment, err := h.comments.Post(r.Context(), clientAddress(r), sessionFrom(r.Context()), chi.URLParam(r, "videoID"), req.Body)
	if err != nil {
		h.respondWithError(w, err, "Failed to post comment")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(comment, "Comment posted"))
}

func (h *CommentHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.respondWithError(w, fmt.Errorf("%w: limit must be a number", service.ErrInvalidInput), "Invalid limit")
			return
		}
		limit = n
		// an explicit zero is out of range, not the default
		if limit == 0 {
			limit = -1
		}
	}

	comments, err := h.comments.List(r.Context(), clientAddress(r), sessionFrom(r.Context()), chi.URLParam(r, "videoID"), limit)
	if err != nil {
		h.respondWithError(w, err, "Failed to load comments")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(comments, ""))
}
