package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"bulletin-service/internal/models"
	"bulletin-service/internal/service"
	"bulletin-service/internal/util"
)

const maxAuthBody = 4 << 10

type AuthService interface {
	Register(ctx context.Context, address string, req *service.RegisterRequest) (*models.User, error)
	Login(ctx context.Context, address string, req *service.LoginRequest) (*service.LoginResult, error)
	Logout(ctx context.Context, token string) error
	LogoutAll(ctx context.Context, session *models.Session) (int, error)
	Authenticate(ctx context.Context, token string) (*models.Session, error)
}

// AuthHandler handles registration and sessions
type AuthHandler struct {
	responder
	auth AuthService
}

func NewAuthHandler(auth AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{responder: responder{logger: logger}, auth: auth}
}

func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.With(SessionMiddleware(h.auth, h.logger, true)).Post("/logout-all", h.LogoutAll)
	})
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAuthBody)).Decode(&req); err != nil {
		h.respondWithError(w, service.ErrInvalidInput, "Invalid request body")
		return
	}

	user, err := h.auth.Register(r.Context(), clientAddress(r), &req)
	if err != nil {
		h.respondWithError(w, err, "Failed to register")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(user, "User registered successfully"))
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAuthBody)).Decode(&req); err != nil {
		h.respondWithError(w, service.ErrInvalidInput, "Invalid request body")
		return
	}

	address := clientAddress(r)
	result, err := h.auth.Login(r.Context(), address, &req)
	if err != nil {
		h.respondWithError(w, err, "Login failed")
		return
	}

	h.logger.Info("User logged in",
		util.String("user_id", result.User.UserID),
		util.String("remote_addr", address),
	)
	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Login successful"))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), bearerToken(r)); err != nil {
		h.respondWithError(w, err, "Logout failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

// LogoutAll ends every session of the caller, including the current one
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.auth.LogoutAll(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		h.respondWithError(w, err, "Logout failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]int{"sessions_ended": n}, "Logged out everywhere"))
}
