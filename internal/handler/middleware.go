package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"bulletin-service/internal/models"
	"bulletin-service/internal/service"
	"bulletin-service/internal/util"
)

type contextKey string

const sessionKey contextKey = "session"

// Authenticator resolves bearer tokens
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Session, error)
}

// SessionMiddleware attaches the caller's session when a valid bearer token
// is present. With required set, requests without one get a 401.
func SessionMiddleware(auth Authenticator, logger *zap.Logger, required bool) func(http.Handler) http.Handler {
	h := responder{logger: logger}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				if required {
					h.respondWithError(w, service.ErrUnauthorized, "Authentication required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			session, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				if required || !errors.Is(err, service.ErrUnauthorized) {
					h.respondWithError(w, err, "Authentication failed")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, session)))
		})
	}
}

const operatorTokenHeader = "X-Operator-Token"

// RequireOperator admits requests carrying the configured operator token.
// An empty token closes the route to everyone.
func RequireOperator(token string, logger *zap.Logger) func(http.Handler) http.Handler {
	h := responder{logger: logger}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				h.respondWithError(w, service.ErrForbidden, "Operator access is disabled")
				return
			}
			presented := r.Header.Get(operatorTokenHeader)
			if presented == "" {
				h.respondWithError(w, service.ErrUnauthorized, "Operator token required")
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				h.respondWithError(w, service.ErrForbidden, "Invalid operator token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func sessionFrom(ctx context.Context) *models.Session {
	s, _ := ctx.Value(sessionKey).(*models.Session)
	return s
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("request_id", middleware.GetReqID(r.Context())),
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// requireHTTPS rejects any request that wasn't made over TLS
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired)
			w.Write([]byte(`{"error":"https required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
