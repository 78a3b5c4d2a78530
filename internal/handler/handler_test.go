package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bulletin-service/internal/admission"
	"bulletin-service/internal/client"
	"bulletin-service/internal/clock"
	"bulletin-service/internal/config"
	"bulletin-service/internal/encryption"
	"bulletin-service/internal/hashing"
	"bulletin-service/internal/metrics"
	"bulletin-service/internal/repository/redis"
	"bulletin-service/internal/service"
)

const testOperatorToken = "operator-secret"

type testServer struct {
	router http.Handler
	clock  *clock.Manual
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	rc := client.WrapRedis(rdb, nil)

	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	m := metrics.NewAdmissionMetrics()
	ctrl, err := admission.New(admission.DefaultConfig(), admission.WithClock(clk), admission.WithObserver(m))
	require.NoError(t, err)

	logger := zap.NewNop()
	hasher := hashing.NewHasher(config.HashingConfig{Argon2MemoryCost: 8 * 1024, Argon2TimeCost: 1, Argon2Parallelism: 1})
	cipher, err := encryption.NewEncryptionManager(context.Background(), config.EncryptionConfig{}, true)
	require.NoError(t, err)
	services := service.NewServiceFactory(
		redis.NewUserRepository(rc, cipher),
		redis.NewSessionCache(rc),
		redis.NewCommentRepository(rc, 0),
		hasher, ctrl, time.Hour, logger,
	)
	auth := services.AuthService()

	router := NewRouter(RouterOptions{AllowedOrigins: []string{"http://localhost:*"}, Metrics: m.Handler()}, logger,
		NewAuthHandler(auth, logger),
		NewCommentHandler(services.CommentService(), auth, logger),
		NewAdmissionHandler(ctrl, testOperatorToken, logger),
	)
	return &testServer{router: router, clock: clk}
}

func (s *testServer) do(t *testing.T, method, path, remote, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = remote + ":40000"
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T, username string) string {
	t.Helper()
	rec := s.register(t, "10.0.0.1", username)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", "10.0.0.1", "", map[string]string{
		"login": username, "password": "password123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data service.LoginResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.Token)
	return resp.Data.Token
}

func (s *testServer) register(t *testing.T, remote, username string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/api/v1/auth/register", remote, "", map[string]string{
		"username": username, "email": username + "@example.com", "password": "password123",
	})
}

func (s *testServer) status(t *testing.T, query, operatorToken string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admission/status"+query, nil)
	req.RemoteAddr = "10.0.0.9:40000"
	if operatorToken != "" {
		req.Header.Set("X-Operator-Token", operatorToken)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeRateLimit(t *testing.T, rec *httptest.ResponseRecorder) RateLimitResponse {
	t.Helper()
	require.Equal(t, http.StatusTooManyRequests, rec.Code, rec.Body.String())
	var body RateLimitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Allowed)
	assert.Equal(t, "rate_limit", body.Type)
	return body
}

func TestPostComment_IntervalReturns429(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice")

	rec := s.do(t, http.MethodPost, "/api/v1/videos/v1/comments", "10.0.0.1", token, map[string]string{"body": "first!"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	s.clock.Advance(2 * time.Second)
	rec = s.do(t, http.MethodPost, "/api/v1/videos/v1/comments", "10.0.0.1", token, map[string]string{"body": "second"})
	body := decodeRateLimit(t, rec)
	assert.Equal(t, "Please wait 3 seconds before posting again", body.Error)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))
}

func TestPostComment_RequiresSession(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/videos/v1/comments", "10.0.0.1", "", map[string]string{"body": "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/videos/v1/comments", "10.0.0.1", "bogus-token", map[string]string{"body": "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListComments(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice")

	rec := s.do(t, http.MethodPost, "/api/v1/videos/v1/comments", "10.0.0.1", token, map[string]string{"body": "<i>hello</i>"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/videos/v1/comments?limit=10", "10.0.0.2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Data []struct {
			Body   string `json:"body"`
			Author string `json:"author"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "&lt;i&gt;hello&lt;/i&gt;", resp.Data[0].Body)
	assert.Equal(t, "alice", resp.Data[0].Author)

	rec = s.do(t, http.MethodGet, "/api/v1/videos/v1/comments", "10.0.0.2", "", nil)
	decodeRateLimit(t, rec)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	s.clock.Advance(time.Second)
	rec = s.do(t, http.MethodGet, "/api/v1/videos/v1/comments?limit=abc", "10.0.0.2", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/v1/videos/v1/comments?limit=0", "10.0.0.2", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListComments_CrossAddressForSignedInUser(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice")

	rec := s.do(t, http.MethodPost, "/api/v1/videos/v1/comments", "10.0.0.1", token, map[string]string{"body": "hi"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/videos/v1/comments", "10.0.0.1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/videos/v1/comments", "10.0.0.3", token, nil)
	decodeRateLimit(t, rec)
}

func TestLogin_LockoutReturns429(t *testing.T) {
	s := newTestServer(t)
	s.login(t, "bob")

	for i := 0; i < admission.MaxAuthAttempts; i++ {
		rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "10.0.0.5", "", map[string]string{"login": "bob", "password": "nope-nope"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "10.0.0.6", "", map[string]string{"login": "BOB", "password": "password123"})
	body := decodeRateLimit(t, rec)
	assert.Equal(t, "Too many failed login attempts. Try again in 15 minutes", body.Error)
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))
}

func TestLogoutInvalidatesToken(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "carol")

	rec := s.do(t, http.MethodPost, "/api/v1/auth/logout", "10.0.0.1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/videos/v1/comments", "10.0.0.1", token, map[string]string{"body": "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdmissionStatus(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "dave")
	rec := s.do(t, http.MethodPost, "/api/v1/videos/v1/comments", "10.0.0.1", token, map[string]string{"body": "hi"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.status(t, "?address=10.0.0.1&identity=Dave", testOperatorToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data admission.StatusReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Data.AddressEntries)
	require.NotNil(t, resp.Data.Address)
	require.NotNil(t, resp.Data.Address.Quota)
	assert.Equal(t, 1, resp.Data.Address.Quota.Count)
	require.NotNil(t, resp.Data.Identity)
	require.NotNil(t, resp.Data.Identity.Linkage)
	assert.Equal(t, []string{"10.0.0.1"}, resp.Data.Identity.Linkage.Addresses)
}

func TestAdmissionStatus_RequiresOperatorToken(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "erin")

	rec := s.status(t, "?address=10.0.0.1", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.1")

	// a user session is not an operator credential
	rec = s.do(t, http.MethodGet, "/api/v1/admission/status?address=10.0.0.1", "10.0.0.1", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.status(t, "?address=10.0.0.1", "operator-secreT")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdmissionStatus_DisabledWithoutToken(t *testing.T) {
	router := NewRouter(RouterOptions{}, zap.NewNop(), NewAdmissionHandler(nil, "", zap.NewNop()))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admission/status", nil)
	req.Header.Set("X-Operator-Token", "anything")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRegister_GatedPerAddress(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusCreated, s.register(t, "10.2.0.1", "frank").Code)

	rec := s.register(t, "10.2.0.1", "grace")
	body := decodeRateLimit(t, rec)
	assert.Equal(t, "Please wait 60 seconds before registering again", body.Error)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusCreated, s.register(t, "10.2.0.2", "grace").Code)

	s.clock.Advance(time.Minute)
	assert.Equal(t, http.StatusCreated, s.register(t, "10.2.0.1", "heidi").Code)
}

func TestLogoutAll(t *testing.T) {
	s := newTestServer(t)
	first := s.login(t, "ivan")

	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "10.0.0.2", "", map[string]string{"login": "ivan", "password": "password123"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data service.LoginResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	second := resp.Data.Token

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/api/v1/auth/logout-all", "10.0.0.1", "", nil).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/logout-all", "10.0.0.1", first, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"sessions_ended":2`)

	for _, token := range []string{first, second} {
		rec = s.do(t, http.MethodPost, "/api/v1/videos/v1/comments", "10.0.0.1", token, map[string]string{"body": "hi"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestHealthMetricsAndNotFound(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "10.0.0.1", "", nil).Code)

	rec := s.do(t, http.MethodGet, "/metrics", "10.0.0.1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bulletin_auth_lockouts_total")

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/nope", "10.0.0.1", "", nil).Code)
}

func TestClientAddress(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", clientAddress(req))

	req.RemoteAddr = "203.0.113.7"
	assert.Equal(t, "203.0.113.7", clientAddress(req))
}

func TestHealthReportsFailedChecks(t *testing.T) {
	router := NewRouter(RouterOptions{
		Health: func(ctx context.Context) map[string]error {
			return map[string]error{"redis": errors.New("connection refused")}
		},
	}, zap.NewNop())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
