package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/idp"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/metrics"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/service"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/store/drivers/sqlite"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/authsdk"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/cryptox"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/jwtx"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/kv"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/slogx"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type stubProvider map[string]idp.ExternalIdentity

func (p stubProvider) VerifyExternalToken(_ context.Context, raw string) (idp.ExternalIdentity, error) {
	ext, ok := p[raw]
	if !ok {
		return idp.ExternalIdentity{}, idp.ErrInvalidToken
	}
	return ext, nil
}

type testServer struct {
	t        *testing.T
	router   *Router
	clock    *clock
	kv       *kv.Memory
	provider stubProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	clk := &clock{t: time.Now().UTC().Truncate(time.Second)}
	cache := kv.NewMemory(kv.WithClock(clk.Now))

	db, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.ApplyMigrations())

	codec, err := jwtx.NewHMACCodec([]byte("0123456789abcdef0123456789abcdef"), "kc-auth-test")
	require.NoError(t, err)

	m := metrics.New()
	tokens := &service.TokenService{Codec: codec, KV: cache, RotateRefresh: true, Now: clk.Now, Metrics: m}
	limiter := &service.RateLimiter{KV: cache, Now: clk.Now, Metrics: m}
	users := &service.UserService{
		Store:  db,
		Hasher: cryptox.NewPasswordHasher("pepper", cryptox.Argon2Params{Memory: 64, Iterations: 1, Parallelism: 1, KeyLength: 16, SaltLength: 8}),
		Now:    clk.Now,
	}
	provider := stubProvider{}

	r := NewRouter("test", db, cache, slogx.Discard())
	r.TokenService = tokens
	r.UserService = users
	r.RolesService = &service.RolesService{Store: db, Tokens: tokens}
	r.SessionRegistry = &service.SessionRegistry{KV: cache, Now: clk.Now, Metrics: m}
	r.RateLimiter = limiter
	r.External = provider
	r.Metrics = m
	r.Authenticator = &service.Authenticator{
		Tokens:   tokens,
		Limiter:  limiter,
		External: provider,
		Users:    users,
		Metrics:  m,
	}
	r.ApplyRoutes()

	return &testServer{t: t, router: r, clock: clk, kv: cache, provider: provider}
}

func (s *testServer) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

var errCacheDown = errors.New("cache down")

type failingKV struct{ *kv.Memory }

func (failingKV) Exists(context.Context, string) (bool, error) { return false, errCacheDown }

func bearer(tok string) []string { return []string{"Authorization", "Bearer " + tok} }

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) register(email string) authsdk.TokenResponse {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/v1/auth/register", authsdk.RegisterRequest{
		Email: email, Password: "correct horse battery", Name: "Test",
	}, "X-Forwarded-For", email)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[authsdk.TokenResponse](s.t, rec)
}

func (s *testServer) login(email string) authsdk.TokenResponse {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/v1/auth/login", authsdk.LoginRequest{
		Email: email, Password: "correct horse battery",
	})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[authsdk.TokenResponse](s.t, rec)
}

func (s *testServer) me(tok string) authsdk.MeResponse {
	s.t.Helper()
	rec := s.do(http.MethodGet, "/v1/auth/me", nil, bearer(tok)...)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[authsdk.MeResponse](s.t, rec)
}

// promote grants roles directly through the service so tests do not need
// an admin to bootstrap one.
func (s *testServer) promote(userID string, roles ...string) {
	s.t.Helper()
	_, err := s.router.RolesService.SetUserRoles(context.Background(), userID, roles)
	require.NoError(s.t, err)
}
