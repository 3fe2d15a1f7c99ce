package auth_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/app"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/idp"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/authsdk"
)

/*
 * End-to-end tests run the fully wired application behind httptest and
 * drive it through the public SDK. The default stack is sqlite plus the
 * in-process KV store; GO_TEST_INTEGRATION=1 adds a run against Postgres
 * and Redis containers.
 */

const (
	adminEmail    = "admin@example.com"
	adminPassword = "admin password 123"
	userPassword  = "user password 123"
)

// stubProvider accepts the raw token strings it was given as ID tokens.
type stubProvider map[string]idp.ExternalIdentity

func (p stubProvider) VerifyExternalToken(_ context.Context, raw string) (idp.ExternalIdentity, error) {
	ext, ok := p[raw]
	if !ok {
		return idp.ExternalIdentity{}, idp.ErrInvalidToken
	}
	return ext, nil
}

type service struct {
	client   *authsdk.SDKClient
	provider stubProvider
}

func testConfig(t *testing.T) app.Config {
	t.Helper()
	dir := t.TempDir()

	return app.Config{
		Env:                  "test",
		LogLevel:             "error",
		LogFormat:            "text",
		Port:                 8080,
		ShutdownGracePeriod:  time.Second,
		HousekeepingInterval: time.Hour,
		Issuer:               "kc-auth-e2e",
		TokenSecret:          "e2e-secret-e2e-secret-e2e-secret-00",
		AccessTTL:            time.Hour,
		RefreshTTL:           720 * time.Hour,
		RotateRefresh:        true,
		PepperFile:           filepath.Join(dir, "pepper"),
		SessionTTL:           24 * time.Hour,
		BootstrapEmail:       adminEmail,
		BootstrapPass:        adminPassword,
		DatabaseDriver:       "sqlite",
		DatabaseURL:          filepath.Join(dir, "auth.db"),
		KVDriver:             "memory",
	}
}

// startService boots the application with cfg and returns an SDK client
// pointed at it.
func startService(t *testing.T, cfg app.Config) *service {
	t.Helper()
	require.NoError(t, cfg.Validate())

	provider := stubProvider{}
	application, err := app.New(t.Context(), cfg, app.WithExternalVerifier(provider))
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Close() })

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(srv.Close)

	client := authsdk.NewSDKClient(srv.URL)
	client.HTTPClient = srv.Client()

	return &service{client: client, provider: provider}
}

// register creates a password account and returns a session for it.
func (s *service) register(t *testing.T, email string) *authsdk.Session {
	t.Helper()

	tok, err := s.client.Register(t.Context(), authsdk.RegisterRequest{Email: email, Password: userPassword})
	require.NoError(t, err)
	assertTokenResponse(t, tok)
	return s.client.NewSessionFromTokens(tok.AccessToken, tok.RefreshToken, tok.ExpiresIn)
}

func (s *service) admin(t *testing.T) *authsdk.Session {
	t.Helper()

	sess, err := s.client.AuthenticateWithPassword(t.Context(), adminEmail, adminPassword)
	require.NoError(t, err, "bootstrap admin should be able to log in")
	return sess
}

// assertTokenResponse verifies a token response has all required fields.
func assertTokenResponse(t *testing.T, resp *authsdk.TokenResponse) {
	t.Helper()
	require.NotNil(t, resp)
	require.NotEmpty(t, resp.AccessToken, "Access token should not be empty")
	require.NotEmpty(t, resp.RefreshToken, "Refresh token should not be empty")
	require.Equal(t, "Bearer", resp.TokenType, "Token type should be Bearer")
	require.Positive(t, resp.ExpiresIn)
}

// assertUnauthorized checks that err is the generic 401 the service returns
// for any rejected credential.
func assertUnauthorized(t *testing.T, err error, context string) {
	t.Helper()
	require.Error(t, err, context)
	require.ErrorIs(t, err, authsdk.ErrInvalidGrant, "%s: got %v", context, err)
}

// startContainer starts image and returns host:port for the given port.
func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := c.Host(ctx)
	require.NoError(t, err)
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

func startRedis(t *testing.T) string {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
	}, "6379/tcp")
	return "redis://" + addr + "/0"
}

func startPostgres(t *testing.T) string {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "kc", "POSTGRES_PASSWORD": "kc", "POSTGRES_DB": "kc"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "5432/tcp")
	return "postgres://kc:kc@" + addr + "/kc?sslmode=disable"
}
