package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/http"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/idp"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/metrics"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/service"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/store"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/store/drivers/postgres"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/store/drivers/sqlite"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/cryptox"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/jwtx"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/kv"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/slogx"
)

// BuildVersion is overridden at build time via -ldflags.
var BuildVersion = "v0.1.0"

// Application owns the auth service's dependencies and lifecycle.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db    store.Store
	cache kv.Store

	codec    *jwtx.HMACCodec
	external idp.Verifier
	metrics  *metrics.Metrics

	tokenService        *service.TokenService
	userService         *service.UserService
	rolesService        *service.RolesService
	sessionRegistry     *service.SessionRegistry
	rateLimiter         *service.RateLimiter
	authenticator       *service.Authenticator
	bootstrapService    *service.BootstrapService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// Option adjusts an Application before its dependencies are wired.
type Option func(*Application)

// WithExternalVerifier replaces the OIDC verifier built from the config.
func WithExternalVerifier(v idp.Verifier) Option {
	return func(app *Application) { app.external = v }
}

// New connects to the database and cache and wires every service. Any
// returned error leaves nothing open.
func New(ctx context.Context, cfg Config, opts ...Option) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "auth-service",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(app)
	}

	codec, err := jwtx.NewHMACCodec([]byte(cfg.TokenSecret), cfg.Issuer)
	if err != nil {
		return nil, &ConfigurationError{Key: "AUTH_TOKEN_SECRET", Reason: err.Error()}
	}
	app.codec = codec

	if err := app.initDatabase(ctx); err != nil {
		return nil, err
	}
	if err := app.initCache(ctx); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	if err := app.initExternal(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	if err := app.initServices(); err != nil {
		_ = app.Close()
		return nil, err
	}
	if err := app.bootstrap(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Handler exposes the HTTP surface without starting a listener.
func (app *Application) Handler() http.Handler { return app.router }

// Run serves until ctx is cancelled, SIGINT/SIGTERM arrives or the listener
// fails, then shuts down.
func (app *Application) Run(ctx context.Context) error {
	app.housekeepingService.Start()

	app.logger.Info("auth service starting",
		slog.Int("port", app.cfg.Port),
		slog.String("version", BuildVersion),
		slog.String("database", app.cfg.DatabaseDriver),
		slog.String("kv", app.cfg.KVDriver),
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErrors:
		app.housekeepingService.Stop()
		_ = app.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		app.logger.Info("shutdown requested", slog.Any("cause", context.Cause(ctx)))
	}

	if err := app.Shutdown(); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests, stops housekeeping and closes stores.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", slog.Any("error", err))
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", slog.Any("error", err))
		}
	}

	app.housekeepingService.Stop()

	err := app.Close()
	app.logger.Info("auth service stopped")
	return err
}

// Close releases the cache and database. Use it instead of Shutdown when
// Run was never called.
func (app *Application) Close() error {
	var errs []error
	if err := app.cache.Close(); err != nil {
		app.logger.Error("error closing cache", slog.Any("error", err))
		errs = append(errs, err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", slog.Any("error", err))
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (app *Application) initDatabase(ctx context.Context) error {
	var (
		db  store.Store
		err error
	)
	switch app.cfg.DatabaseDriver {
	case "postgres":
		db, err = postgres.NewStore(ctx, app.cfg.DatabaseURL)
	default:
		db, err = sqlite.NewStore(fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseURL))
	}
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied", slog.String("driver", app.cfg.DatabaseDriver))
	return nil
}

func (app *Application) initCache(ctx context.Context) error {
	switch app.cfg.KVDriver {
	case "redis":
		r, err := kv.OpenRedis(ctx, app.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.cache = r
	default:
		app.logger.Warn("using in-process kv store; sessions and limits are lost on restart")
		app.cache = kv.NewMemory()
	}
	return nil
}

func (app *Application) initExternal(ctx context.Context) error {
	if app.external != nil {
		return nil
	}
	if app.cfg.OIDCClientID == "" {
		app.logger.Info("identity provider disabled; OIDC_CLIENT_ID is empty")
		app.external = idp.Disabled{}
		return nil
	}

	v, err := idp.NewOIDC(ctx, app.cfg.OIDCIssuer, app.cfg.OIDCClientID)
	if err != nil {
		return fmt.Errorf("failed to initialize identity provider: %w", err)
	}
	app.external = v
	app.logger.Info("identity provider enabled", slog.String("issuer", app.cfg.OIDCIssuer))
	return nil
}

func (app *Application) initServices() error {
	pepper, err := cryptox.LoadOrCreatePepper(app.cfg.PepperFile)
	if err != nil {
		return fmt.Errorf("failed to load pepper: %w", err)
	}

	app.tokenService = &service.TokenService{
		Codec:         app.codec,
		KV:            app.cache,
		AccessTTL:     app.cfg.AccessTTL,
		RefreshTTL:    app.cfg.RefreshTTL,
		RotateRefresh: app.cfg.RotateRefresh,
		Metrics:       app.metrics,
	}
	app.rateLimiter = &service.RateLimiter{KV: app.cache, Metrics: app.metrics}
	app.sessionRegistry = &service.SessionRegistry{KV: app.cache, TTL: app.cfg.SessionTTL, Metrics: app.metrics}
	app.userService = &service.UserService{
		Store:  app.db,
		Hasher: cryptox.NewPasswordHasher(pepper, cryptox.DefaultArgon2Params),
	}
	app.rolesService = &service.RolesService{Store: app.db, Tokens: app.tokenService}
	app.bootstrapService = &service.BootstrapService{Users: app.userService}

	var adminRoles []string
	if len(app.cfg.AdminRoles) > 0 {
		adminRoles = app.cfg.AdminRoles
	}
	app.authenticator = &service.Authenticator{
		Tokens:     app.tokenService,
		Limiter:    app.rateLimiter,
		External:   app.external,
		Users:      app.userService,
		AdminRoles: adminRoles,
		Metrics:    app.metrics,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.sessionRegistry,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	return nil
}

// bootstrap seeds the first super admin when BOOTSTRAP_ADMIN_EMAIL is set
// and the user table is empty.
func (app *Application) bootstrap(ctx context.Context) error {
	if app.cfg.BootstrapEmail == "" {
		return nil
	}

	ctx = slogx.WithContext(ctx, app.logger)
	_, err := app.bootstrapService.EnsureAdmin(ctx, app.cfg.BootstrapEmail, app.cfg.BootstrapPass)
	switch {
	case errors.Is(err, service.ErrBootstrapAlready):
		app.logger.Debug("bootstrap skipped; users already exist")
		return nil
	case err != nil:
		return fmt.Errorf("failed to bootstrap admin: %w", err)
	}
	return nil
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.cache, app.logger)

	router.Authenticator = app.authenticator
	router.TokenService = app.tokenService
	router.UserService = app.userService
	router.RolesService = app.rolesService
	router.SessionRegistry = app.sessionRegistry
	router.RateLimiter = app.rateLimiter
	router.External = app.external
	router.Metrics = app.metrics
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
