package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/domain"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/idp"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/metrics"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/service"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/store"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/httpx"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/kv"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/slogx"

	_ "github.com/KarmaCummunity/KC-MVP-server-sub002/api/auth" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store store.Store
	cache kv.Store

	Authenticator   *service.Authenticator
	TokenService    *service.TokenService
	UserService     *service.UserService
	RolesService    *service.RolesService
	SessionRegistry *service.SessionRegistry
	RateLimiter     *service.RateLimiter
	External        idp.Verifier
	Metrics         *metrics.Metrics
}

func NewRouter(
	buildVersion string,
	st store.Store,
	cache kv.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		cache:        cache,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	if r.External == nil {
		r.External = idp.Disabled{}
	}

	guard := &Guard{Auth: r.Authenticator}

	r.registerAuth(guard)
	r.registerSessions(guard)
	r.registerAdmin(guard)
	r.registerLegacy()
	r.registerPublic(guard)
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			KC Authentication Service API
//	@version		0.1.0
//	@description	Session token lifecycle for the KC community backend: registration, password and Google sign-in, refresh, revocation and session management.
//	@description
//	@description	Tokens are HS256 signed. Guarded endpoints accept either a self-issued access token or a Google ID token for a linked account.
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Access token. Format: "Bearer {token}". X-Auth-Token is accepted as well.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Metrics.HTTPMiddleware(r.Mux), r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth(guard *Guard) {
	h := &AuthHandler{
		Users:    r.UserService,
		Tokens:   r.TokenService,
		Limiter:  r.RateLimiter,
		External: r.External,
	}

	// Credential endpoints get the in-process throttle in front of the
	// shared KV limiter the handlers apply per account.
	throttled := func(fn http.HandlerFunc) http.Handler {
		return httpx.Chain(fn, httpx.Throttle(httpx.AuthThrottle, httpx.ClientIP))
	}

	r.Mux.Handle("POST /v1/auth/register", throttled(h.HandleRegister))
	r.Mux.Handle("POST /v1/auth/login", throttled(h.HandleLogin))
	r.Mux.Handle("POST /v1/auth/google", throttled(h.HandleProviderLogin))
	r.Mux.Handle("POST /v1/auth/refresh", throttled(h.HandleRefresh))
	r.Mux.Handle("POST /v1/auth/revoke", throttled(h.HandleRevoke))

	r.Mux.Handle("POST /v1/auth/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout), guard.RequireAuth),
	)
	r.Mux.Handle("GET /v1/auth/me",
		httpx.Chain(http.HandlerFunc(h.HandleMe), guard.RequireAuth),
	)
}

func (r *Router) registerSessions(guard *Guard) {
	h := &SessionsHandler{Tokens: r.TokenService, Roles: r.RolesService}

	r.Mux.Handle("GET /v1/auth/sessions",
		httpx.Chain(http.HandlerFunc(h.HandleListOwn), guard.RequireAuth),
	)
	r.Mux.Handle("DELETE /v1/auth/sessions/{sid}",
		httpx.Chain(http.HandlerFunc(h.HandleRevokeOwn), guard.RequireAuth),
	)
}

func (r *Router) registerAdmin(guard *Guard) {
	h := &SessionsHandler{Tokens: r.TokenService, Roles: r.RolesService}

	admin := func(fn http.HandlerFunc, extra ...httpx.Middleware) http.Handler {
		mws := append([]httpx.Middleware{guard.RequireAuth, guard.RequireAdmin}, extra...)
		mws = append(mws, httpx.Throttle(httpx.AuthThrottle, httpx.PrincipalKey))
		return httpx.Chain(fn, mws...)
	}

	r.Mux.Handle("GET /v1/admin/users/{id}/sessions", admin(h.HandleAdminList))
	r.Mux.Handle("DELETE /v1/admin/users/{id}/sessions", admin(h.HandleAdminRevokeAll))
	// Only super admins hand out roles, so an admin cannot promote itself.
	r.Mux.Handle("PUT /v1/admin/users/{id}/roles",
		admin(h.HandleAdminSetRoles, httpx.RequireAnyRole(domain.RoleSuperAdmin)))
}

func (r *Router) registerLegacy() {
	h := &LegacyHandler{
		Users:    r.UserService,
		Sessions: r.SessionRegistry,
		Limiter:  r.RateLimiter,
	}

	r.Mux.Handle("POST /v1/legacy/sessions",
		httpx.Chain(http.HandlerFunc(h.HandleCreate), httpx.Throttle(httpx.AuthThrottle, httpx.ClientIP)),
	)
	r.Mux.HandleFunc("GET /v1/legacy/sessions/current", h.HandleGet)
	r.Mux.HandleFunc("DELETE /v1/legacy/sessions/current", h.HandleDelete)
	r.Mux.HandleFunc("DELETE /v1/legacy/sessions", h.HandleDeleteAll)
}

func (r *Router) registerPublic(guard *Guard) {
	r.Mux.Handle("GET /v1/public/feed-info",
		httpx.Chain(http.HandlerFunc(FeedInfoHandler),
			httpx.Throttle(httpx.PublicThrottle, httpx.ClientIP),
			guard.OptionalAuth,
		),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints: monitoring systems may poll frequently.
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.Throttle(httpx.PublicThrottle, httpx.ClientIP),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.cache, r.TokenService.Codec),
			httpx.Throttle(httpx.PublicThrottle, httpx.ClientIP),
		),
	)
	r.Mux.Handle("GET /metrics", r.Metrics.Handler())
}
