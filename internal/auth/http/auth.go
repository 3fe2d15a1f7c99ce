package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/domain"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/idp"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/service"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/authsdk"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/httpx"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/slogx"
)

// AuthHandler serves the token endpoints under /v1/auth.
type AuthHandler struct {
	Users    *service.UserService
	Tokens   *service.TokenService
	Limiter  *service.RateLimiter
	External idp.Verifier
}

func tokenResponse(p domain.TokenPair) authsdk.TokenResponse {
	return authsdk.TokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        p.TokenType,
		ExpiresIn:        p.ExpiresIn,
		RefreshExpiresIn: p.RefreshExpiresIn,
	}
}

func userResponse(u domain.User) authsdk.UserResponse {
	return authsdk.UserResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Roles:       u.Roles,
		LinkedIdP:   u.ProviderSubject != "",
		CreatedAt:   u.CreatedAt,
	}
}

// loginKey scopes login attempts to the client and the targeted account so
// one noisy client cannot lock everyone else out of an account.
func loginKey(r *http.Request, email string) string {
	norm, err := service.NormalizeEmail(email)
	if err != nil {
		norm = email
	}
	return httpx.ClientIP(r) + "|" + norm
}

// HandleRegister godoc
//
//	@Summary		Register
//	@Description	Creates a password account and returns its first token pair.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.RegisterRequest	true	"Account details"
//	@Success		201		{object}	authsdk.TokenResponse
//	@Failure		400		{object}	authsdk.ErrorResponse
//	@Failure		409		{object}	authsdk.ErrorResponse	"Email already registered"
//	@Failure		429		{object}	authsdk.ErrorResponse
//	@Router			/v1/auth/register [post].
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authsdk.RegisterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	if err := h.Limiter.Allow(ctx, httpx.ClientIP(r), service.ActionRegister, service.RegisterPolicy); err != nil {
		writeServiceError(w, r, err)
		return
	}

	u, err := h.Users.Register(ctx, req.Email, req.Password, req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	pair, err := h.Tokens.CreateTokenPair(ctx, u)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusCreated, tokenResponse(pair))
}

// HandleLogin godoc
//
//	@Summary		Password login
//	@Description	Exchanges email and password for a token pair. Limited per client address and email.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.LoginRequest	true	"Credentials"
//	@Success		200		{object}	authsdk.TokenResponse
//	@Failure		400		{object}	authsdk.ErrorResponse
//	@Failure		401		{object}	authsdk.ErrorResponse	"Invalid credentials"
//	@Failure		429		{object}	authsdk.ErrorResponse
//	@Router			/v1/auth/login [post].
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authsdk.LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Email == "" || req.Password == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	if err := h.Limiter.Allow(ctx, loginKey(r, req.Email), service.ActionLogin, service.LoginPolicy); err != nil {
		writeServiceError(w, r, err)
		return
	}

	u, err := h.Users.Login(ctx, req.Email, req.Password)
	if err != nil {
		slogx.FromContext(ctx).Info("login failed", slog.String("email", slogx.RedactEmail(req.Email)))
		writeServiceError(w, r, err)
		return
	}

	pair, err := h.Tokens.CreateTokenPair(ctx, u)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, tokenResponse(pair))
}

// HandleProviderLogin godoc
//
//	@Summary		Identity provider sign-in
//	@Description	Verifies a Google ID token and returns a token pair. The account is found by provider subject, linked by verified email, or created.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.ProviderLoginRequest	true	"ID token"
//	@Success		200		{object}	authsdk.TokenResponse
//	@Failure		400		{object}	authsdk.ErrorResponse
//	@Failure		401		{object}	authsdk.ErrorResponse
//	@Failure		409		{object}	authsdk.ErrorResponse	"Email belongs to another account"
//	@Failure		429		{object}	authsdk.ErrorResponse
//	@Router			/v1/auth/google [post].
func (h *AuthHandler) HandleProviderLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authsdk.ProviderLoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.IDToken == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	if err := h.Limiter.Allow(ctx, httpx.ClientIP(r), service.ActionLogin, service.LoginPolicy); err != nil {
		writeServiceError(w, r, err)
		return
	}

	ext, err := h.External.VerifyExternalToken(ctx, req.IDToken)
	if err != nil {
		slogx.FromContext(ctx).Info("provider token rejected", slog.Any("reason", err))
		authsdk.ErrInvalidGrant.WriteError(w)
		return
	}

	u, err := h.Users.SignInWithProvider(ctx, ext)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	pair, err := h.Tokens.CreateTokenPair(ctx, u)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, tokenResponse(pair))
}

// HandleRefresh godoc
//
//	@Summary		Refresh
//	@Description	Exchanges a refresh token for a new access token. With rotation enabled a new refresh token is returned and the presented one stops working.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.RefreshRequest	true	"Refresh token"
//	@Success		200		{object}	authsdk.TokenResponse
//	@Failure		400		{object}	authsdk.ErrorResponse
//	@Failure		401		{object}	authsdk.ErrorResponse
//	@Router			/v1/auth/refresh [post].
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authsdk.RefreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	res, err := h.Tokens.RefreshAccessToken(ctx, req.RefreshToken)
	if err != nil {
		slogx.FromContext(ctx).Info("refresh rejected", slog.Any("reason", err))
		writeServiceError(w, r, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, authsdk.TokenResponse{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		TokenType:        res.TokenType,
		ExpiresIn:        res.ExpiresIn,
		RefreshExpiresIn: res.RefreshExpiresIn,
	})
}

// HandleRevoke godoc
//
//	@Summary		Revoke a token
//	@Description	Revokes an access or refresh token. Returns 200 for unknown or invalid tokens too, so the endpoint cannot be used to probe tokens.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body	authsdk.RevokeRequest	true	"Token"
//	@Success		200		"Token revoked (or was already unusable)"
//	@Failure		400		{object}	authsdk.ErrorResponse
//	@Router			/v1/auth/revoke [post].
func (h *AuthHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authsdk.RevokeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Token == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	if err := h.Tokens.RevokeToken(ctx, req.Token); err != nil {
		slogx.FromContext(ctx).Warn("revoke failed", slog.Any("error", err))
	}

	httpx.WriteJSON(w, http.StatusOK, struct{}{})
}

// HandleLogout godoc
//
//	@Summary		Logout
//	@Description	Revokes the presented access token and ends its session.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Success		204
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Router			/v1/auth/logout [post].
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ident, _ := IdentityFromContext(ctx)

	if cred, ok := httpx.ExtractCredential(r); ok && ident.Source == domain.VerifiedViaSession {
		if err := h.Tokens.RevokeToken(ctx, cred); err != nil {
			writeServiceError(w, r, err)
			return
		}
		if _, err := h.Tokens.RevokeUserSession(ctx, ident.SessionID); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleMe godoc
//
//	@Summary		Current identity
//	@Description	Returns the identity the guard resolved and, when present, the stored profile.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.MeResponse
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Router			/v1/auth/me [get].
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ident, _ := IdentityFromContext(ctx)

	resp := authsdk.MeResponse{
		UserID:    ident.UserID,
		Email:     ident.Email,
		Roles:     ident.Roles,
		SessionID: ident.SessionID,
		Source:    string(ident.Source),
	}

	u, err := h.Users.GetUserByID(ctx, ident.UserID)
	switch {
	case err == nil:
		ur := userResponse(u)
		resp.User = &ur
	case !errors.Is(err, service.ErrUserNotFound):
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, resp)
}
