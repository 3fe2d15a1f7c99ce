package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/domain"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/service"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/authsdk"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/httpx"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/slogx"
)

// LegacyHandler serves the opaque session API kept for older clients.
type LegacyHandler struct {
	Users    *service.UserService
	Sessions *service.SessionRegistry
	Limiter  *service.RateLimiter
}

func (h *LegacyHandler) current(w http.ResponseWriter, r *http.Request) (*domain.Session, bool) {
	id := strings.TrimSpace(r.Header.Get(authsdk.HeaderSessionID))
	if id == "" {
		httpx.WriteUnauthorized(w, "missing session id")
		return nil, false
	}

	sess, err := h.Sessions.GetSession(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	if sess == nil {
		httpx.WriteUnauthorized(w, "invalid or expired session")
		return nil, false
	}
	return sess, true
}

// HandleCreate godoc
//
//	@Summary		Legacy login
//	@Description	Checks email and password and opens an opaque session that expires after 24 hours without activity.
//	@Tags			Legacy
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.LoginRequest	true	"Credentials"
//	@Success		201		{object}	authsdk.LegacySessionResponse
//	@Failure		400		{object}	authsdk.ErrorResponse
//	@Failure		401		{object}	authsdk.ErrorResponse
//	@Failure		429		{object}	authsdk.ErrorResponse
//	@Router			/v1/legacy/sessions [post].
func (h *LegacyHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authsdk.LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Email == "" || req.Password == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	if err := h.Limiter.Allow(ctx, loginKey(r, req.Email), service.ActionLegacy, service.LoginPolicy); err != nil {
		writeServiceError(w, r, err)
		return
	}

	u, err := h.Users.Login(ctx, req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	id, err := h.Sessions.CreateSession(ctx, u.ID, u.Email, domain.SessionMeta{
		Username:  u.DisplayName,
		IPAddress: httpx.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	ttl := h.Sessions.TTL
	if ttl <= 0 {
		ttl = service.DefaultSessionTTL
	}
	httpx.WriteJSON(w, http.StatusCreated, authsdk.LegacySessionResponse{
		SessionID: id,
		ExpiresIn: int64(ttl.Seconds()),
	})
}

// HandleGet godoc
//
//	@Summary		Current legacy session
//	@Description	Returns the session named by X-Session-ID and extends its lifetime.
//	@Tags			Legacy
//	@Produce		json
//	@Param			X-Session-ID	header		string	true	"Session id"
//	@Success		200				{object}	authsdk.LegacySession
//	@Failure		401				{object}	authsdk.ErrorResponse
//	@Router			/v1/legacy/sessions/current [get].
func (h *LegacyHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.current(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.LegacySession{
		ID:           sess.ID,
		UserID:       sess.UserID,
		Email:        sess.Email,
		Username:     sess.Username,
		LoginTime:    sess.LoginTime,
		LastActivity: sess.LastActivity,
		IPAddress:    sess.IPAddress,
		UserAgent:    sess.UserAgent,
	})
}

// HandleDelete godoc
//
//	@Summary		Legacy logout
//	@Tags			Legacy
//	@Param			X-Session-ID	header	string	true	"Session id"
//	@Success		204
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Router			/v1/legacy/sessions/current [delete].
func (h *LegacyHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.Header.Get(authsdk.HeaderSessionID))
	if id == "" {
		httpx.WriteUnauthorized(w, "missing session id")
		return
	}

	if _, err := h.Sessions.DeleteSession(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteAll godoc
//
//	@Summary		Legacy logout everywhere
//	@Description	Ends every legacy session belonging to the owner of X-Session-ID.
//	@Tags			Legacy
//	@Produce		json
//	@Param			X-Session-ID	header		string	true	"Session id"
//	@Success		200				{object}	authsdk.DeletedResponse
//	@Failure		401				{object}	authsdk.ErrorResponse
//	@Router			/v1/legacy/sessions [delete].
func (h *LegacyHandler) HandleDeleteAll(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.current(w, r)
	if !ok {
		return
	}

	n, err := h.Sessions.DeleteAllUserSessions(r.Context(), sess.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	slogx.FromContext(r.Context()).Info("legacy logout everywhere", slog.String("user_id", sess.UserID), slog.Int("deleted", n))
	httpx.WriteJSON(w, http.StatusOK, authsdk.DeletedResponse{Deleted: n})
}
