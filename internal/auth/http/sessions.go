package http

import (
	"net/http"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/domain"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/service"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/authsdk"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/httpx"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/idx"
)

// SessionsHandler lists and revokes token sessions, for the caller and for
// admins acting on any user.
type SessionsHandler struct {
	Tokens *service.TokenService
	Roles  *service.RolesService
}

func sessionInfos(in []domain.ActiveSession, current string) []authsdk.SessionInfo {
	out := make([]authsdk.SessionInfo, 0, len(in))
	for _, s := range in {
		out = append(out, authsdk.SessionInfo{
			SessionID: s.SessionID,
			IssuedAt:  s.IssuedAt,
			ExpiresAt: s.ExpiresAt,
			Current:   current != "" && s.SessionID == current,
		})
	}
	return out
}

// targetUser reads the {id} path value. User ids are ULIDs, so anything
// else cannot name a user and is answered 404 without a lookup.
func targetUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := idx.Parse(r.PathValue("id"))
	if err != nil {
		authsdk.ErrNotFound.WriteError(w)
		return "", false
	}
	return id.String(), true
}

// HandleListOwn godoc
//
//	@Summary		List my sessions
//	@Tags			Sessions
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.SessionsResponse
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Router			/v1/auth/sessions [get].
func (h *SessionsHandler) HandleListOwn(w http.ResponseWriter, r *http.Request) {
	ident, _ := IdentityFromContext(r.Context())

	sessions, err := h.Tokens.GetUserActiveSessions(r.Context(), ident.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.SessionsResponse{Sessions: sessionInfos(sessions, ident.SessionID)})
}

// HandleRevokeOwn godoc
//
//	@Summary		Revoke one of my sessions
//	@Description	Ends the session so its refresh token stops working. Access tokens already issued for it stay valid until they expire.
//	@Tags			Sessions
//	@Security		BearerAuth
//	@Param			sid	path	string	true	"Session id"
//	@Success		204
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Failure		404	{object}	authsdk.ErrorResponse
//	@Router			/v1/auth/sessions/{sid} [delete].
func (h *SessionsHandler) HandleRevokeOwn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ident, _ := IdentityFromContext(ctx)
	sid := r.PathValue("sid")

	sessions, err := h.Tokens.GetUserActiveSessions(ctx, ident.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	owned := false
	for _, s := range sessions {
		if s.SessionID == sid {
			owned = true
			break
		}
	}
	if !owned {
		authsdk.ErrNotFound.WriteError(w)
		return
	}

	if _, err := h.Tokens.RevokeUserSession(ctx, sid); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAdminList godoc
//
//	@Summary		List a user's sessions
//	@Tags			Admin
//	@Security		BearerAuth
//	@Produce		json
//	@Param			id	path		string	true	"User id"
//	@Success		200	{object}	authsdk.SessionsResponse
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Failure		403	{object}	authsdk.ErrorResponse
//	@Failure		404	{object}	authsdk.ErrorResponse
//	@Router			/v1/admin/users/{id}/sessions [get].
func (h *SessionsHandler) HandleAdminList(w http.ResponseWriter, r *http.Request) {
	userID, ok := targetUser(w, r)
	if !ok {
		return
	}
	sessions, err := h.Tokens.GetUserActiveSessions(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.SessionsResponse{Sessions: sessionInfos(sessions, "")})
}

// HandleAdminRevokeAll godoc
//
//	@Summary		Revoke all of a user's sessions
//	@Tags			Admin
//	@Security		BearerAuth
//	@Produce		json
//	@Param			id	path		string	true	"User id"
//	@Success		200	{object}	authsdk.RevokedResponse
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Failure		403	{object}	authsdk.ErrorResponse
//	@Failure		404	{object}	authsdk.ErrorResponse
//	@Router			/v1/admin/users/{id}/sessions [delete].
func (h *SessionsHandler) HandleAdminRevokeAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := targetUser(w, r)
	if !ok {
		return
	}
	n, err := h.Tokens.RevokeAllUserSessions(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.RevokedResponse{Revoked: n})
}

// HandleAdminSetRoles godoc
//
//	@Summary		Set a user's roles
//	@Description	Replaces the role set and ends the user's sessions. Access tokens issued before the change keep their old roles until they expire.
//	@Tags			Admin
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"User id"
//	@Param			body	body		authsdk.SetRolesRequest	true	"Roles"
//	@Success		200		{object}	authsdk.UserResponse
//	@Failure		400		{object}	authsdk.ErrorResponse
//	@Failure		403		{object}	authsdk.ErrorResponse
//	@Failure		404		{object}	authsdk.ErrorResponse
//	@Router			/v1/admin/users/{id}/roles [put].
func (h *SessionsHandler) HandleAdminSetRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := targetUser(w, r)
	if !ok {
		return
	}
	var req authsdk.SetRolesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	u, err := h.Roles.SetUserRoles(r.Context(), userID, req.Roles)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, userResponse(u))
}
