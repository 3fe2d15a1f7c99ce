package http

import (
	"net/http"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/authsdk"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/httpx"
)

// FeedInfoHandler godoc
//
//	@Summary		Feed probe
//	@Description	Public endpoint that reports whether the request carried a usable credential. Never rejects.
//	@Tags			Public
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.FeedInfoResponse
//	@Router			/v1/public/feed-info [get].
func FeedInfoHandler(w http.ResponseWriter, r *http.Request) {
	resp := authsdk.FeedInfoResponse{}
	if ident, ok := IdentityFromContext(r.Context()); ok {
		resp.Authenticated = true
		resp.UserID = ident.UserID
		resp.Source = string(ident.Source)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
