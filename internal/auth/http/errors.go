package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/service"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/authsdk"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/slogx"
)

// writeServiceError maps service errors onto response bodies. Anything
// unexpected is logged and answered with a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *service.RateLimitedError
	switch {
	case errors.As(err, &rl):
		writeRateLimited(w, rl)
	case errors.Is(err, service.ErrInvalidCredentials):
		authsdk.ErrInvalidGrant.WriteError(w)
	case service.IsTokenFailure(err):
		authsdk.ErrInvalidGrant.WriteError(w)
	case errors.Is(err, service.ErrEmailTaken):
		authsdk.ErrEmailTaken.WriteError(w)
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrUnknownRole):
		authsdk.NewOAuth2Error(http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, err.Error()).WriteError(w)
	case errors.Is(err, service.ErrUserNotFound):
		authsdk.ErrNotFound.WriteError(w)
	case errors.Is(err, service.ErrAdminAccessDenied):
		authsdk.ErrAccessDenied.WriteError(w)
	default:
		slogx.FromContext(r.Context()).Error("request failed", slog.Any("error", err))
		authsdk.ErrServerError.WriteError(w)
	}
}
