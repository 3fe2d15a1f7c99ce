package http

import (
	"net/http"
	"time"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/service"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/store"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/authsdk"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/httpx"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/jwtx"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/kv"
)

// ReadyzHandler godoc
//
//	@Summary		Readiness Check Endpoint
//	@Description	Readiness probe returning uptime, version and the status of the user store, the KV cache and the token signer
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse	"status, uptime, version, checks"
//	@Failure		503	{object}	authsdk.HealthResponse	"status, uptime, version, checks - service not ready"
//	@Router			/readyz [get].
func ReadyzHandler(
	startTime time.Time,
	version string,
	st store.Store,
	cache kv.Store,
	codec service.TokenCodec,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &authsdk.HealthChecks{
			Database: "ok",
			Cache:    "ok",
			Signer:   "ok",
		}
		overallStatus := "ok"
		statusCode := http.StatusOK
		fail := func(field *string, msg string) {
			*field = "error: " + msg
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		if err := st.Ping(r.Context()); err != nil {
			fail(&checks.Database, err.Error())
		}

		if err := cache.Ping(r.Context()); err != nil {
			fail(&checks.Cache, err.Error())
		}

		// A sign and verify round trip proves the secret is loaded.
		probe := jwtx.NewClaims(jwtx.TypeAccess, "readyz", "", "readyz", nil, "", time.Now(), time.Minute)
		if tok, err := codec.Sign(probe); err != nil {
			fail(&checks.Signer, err.Error())
		} else if _, err := codec.Verify(tok); err != nil {
			fail(&checks.Signer, err.Error())
		}

		response := authsdk.HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		}
		httpx.WriteJSON(w, statusCode, response)
	}
}
