package httpx_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/httpx"
)

func TestExtractCredential(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
		ok      bool
	}{
		{name: "none", headers: nil, ok: false},
		{name: "bearer", headers: map[string]string{"Authorization": "Bearer abc.def.ghi"}, want: "abc.def.ghi", ok: true},
		{name: "bearer case insensitive", headers: map[string]string{"Authorization": "bearer tok"}, want: "tok", ok: true},
		{name: "x-auth-token", headers: map[string]string{"X-Auth-Token": "tok2"}, want: "tok2", ok: true},
		{
			name:    "bearer wins over x-auth-token",
			headers: map[string]string{"Authorization": "Bearer first", "X-Auth-Token": "second"},
			want:    "first",
			ok:      true,
		},
		{
			name:    "non bearer scheme falls through",
			headers: map[string]string{"Authorization": "Basic Zm9vOmJhcg==", "X-Auth-Token": "second"},
			want:    "second",
			ok:      true,
		},
		{name: "empty bearer", headers: map[string]string{"Authorization": "Bearer   "}, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			got, ok := httpx.ExtractCredential(req)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestWriteUnauthorized(t *testing.T) {
	rr := httptest.NewRecorder()
	httpx.WriteUnauthorized(rr, "authentication failed")

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Contains(t, rr.Header().Get("WWW-Authenticate"), `error="invalid_token"`)
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	require.JSONEq(t, `{"error":"invalid_token","error_description":"authentication failed"}`, rr.Body.String())
}

func TestRequireRoles(t *testing.T) {
	withRoles := func(roles ...string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		return req.WithContext(httpx.WithPrincipal(req.Context(), "u1", roles))
	}

	t.Run("any role allowed", func(t *testing.T) {
		rr := httptest.NewRecorder()
		httpx.RequireAnyRole("admin", "super_admin")(okHandler()).ServeHTTP(rr, withRoles("user", "super_admin"))
		require.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("any role denied", func(t *testing.T) {
		rr := httptest.NewRecorder()
		httpx.RequireAnyRole("admin")(okHandler()).ServeHTTP(rr, withRoles("user"))
		require.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("no principal denied", func(t *testing.T) {
		rr := httptest.NewRecorder()
		httpx.RequireAnyRole("admin")(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("challenge names the roles", func(t *testing.T) {
		rr := httptest.NewRecorder()
		httpx.RequireAnyRole("admin", "super_admin")(okHandler()).ServeHTTP(rr, withRoles("user"))
		require.Contains(t, rr.Header().Get("WWW-Authenticate"), `scope="admin super_admin"`)
	})
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) httpx.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := httpx.Chain(okHandler(), mw("a"), mw("b"), mw("c"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"a", "b", "c"}, order)
}
