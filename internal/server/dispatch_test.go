package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/exthublabs/exthub/internal/api"
	"github.com/exthublabs/exthub/internal/mount"
	"github.com/exthublabs/exthub/pkg/config"
	"github.com/exthublabs/exthub/pkg/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1"},
		Auth:   config.AuthConfig{Realm: "exthub"},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         300,
		},
		Logging: logging.Config{Level: "error", Format: "json"},
	}
	return New(cfg, zap.NewNop())
}

func echoHandler() mount.Handler {
	return mount.HandlerFunc(func(c *gin.Context, subPath string) {
		c.JSON(http.StatusOK, gin.H{"subPath": subPath})
	})
}

func do(engine *gin.Engine, method, path string, header map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	engine.ServeHTTP(w, req)
	return w
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestDashboard(t *testing.T) {
	s := newTestServer(t)
	engine := s.buildEngine()

	w := do(engine, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "exthub")
}

func TestDashboardReplaceable(t *testing.T) {
	s := newTestServer(t)
	s.SetDashboard("<html>custom</html>")
	engine := s.buildEngine()

	w := do(engine, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<html>custom</html>", w.Body.String())
}

func TestDashboardSessionGated(t *testing.T) {
	s := newTestServer(t)
	s.SetSessionAuth("pi", "secret")
	engine := s.buildEngine()

	w := do(engine, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("pi", "secret")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMountIntrospection(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Mount(mount.Mount{
		Name: "ext", Prefix: "/ext", Label: "Ext", Description: "demo", Handler: echoHandler(),
	}))
	require.NoError(t, s.MountAPI(mount.Mount{
		Name: "capi", Prefix: "custom", SkipAuth: true, Handler: echoHandler(),
	}))
	engine := s.buildEngine()

	w := do(engine, http.MethodGet, "/_api/mounts", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var infos []mount.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "ext", infos[0].Name)
	assert.Equal(t, "/ext", infos[0].Prefix)
	assert.Equal(t, "capi", infos[1].Name)
	assert.Equal(t, "/api/custom", infos[1].Prefix)
	assert.True(t, infos[1].SkipAuth)
}

func TestAPIIndex(t *testing.T) {
	s := newTestServer(t)
	s.SetFullToken("F")
	require.NoError(t, s.Mount(mount.Mount{Name: "general", Prefix: "/ext", Handler: echoHandler()}))
	require.NoError(t, s.MountAPI(mount.Mount{Name: "apiext", Prefix: "ext", Handler: echoHandler()}))
	engine := s.buildEngine()

	// Both spellings of the namespace root answer, token required
	for _, path := range []string{"/api", "/api/"} {
		w := do(engine, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "path %s without token", path)

		w = do(engine, http.MethodGet, path, bearer("F"))
		require.Equal(t, http.StatusOK, w.Code, "path %s with token", path)

		var resp api.IndexResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.TokenAuth)
		assert.False(t, resp.ReadTokenAuth)
		require.Len(t, resp.Mounts, 1, "only API-namespace mounts listed")
		assert.Equal(t, "apiext", resp.Mounts[0].Name)
	}
}

func TestDispatchGeneralMount(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Mount(mount.Mount{Name: "ext", Prefix: "/ext", Handler: echoHandler()}))
	engine := s.buildEngine()

	w := do(engine, http.MethodGet, "/ext/some/page", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"subPath":"/some/page"}`, w.Body.String())

	w = do(engine, http.MethodGet, "/ext", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"subPath":"/"}`, w.Body.String())
}

func TestDispatchLongestPrefixWins(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Mount(mount.Mount{
		Name: "broad", Prefix: "/ext",
		Handler: mount.HandlerFunc(func(c *gin.Context, subPath string) {
			c.JSON(http.StatusOK, gin.H{"mount": "broad"})
		}),
	}))
	require.NoError(t, s.Mount(mount.Mount{
		Name: "narrow", Prefix: "/ext/sub",
		Handler: mount.HandlerFunc(func(c *gin.Context, subPath string) {
			c.JSON(http.StatusOK, gin.H{"mount": "narrow"})
		}),
	}))
	engine := s.buildEngine()

	w := do(engine, http.MethodGet, "/ext/sub/page", nil)
	assert.JSONEq(t, `{"mount":"narrow"}`, w.Body.String())

	w = do(engine, http.MethodGet, "/ext/other", nil)
	assert.JSONEq(t, `{"mount":"broad"}`, w.Body.String())
}

func TestDispatchReRegisterReplacesPrefix(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Mount(mount.Mount{Name: "ext", Prefix: "/old", Handler: echoHandler()}))
	engine := s.buildEngine()

	require.NoError(t, s.Mount(mount.Mount{Name: "ext", Prefix: "/new", Handler: echoHandler()}))

	w := do(engine, http.MethodGet, "/old/page", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(engine, http.MethodGet, "/new/page", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDispatchUnmountReturns404(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Mount(mount.Mount{Name: "ext", Prefix: "/ext", Handler: echoHandler()}))
	engine := s.buildEngine()

	assert.True(t, s.Unmount("ext"))
	assert.False(t, s.Unmount("ext"))

	w := do(engine, http.MethodGet, "/ext/page", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, w.Body.String())
}

func TestDispatchAPIMountTokenGated(t *testing.T) {
	s := newTestServer(t)
	s.SetFullToken("F")
	s.SetReadToken("R")
	require.NoError(t, s.MountAPI(mount.Mount{Name: "ext", Prefix: "ext", Handler: echoHandler()}))
	engine := s.buildEngine()

	w := do(engine, http.MethodGet, "/api/ext/page", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(engine, http.MethodGet, "/api/ext/page", bearer("wrong"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Invalid or missing token"}`, w.Body.String())

	w = do(engine, http.MethodGet, "/api/ext/page", bearer("F"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"subPath":"/page"}`, w.Body.String())

	w = do(engine, http.MethodGet, "/api/ext/page", bearer("R"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(engine, http.MethodPost, "/api/ext/page", bearer("R"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"Token is read-only"}`, w.Body.String())

	w = do(engine, http.MethodPost, "/api/ext/page", bearer("F"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDispatchSkipAuthMount(t *testing.T) {
	s := newTestServer(t)
	s.SetFullToken("F")
	require.NoError(t, s.MountAPI(mount.Mount{Name: "open", Prefix: "ext", SkipAuth: true, Handler: echoHandler()}))
	require.NoError(t, s.MountAPI(mount.Mount{Name: "gated", Prefix: "other", Handler: echoHandler()}))
	engine := s.buildEngine()

	// skipAuth mount reachable with no Authorization header at all
	w := do(engine, http.MethodGet, "/api/ext/anything", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Sibling without skipAuth stays gated under the same configuration
	w = do(engine, http.MethodGet, "/api/other/anything", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDispatchUnmatchedAPIStillGated(t *testing.T) {
	s := newTestServer(t)
	s.SetFullToken("F")
	engine := s.buildEngine()

	// Probing for mount existence requires a valid token: 401, not 404
	w := do(engine, http.MethodGet, "/api/nothing/here", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(engine, http.MethodGet, "/api/nothing/here", bearer("F"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, w.Body.String())
}

func TestDispatchUnmatchedAPIOpenNamespace(t *testing.T) {
	s := newTestServer(t)
	engine := s.buildEngine()

	w := do(engine, http.MethodGet, "/api/nothing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDispatchUnmatchedGeneral(t *testing.T) {
	s := newTestServer(t)
	engine := s.buildEngine()

	w := do(engine, http.MethodGet, "/nothing/here", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, w.Body.String())
}

func TestDispatchGeneralSessionGated(t *testing.T) {
	s := newTestServer(t)
	s.SetSessionAuth("pi", "secret")
	require.NoError(t, s.Mount(mount.Mount{Name: "ext", Prefix: "/ext", Handler: echoHandler()}))
	engine := s.buildEngine()

	w := do(engine, http.MethodGet, "/ext/page", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/ext/page", nil)
	req.SetBasicAuth("pi", "secret")
	w2 := httptest.NewRecorder()
	engine.ServeHTTP(w2, req)
	assert.Equal(t, http.StatusOK, w2.Code)

	// Session auth does not apply to the API namespace
	w = do(engine, http.MethodGet, "/api/anything", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOptionsBypassesAllAuth(t *testing.T) {
	s := newTestServer(t)
	s.SetSessionAuth("pi", "secret")
	s.SetFullToken("F")
	engine := s.buildEngine()

	for _, path := range []string{"/", "/ext/page", "/api", "/api/ext/page", "/_api/mounts"} {
		w := do(engine, http.MethodOptions, path, nil)
		assert.Equal(t, http.StatusNoContent, w.Code, "path %s", path)
		assert.Empty(t, w.Body.String())
	}
}

func TestCORSHeadersAlwaysPresent(t *testing.T) {
	s := newTestServer(t)
	s.SetSessionAuth("pi", "secret")
	engine := s.buildEngine()

	// Even rejected requests carry the permissive headers
	w := do(engine, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandlerPanicBecomes500(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Mount(mount.Mount{
		Name: "boom", Prefix: "/boom",
		Handler: mount.HandlerFunc(func(c *gin.Context, subPath string) {
			panic("extension exploded")
		}),
	}))
	engine := s.buildEngine()

	w := do(engine, http.MethodGet, "/boom/now", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"extension exploded"}`, w.Body.String())
}

func TestHandlerPanicAfterWriteLeavesResponse(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Mount(mount.Mount{
		Name: "boom", Prefix: "/boom",
		Handler: mount.HandlerFunc(func(c *gin.Context, subPath string) {
			c.String(http.StatusOK, "partial")
			panic("too late")
		}),
	}))
	engine := s.buildEngine()

	w := do(engine, http.MethodGet, "/boom/now", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "partial", w.Body.String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Mount(mount.Mount{Name: "ext", Prefix: "/ext", Handler: echoHandler()}))
	engine := s.buildEngine()

	w := do(engine, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Mounts)
}
