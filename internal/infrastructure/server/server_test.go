package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/config"
)

// One server per test binary: the metrics collector registers with the
// default Prometheus registry.
func TestServerWiring(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.PluginsBaseDir = t.TempDir()
	cfg.Storage.ServicesDir = t.TempDir()
	cfg.Storage.ScratchDir = t.TempDir()

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	defer srv.Close()

	get := func(target string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		w := httptest.NewRecorder()
		srv.router.ServeHTTP(w, req)
		return w
	}

	for _, route := range []string{"/", "/health", "/metrics"} {
		w := get(route)
		assert.Equal(t, http.StatusOK, w.Code, route)
	}

	w := get("/health")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"), "tracing middleware should stamp responses")
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	w = get("/metrics")
	assert.Contains(t, w.Body.String(), "plugin_engine_http_requests_total")

	w = get("/api/v1/plugins?user_id=nobody")
	assert.Equal(t, http.StatusOK, w.Code)

	// The event stream upgrades through the full middleware chain.
	ts := httptest.NewServer(srv.router)
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var welcome map[string]interface{}
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "system", welcome["type"])
}
