package http

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrainDriveAI/plugin-engine/internal/domain/acquire"
	"github.com/BrainDriveAI/plugin-engine/internal/domain/lifecycle"
	"github.com/BrainDriveAI/plugin-engine/internal/domain/runtime"
	"github.com/BrainDriveAI/plugin-engine/internal/domain/storage"
	"github.com/BrainDriveAI/plugin-engine/internal/domain/validate"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/config"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
	"github.com/BrainDriveAI/plugin-engine/internal/persistence/memory"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/id"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
)

type runnerCall struct {
	op      string
	userID  string
	slug    string
	service string
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  []runnerCall
	states []types.ServiceState
}

func (f *fakeRunner) Trigger(op, userID string, plugin *types.Plugin, service string) id.OperationID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runnerCall{op: op, userID: userID, slug: plugin.Slug, service: service})
	return id.NewOperationID()
}

func (f *fakeRunner) States(ctx context.Context, userID string, plugin *types.Plugin) ([]types.ServiceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states, nil
}

func (f *fakeRunner) recorded() []runnerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runnerCall(nil), f.calls...)
}

type apiFixture struct {
	router *gin.Engine
	db     *memory.Store
	files  *storage.Store
	runner *fakeRunner
}

// newAPIFixture wires real collaborators end to end, with the GitHub
// API pointed at a server that has no releases.
func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logging.NewNop()

	release := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(release.Close)

	client := acquire.NewClient(config.GitHubConfig{
		APIBase:      release.URL,
		Timeout:      5 * time.Second,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}, logger, nil)
	acquirer := acquire.NewAcquirer(client, acquire.NewExtractor(logger, nil), t.TempDir(), logger, nil)

	files := storage.NewStore(config.StorageConfig{PluginsBaseDir: t.TempDir()}, logger)
	require.NoError(t, files.EnsureBase())

	db := memory.New()
	inspector := validate.NewInspector(logger, nil)
	hooks := lifecycle.NewHookRunner(10*time.Second, logger)
	registry := lifecycle.NewRegistry(lifecycle.NewDiscoverer(files, logger), inspector, hooks, logger)

	dispatcher := lifecycle.NewDispatcher(lifecycle.Deps{
		DB:        db,
		Files:     files,
		Acquirer:  acquirer,
		Inspector: inspector,
		Registry:  registry,
		Hooks:     hooks,
		Logger:    logger,
	})

	runner := &fakeRunner{}
	h := NewHandlers(dispatcher, runner, db, files, nil, t.TempDir(), logger)

	router := gin.New()
	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	h.Register(router.Group("/api/v1"))

	return &apiFixture{router: router, db: db, files: files, runner: runner}
}

func (f *apiFixture) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := sonic.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) upload(t *testing.T, userID, filename string, archive []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if userID != "" {
		require.NoError(t, mw.WriteField("user_id", userID))
	}
	if archive != nil {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(archive)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/plugins/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &body), "body: %s", w.Body.String())
	return body
}

func dataField(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	data, ok := body["data"].(map[string]interface{})
	require.True(t, ok, "data missing from body: %v", body)
	return data
}

// demoArchive builds the tar.gz shape releases ship: a single
// top-level directory holding the manifest.
func demoArchive(t *testing.T, version string, extra map[string]string) []byte {
	t.Helper()
	manifest := map[string]interface{}{
		"schema": 2,
		"plugin": map[string]interface{}{
			"name":    "Demo Plugin",
			"slug":    "demo",
			"version": version,
		},
		"modules": []map[string]interface{}{
			{"name": "DemoPanel", "display_name": "Demo Panel"},
		},
		"services": []map[string]interface{}{
			{"name": "api", "type": "python", "start_command": "python3 run.py"},
		},
	}
	raw, err := sonic.Marshal(manifest)
	require.NoError(t, err)

	files := map[string]string{
		"demo/" + validate.ManifestName: string(raw),
	}
	for name, content := range extra {
		files["demo/"+name] = content
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func (f *apiFixture) installDemo(t *testing.T, userID string, extra map[string]string) {
	t.Helper()
	w := f.upload(t, userID, "demo-1.0.0.tar.gz", demoArchive(t, "1.0.0", extra))
	require.Equal(t, http.StatusOK, w.Code, "install failed: %s", w.Body.String())
}

func TestRootAndHealth(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "online", decodeBody(t, w)["status"])

	w = f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "healthy", body["status"])
	stats, ok := body["plugins"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(0), stats["total_plugins"])
}

func TestUploadInstallEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	w := f.upload(t, "alice", "demo-1.0.0.tar.gz", demoArchive(t, "1.0.0", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "success", body["status"])
	data := dataField(t, body)
	assert.Equal(t, "demo", data["slug"])
	assert.Equal(t, "1.0.0", data["version"])

	if _, err := f.db.GetPluginBySlug(context.Background(), "alice", "demo"); err != nil {
		t.Errorf("plugin row missing after upload install: %v", err)
	}

	w = f.do(t, http.MethodGet, "/api/v1/plugins?user_id=alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), dataField(t, decodeBody(t, w))["count"])
}

func TestUploadRejectsMissingParts(t *testing.T) {
	f := newAPIFixture(t)

	w := f.upload(t, "", "demo.tar.gz", demoArchive(t, "1.0.0", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.upload(t, "alice", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDuplicateInstallConflict(t *testing.T) {
	f := newAPIFixture(t)
	f.installDemo(t, "alice", nil)

	w := f.upload(t, "alice", "demo-1.0.0.tar.gz", demoArchive(t, "1.0.0", nil))
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["message"], "already installed")
}

func TestInstallSourceValidation(t *testing.T) {
	f := newAPIFixture(t)

	cases := []struct {
		name string
		body interface{}
		raw  string
		want int
	}{
		{
			name: "malformed json",
			raw:  "{not json",
			want: http.StatusBadRequest,
		},
		{
			name: "missing source",
			body: map[string]interface{}{"user_id": "alice"},
			want: http.StatusBadRequest,
		},
		{
			name: "bad user id",
			body: map[string]interface{}{
				"user_id": "no spaces!",
				"source":  map[string]interface{}{"type": "github", "url": "https://github.com/acme/demo"},
			},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "unsupported source type",
			body: map[string]interface{}{
				"user_id": "alice",
				"source":  map[string]interface{}{"type": "ftp", "url": "ftp://example.com/x"},
			},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "non-github url",
			body: map[string]interface{}{
				"user_id": "alice",
				"source":  map[string]interface{}{"type": "github", "url": "https://gitlab.com/acme/demo"},
			},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "local file without path",
			body: map[string]interface{}{
				"user_id": "alice",
				"source":  map[string]interface{}{"type": "local-file"},
			},
			want: http.StatusUnprocessableEntity,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var w *httptest.ResponseRecorder
			if tc.raw != "" {
				req := httptest.NewRequest(http.MethodPost, "/api/v1/plugins/install", strings.NewReader(tc.raw))
				req.Header.Set("Content-Type", "application/json")
				w = httptest.NewRecorder()
				f.router.ServeHTTP(w, req)
			} else {
				w = f.do(t, http.MethodPost, "/api/v1/plugins/install", tc.body)
			}
			assert.Equal(t, tc.want, w.Code, w.Body.String())
			assert.Equal(t, "error", decodeBody(t, w)["status"])
		})
	}
}

func TestInstallFromLocalPath(t *testing.T) {
	f := newAPIFixture(t)

	archivePath := filepath.Join(t.TempDir(), "demo-1.0.0.tar.gz")
	require.NoError(t, os.WriteFile(archivePath, demoArchive(t, "1.0.0", nil), 0o644))

	w := f.do(t, http.MethodPost, "/api/v1/plugins/install", map[string]interface{}{
		"user_id": "alice",
		"source":  map[string]interface{}{"type": "local-file", "path": archivePath},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "demo", dataField(t, decodeBody(t, w))["slug"])
}

func TestGitHubInstallMapsUpstreamFailure(t *testing.T) {
	f := newAPIFixture(t)

	// The fixture's release API has no releases, so lookup fails
	// upstream rather than in this service.
	w := f.do(t, http.MethodPost, "/api/v1/plugins/install", map[string]interface{}{
		"user_id": "alice",
		"source":  map[string]interface{}{"type": "github", "url": "https://github.com/acme/demo"},
	})
	require.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, string(types.StepReleaseLookup), body["step"])
}

func TestStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/plugins/demo?user_id=alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, dataField(t, decodeBody(t, w))["installed"])

	f.installDemo(t, "alice", nil)

	w = f.do(t, http.MethodGet, "/api/v1/plugins/demo?user_id=alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := dataField(t, decodeBody(t, w))
	assert.Equal(t, true, data["installed"])
	assert.Equal(t, "1.0.0", data["version"])
}

func TestStatusRejectsBadSlug(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/plugins/Not-A-Slug?user_id=alice", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/plugins/demo", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestUninstallEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.installDemo(t, "alice", nil)

	w := f.do(t, http.MethodDelete, "/api/v1/plugins/demo?user_id=alice", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "success", decodeBody(t, w)["status"])

	w = f.do(t, http.MethodDelete, "/api/v1/plugins/demo?user_id=alice", nil)
	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
	assert.Contains(t, decodeBody(t, w)["message"], "not installed")
}

func TestUpdateEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/plugins/demo/update", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/plugins/demo/update", map[string]interface{}{"user_id": "***"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/plugins/demo/update", map[string]interface{}{"user_id": "alice"})
	assert.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
}

func TestCheckUpdateForUploadedPlugin(t *testing.T) {
	f := newAPIFixture(t)
	f.installDemo(t, "alice", nil)

	w := f.do(t, http.MethodGet, "/api/v1/plugins/demo/updates?user_id=alice", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, dataField(t, decodeBody(t, w))["update_available"])
}

func TestServiceActionAccepted(t *testing.T) {
	f := newAPIFixture(t)
	f.installDemo(t, "alice", nil)

	w := f.do(t, http.MethodPost, "/api/v1/plugins/demo/services/start", map[string]interface{}{"user_id": "alice"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "initiated", body["status"])
	opID, _ := body["operation_id"].(string)
	assert.True(t, strings.HasPrefix(opID, "op_"), "operation_id = %q", opID)

	w = f.do(t, http.MethodPost, "/api/v1/plugins/demo/services/stop", map[string]interface{}{"user_id": "alice", "service": "api"})
	require.Equal(t, http.StatusAccepted, w.Code)
	w = f.do(t, http.MethodPost, "/api/v1/plugins/demo/services/restart", map[string]interface{}{"user_id": "alice"})
	require.Equal(t, http.StatusAccepted, w.Code)

	calls := f.runner.recorded()
	require.Len(t, calls, 3)
	assert.Equal(t, runnerCall{op: runtime.OpStart, userID: "alice", slug: "demo"}, calls[0])
	assert.Equal(t, runnerCall{op: runtime.OpStop, userID: "alice", slug: "demo", service: "api"}, calls[1])
	assert.Equal(t, runnerCall{op: runtime.OpRestart, userID: "alice", slug: "demo"}, calls[2])
}

func TestServiceActionUnknownPlugin(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/plugins/ghost/services/start", map[string]interface{}{"user_id": "alice"})
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, f.runner.recorded())
}

func TestServiceStatesEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.installDemo(t, "alice", nil)
	f.runner.states = []types.ServiceState{
		{Name: "api", Type: types.ServicePython, Status: types.ServiceRunning, Healthy: true, PID: 4242},
	}

	w := f.do(t, http.MethodGet, "/api/v1/plugins/demo/services?user_id=alice", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := dataField(t, decodeBody(t, w))
	assert.Equal(t, float64(1), data["count"])
	services, ok := data["services"].([]interface{})
	require.True(t, ok)
	svc := services[0].(map[string]interface{})
	assert.Equal(t, "api", svc["name"])
	assert.Equal(t, true, svc["healthy"])
}

func TestAssetServing(t *testing.T) {
	f := newAPIFixture(t)
	f.installDemo(t, "alice", map[string]string{"dist/bundle.js": "console.log('demo')"})

	w := f.do(t, http.MethodGet, "/api/v1/plugins/demo/assets/dist/bundle.js", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "console.log('demo')", w.Body.String())

	w = f.do(t, http.MethodGet, "/api/v1/plugins/demo/assets/dist/missing.js", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/plugins/ghost/assets/dist/bundle.js", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAssetTraversalRejected(t *testing.T) {
	f := newAPIFixture(t)
	f.installDemo(t, "alice", map[string]string{"dist/bundle.js": "console.log('demo')"})

	secret := filepath.Join(f.files.Layout().Base(), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("top secret"), 0o644))

	for _, target := range []string{
		"/api/v1/plugins/demo/assets/../../secret.txt",
		"/api/v1/plugins/demo/assets/dist%2f..%2f..%2f..%2fsecret.txt",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "target %s: %s", target, w.Body.String())
		assert.NotContains(t, w.Body.String(), "top secret")
	}
}

func TestListRequiresUser(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/plugins", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
