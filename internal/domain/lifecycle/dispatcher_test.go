package lifecycle

import (
	"archive/tar"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"

	"github.com/BrainDriveAI/plugin-engine/internal/domain/acquire"
	"github.com/BrainDriveAI/plugin-engine/internal/domain/storage"
	"github.com/BrainDriveAI/plugin-engine/internal/domain/validate"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/config"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
	"github.com/BrainDriveAI/plugin-engine/internal/persistence/memory"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
)

const testRepoURL = "https://github.com/acme/demo"

// fakeRepo drives the fake release API: one repository, mutable
// latest tag, per-tag archives.
type fakeRepo struct {
	mu        sync.Mutex
	latestTag string
	archives  map[string][]byte
	lookups   int
}

func (f *fakeRepo) setRelease(tag string, archive []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latestTag = tag
	f.archives[tag] = archive
}

func (f *fakeRepo) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

func newReleaseServer(t *testing.T, repo *fakeRepo) *httptest.Server {
	t.Helper()

	writeRelease := func(w http.ResponseWriter, r *http.Request, tag string) {
		payload := map[string]interface{}{
			"tag_name": tag,
			"name":     "Release " + tag,
			"assets": []map[string]interface{}{{
				"name":                 "demo-" + tag + ".tar.gz",
				"browser_download_url": "http://" + r.Host + "/download/" + tag + ".tar.gz",
				"content_type":         "application/gzip",
			}},
		}
		body, err := sonic.Marshal(payload)
		if err != nil {
			t.Errorf("marshal release: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/demo/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		repo.mu.Lock()
		tag := repo.latestTag
		repo.lookups++
		repo.mu.Unlock()
		if tag == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeRelease(w, r, tag)
	})
	mux.HandleFunc("/repos/acme/demo/releases/tags/", func(w http.ResponseWriter, r *http.Request) {
		tag := path.Base(r.URL.Path)
		repo.mu.Lock()
		_, ok := repo.archives[tag]
		repo.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeRelease(w, r, tag)
	})
	mux.HandleFunc("/download/", func(w http.ResponseWriter, r *http.Request) {
		tag := strings.TrimSuffix(path.Base(r.URL.Path), ".tar.gz")
		repo.mu.Lock()
		data, ok := repo.archives[tag]
		repo.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/gzip")
		w.Write(data)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func makeTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		body := files[name]
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("tar body: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func demoManifest(version string, hooks map[string]string) string {
	m := map[string]interface{}{
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
	if len(hooks) > 0 {
		m["hooks"] = hooks
	}
	data, err := sonic.Marshal(m)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// demoArchive wraps a manifest and extra files in the single-level
// nesting release archives ship with.
func demoArchive(t *testing.T, manifest string, extra map[string]string) []byte {
	t.Helper()
	files := map[string]string{
		"demo/" + validate.ManifestName: manifest,
		"demo/README.md":                "# Demo\n",
	}
	for name, body := range extra {
		files["demo/"+name] = body
	}
	return makeTarGz(t, files)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *eventRecorder) Publish(ev types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) count(eventType types.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func (r *eventRecorder) has(eventType types.EventType) bool {
	return r.count(eventType) > 0
}

type fakeServices struct {
	mu      sync.Mutex
	stopped []string
	states  []types.ServiceState
}

func (f *fakeServices) StopAll(ctx context.Context, userID string, plugin *types.Plugin) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, userID+"/"+plugin.Slug)
	return map[string]string{"api": "stopped"}
}

func (f *fakeServices) States(ctx context.Context, userID string, plugin *types.Plugin) ([]types.ServiceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states, nil
}

func (f *fakeServices) stopCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopped...)
}

type testEngine struct {
	dispatcher *Dispatcher
	db         *memory.Store
	files      *storage.Store
	acquirer   *acquire.Acquirer
	registry   *Registry
	events     *eventRecorder
	services   *fakeServices
	repo       *fakeRepo
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	logger := logging.NewNop()

	repo := &fakeRepo{archives: make(map[string][]byte)}
	server := newReleaseServer(t, repo)

	client := acquire.NewClient(config.GitHubConfig{
		APIBase:      server.URL,
		Timeout:      5 * time.Second,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}, logger, nil)
	acquirer := acquire.NewAcquirer(client, acquire.NewExtractor(logger, nil), t.TempDir(), logger, nil)

	files := storage.NewStore(config.StorageConfig{PluginsBaseDir: t.TempDir()}, logger)
	if err := files.EnsureBase(); err != nil {
		t.Fatalf("EnsureBase: %v", err)
	}

	db := memory.New()
	inspector := validate.NewInspector(logger, nil)
	hooks := NewHookRunner(10*time.Second, logger)
	registry := NewRegistry(NewDiscoverer(files, logger), inspector, hooks, logger)
	events := &eventRecorder{}
	services := &fakeServices{}

	dispatcher := NewDispatcher(Deps{
		DB:        db,
		Files:     files,
		Acquirer:  acquirer,
		Inspector: inspector,
		Registry:  registry,
		Hooks:     hooks,
		Services:  services,
		Events:    events,
		Logger:    logger,
	})

	return &testEngine{
		dispatcher: dispatcher,
		db:         db,
		files:      files,
		acquirer:   acquirer,
		registry:   registry,
		events:     events,
		services:   services,
		repo:       repo,
	}
}

func TestInstallFromGitHub(t *testing.T) {
	e := newTestEngine(t)
	e.repo.setRelease("v1.0.0", demoArchive(t, demoManifest("1.0.0", nil), nil))
	ctx := context.Background()

	res := e.dispatcher.InstallFromGitHub(ctx, "alice", testRepoURL, "")
	if !res.Success {
		t.Fatalf("install failed: %v", res.Error)
	}
	if res.Data["slug"] != "demo" || res.Data["version"] != "1.0.0" {
		t.Errorf("result data = %v", res.Data)
	}

	plugin, err := e.db.GetPluginBySlug(ctx, "alice", "demo")
	if err != nil {
		t.Fatalf("plugin row missing: %v", err)
	}
	if plugin.Version != "1.0.0" || plugin.SourceType != types.SourceGitHub || !plugin.Enabled {
		t.Errorf("row = %+v", plugin)
	}
	if plugin.Status != types.PluginActivated {
		t.Errorf("status = %s, want %s", plugin.Status, types.PluginActivated)
	}

	mods, err := e.db.ListModules(ctx, plugin.ID)
	if err != nil || len(mods) != 1 || mods[0].Name != "DemoPanel" {
		t.Errorf("modules = %v (err %v)", mods, err)
	}
	svcs, err := e.db.GetServiceRuntimesByPluginID(ctx, plugin.ID)
	if err != nil || len(svcs) != 1 {
		t.Fatalf("services = %v (err %v)", svcs, err)
	}
	if svcs[0].Status != types.ServicePending {
		t.Errorf("service status = %s, want pending", svcs[0].Status)
	}

	if !e.files.HasVersion("demo", "1.0.0") {
		t.Error("version directory not staged")
	}
	if target, err := os.Readlink(e.files.Layout().AliasDir("demo", "1.0.0")); err != nil || target != "v1.0.0" {
		t.Errorf("alias target = %q (err %v), want v1.0.0", target, err)
	}

	meta, err := e.files.ReadMetadata("alice", plugin.ID, types.SourceGitHub)
	if err != nil {
		t.Fatalf("metadata missing: %v", err)
	}
	if meta.Version != "1.0.0" || meta.SourceURL != testRepoURL {
		t.Errorf("metadata = %+v", meta)
	}

	if !e.events.has(types.EventPluginInstalled) {
		t.Error("plugin.installed event not published")
	}
}

func TestInstallDuplicate(t *testing.T) {
	e := newTestEngine(t)
	e.repo.setRelease("v1.0.0", demoArchive(t, demoManifest("1.0.0", nil), nil))
	ctx := context.Background()

	if res := e.dispatcher.InstallFromGitHub(ctx, "alice", testRepoURL, ""); !res.Success {
		t.Fatalf("first install failed: %v", res.Error)
	}

	res := e.dispatcher.InstallFromGitHub(ctx, "alice", testRepoURL, "")
	if res.Success {
		t.Fatal("duplicate install should fail")
	}
	if res.Step != types.StepLifecycleInstall {
		t.Errorf("step = %s, want %s", res.Step, types.StepLifecycleInstall)
	}
	if res.Error == nil || !strings.Contains(*res.Error, "already installed") {
		t.Errorf("error = %v, want an already-installed explanation", res.Error)
	}
}

func TestTwoUsersShareVersionDir(t *testing.T) {
	e := newTestEngine(t)
	e.repo.setRelease("v1.0.0", demoArchive(t, demoManifest("1.0.0", nil), nil))
	ctx := context.Background()

	if res := e.dispatcher.InstallFromGitHub(ctx, "alice", testRepoURL, ""); !res.Success {
		t.Fatalf("alice install failed: %v", res.Error)
	}

	// A reused directory keeps files the first install left behind
	marker := filepath.Join(e.files.Layout().VersionDir("demo", "1.0.0"), "marker.txt")
	if err := os.WriteFile(marker, []byte("x"), 0o644); err != nil {
		t.Fatalf("marker: %v", err)
	}

	if res := e.dispatcher.InstallFromGitHub(ctx, "bob", testRepoURL, ""); !res.Success {
		t.Fatalf("bob install failed: %v", res.Error)
	}

	if _, err := os.Stat(marker); err != nil {
		t.Error("second install re-staged the shared directory instead of reusing it")
	}
	for _, user := range []string{"alice", "bob"} {
		if _, err := e.db.GetPluginBySlug(ctx, user, "demo"); err != nil {
			t.Errorf("row for %s missing: %v", user, err)
		}
	}
}

func TestInstallRollbackOnHookFailure(t *testing.T) {
	e := newTestEngine(t)
	manifest := demoManifest("1.0.0", map[string]string{"install": "hooks/install.sh"})
	archive := demoArchive(t, manifest, map[string]string{
		"hooks/install.sh": "#!/bin/sh\necho cannot migrate >&2\nexit 1\n",
	})
	e.repo.setRelease("v1.0.0", archive)
	ctx := context.Background()

	res := e.dispatcher.InstallFromGitHub(ctx, "alice", testRepoURL, "")
	if res.Success {
		t.Fatal("install should fail when the install hook fails")
	}
	if res.Step != types.StepLifecycleInstall {
		t.Errorf("step = %s, want %s", res.Step, types.StepLifecycleInstall)
	}

	if _, err := e.db.GetPluginBySlug(ctx, "alice", "demo"); err == nil {
		t.Error("plugin row left behind after rollback")
	}
	if e.files.HasVersion("demo", "1.0.0") {
		t.Error("staged version directory left behind after rollback")
	}
	if _, err := os.Stat(e.files.Layout().PluginDir("demo")); !os.IsNotExist(err) {
		t.Error("plugin directory left behind after rollback")
	}
}

func TestUninstall(t *testing.T) {
	e := newTestEngine(t)
	e.repo.setRelease("v1.0.0", demoArchive(t, demoManifest("1.0.0", nil), nil))
	ctx := context.Background()

	if res := e.dispatcher.InstallFromGitHub(ctx, "alice", testRepoURL, ""); !res.Success {
		t.Fatalf("install failed: %v", res.Error)
	}
	plugin, _ := e.db.GetPluginBySlug(ctx, "alice", "demo")

	res := e.dispatcher.Uninstall(ctx, "alice", "demo")
	if !res.Success {
		t.Fatalf("uninstall failed: %v", res.Error)
	}

	if _, err := e.db.GetPluginBySlug(ctx, "alice", "demo"); err == nil {
		t.Error("plugin row survived uninstall")
	}
	if _, err := e.files.ReadMetadata("alice", plugin.ID, types.SourceGitHub); err == nil {
		t.Error("metadata survived uninstall")
	}
	if _, err := os.Stat(e.files.Layout().PluginDir("demo")); !os.IsNotExist(err) {
		t.Error("shared directory survived the last referencing uninstall")
	}

	calls := e.services.stopCalls()
	if len(calls) != 1 || calls[0] != "alice/demo" {
		t.Errorf("StopAll calls = %v, want [alice/demo]", calls)
	}
	if !e.events.has(types.EventPluginUninstalled) {
		t.Error("plugin.uninstalled event not published")
	}

	// Repeat uninstall explains itself instead of crashing
	res = e.dispatcher.Uninstall(ctx, "alice", "demo")
	if res.Success {
		t.Fatal("repeat uninstall should fail")
	}
	if res.Error == nil || !strings.Contains(*res.Error, "not installed") {
		t.Errorf("error = %v, want a not-installed explanation", res.Error)
	}
}

func TestUninstallKeepsSharedTreeForRemainingUsers(t *testing.T) {
	e := newTestEngine(t)
	e.repo.setRelease("v1.0.0", demoArchive(t, demoManifest("1.0.0", nil), nil))
	ctx := context.Background()

	for _, user := range []string{"alice", "bob"} {
		if res := e.dispatcher.InstallFromGitHub(ctx, user, testRepoURL, ""); !res.Success {
			t.Fatalf("%s install failed: %v", user, res.Error)
		}
	}

	if res := e.dispatcher.Uninstall(ctx, "alice", "demo"); !res.Success {
		t.Fatalf("uninstall failed: %v", res.Error)
	}

	if !e.files.HasVersion("demo", "1.0.0") {
		t.Error("shared version directory removed while bob still references it")
	}
	if _, err := e.db.GetPluginBySlug(ctx, "bob", "demo"); err != nil {
		t.Errorf("bob's row affected by alice's uninstall: %v", err)
	}

	if res := e.dispatcher.Uninstall(ctx, "bob", "demo"); !res.Success {
		t.Fatalf("bob uninstall failed: %v", res.Error)
	}
	if _, err := os.Stat(e.files.Layout().PluginDir("demo")); !os.IsNotExist(err) {
		t.Error("shared directory survived after the last user uninstalled")
	}
}

func TestStatus(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res := e.dispatcher.Status(ctx, "alice", "demo")
	if !res.Success || res.Data["installed"] != false {
		t.Errorf("status for missing plugin = %+v", res)
	}

	e.repo.setRelease("v1.0.0", demoArchive(t, demoManifest("1.0.0", nil), nil))
	if res := e.dispatcher.InstallFromGitHub(ctx, "alice", testRepoURL, ""); !res.Success {
		t.Fatalf("install failed: %v", res.Error)
	}
	e.services.states = []types.ServiceState{{Name: "api", Type: types.ServicePython, Status: types.ServiceRunning, Healthy: true}}

	res = e.dispatcher.Status(ctx, "alice", "demo")
	if !res.Success {
		t.Fatalf("status failed: %v", res.Error)
	}
	if res.Data["installed"] != true || res.Data["files_present"] != true {
		t.Errorf("status data = %v", res.Data)
	}
	if res.Data["version"] != "1.0.0" {
		t.Errorf("version = %v, want 1.0.0", res.Data["version"])
	}
	states, ok := res.Data["services"].([]types.ServiceState)
	if !ok || len(states) != 1 || !states[0].Healthy {
		t.Errorf("services = %v", res.Data["services"])
	}
}

func TestUpdateFlow(t *testing.T) {
	e := newTestEngine(t)
	e.repo.setRelease("v1.0.0", demoArchive(t, demoManifest("1.0.0", nil), nil))
	ctx := context.Background()

	if res := e.dispatcher.InstallFromGitHub(ctx, "alice", testRepoURL, ""); !res.Success {
		t.Fatalf("install failed: %v", res.Error)
	}
	plugin, _ := e.db.GetPluginBySlug(ctx, "alice", "demo")
	metaBefore, err := e.files.ReadMetadata("alice", plugin.ID, types.SourceGitHub)
	if err != nil {
		t.Fatalf("metadata before update: %v", err)
	}

	if _, err := e.registry.Load(ctx, "demo"); err != nil {
		t.Fatalf("registry load: %v", err)
	}

	e.repo.setRelease("v1.1.0", demoArchive(t, demoManifest("1.1.0", nil), nil))

	res := e.dispatcher.Update(ctx, "alice", "demo")
	if !res.Success {
		t.Fatalf("update failed: %v", res.Error)
	}
	if res.Data["previous_version"] != "1.0.0" || res.Data["version"] != "1.1.0" {
		t.Errorf("result data = %v", res.Data)
	}

	updated, _ := e.db.GetPluginBySlug(ctx, "alice", "demo")
	if updated.Version != "1.1.0" {
		t.Errorf("row version = %s, want 1.1.0", updated.Version)
	}
	if updated.ID != plugin.ID {
		t.Error("update replaced the row identity")
	}

	// Old versions are retained as rollback material
	if !e.files.HasVersion("demo", "1.0.0") || !e.files.HasVersion("demo", "1.1.0") {
		t.Error("expected both version directories after update")
	}
	if target, err := os.Readlink(e.files.Layout().AliasDir("demo", "1.1.0")); err != nil || target != "v1.1.0" {
		t.Errorf("alias target = %q (err %v), want v1.1.0", target, err)
	}

	metaAfter, err := e.files.ReadMetadata("alice", plugin.ID, types.SourceGitHub)
	if err != nil {
		t.Fatalf("metadata after update: %v", err)
	}
	if metaAfter.Version != "1.1.0" {
		t.Errorf("metadata version = %s, want 1.1.0", metaAfter.Version)
	}
	if !metaAfter.InstalledAt.Equal(metaBefore.InstalledAt) {
		t.Error("update should preserve the original install time")
	}

	if _, ok := e.registry.Get("demo"); ok {
		t.Error("registry entry not invalidated by update")
	}
	if !e.events.has(types.EventPluginUpdated) {
		t.Error("plugin.updated event not published")
	}
}

func TestUpdateUpToDate(t *testing.T) {
	e := newTestEngine(t)
	e.repo.setRelease("v1.0.0", demoArchive(t, demoManifest("1.0.0", nil), nil))
	ctx := context.Background()

	if res := e.dispatcher.InstallFromGitHub(ctx, "alice", testRepoURL, ""); !res.Success {
		t.Fatalf("install failed: %v", res.Error)
	}

	res := e.dispatcher.Update(ctx, "alice", "demo")
	if !res.Success {
		t.Fatalf("up-to-date update should succeed as a no-op: %v", res.Error)
	}
	if res.Data["update_available"] != false {
		t.Errorf("data = %v, want update_available=false", res.Data)
	}

	plugin, _ := e.db.GetPluginBySlug(ctx, "alice", "demo")
	if plugin.Version != "1.0.0" {
		t.Errorf("no-op update changed the row to %s", plugin.Version)
	}
}

func TestCheckUpdate(t *testing.T) {
	e := newTestEngine(t)
	e.repo.setRelease("v1.0.0", demoArchive(t, demoManifest("1.0.0", nil), nil))
	ctx := context.Background()

	if res := e.dispatcher.InstallFromGitHub(ctx, "alice", testRepoURL, ""); !res.Success {
		t.Fatalf("install failed: %v", res.Error)
	}
	e.repo.setRelease("v1.1.0", demoArchive(t, demoManifest("1.1.0", nil), nil))

	res := e.dispatcher.CheckUpdate(ctx, "alice", "demo")
	if !res.Success {
		t.Fatalf("check failed: %v", res.Error)
	}
	if res.Data["update_available"] != true || res.Data["latest_version"] != "1.1.0" {
		t.Errorf("data = %v", res.Data)
	}

	// Check never mutates
	plugin, _ := e.db.GetPluginBySlug(ctx, "alice", "demo")
	if plugin.Version != "1.0.0" {
		t.Errorf("check-update mutated the row to %s", plugin.Version)
	}
	if e.files.HasVersion("demo", "1.1.0") {
		t.Error("check-update staged files")
	}
}

func TestInstallFromUpload(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	archivePath := filepath.Join(t.TempDir(), "demo-2.0.0.tar.gz")
	if err := os.WriteFile(archivePath, demoArchive(t, demoManifest("2.0.0", nil), nil), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	res := e.dispatcher.InstallFromUpload(ctx, "alice", archivePath)
	if !res.Success {
		t.Fatalf("upload install failed: %v", res.Error)
	}

	plugin, err := e.db.GetPluginBySlug(ctx, "alice", "demo")
	if err != nil {
		t.Fatalf("row missing: %v", err)
	}
	if plugin.SourceType != types.SourceLocalFile || plugin.Version != "2.0.0" {
		t.Errorf("row = %+v", plugin)
	}
	if _, err := e.files.ReadMetadata("alice", plugin.ID, types.SourceLocalFile); err != nil {
		t.Errorf("local metadata missing: %v", err)
	}

	// Uploads have no release to update from
	upd := e.dispatcher.Update(ctx, "alice", "demo")
	if upd.Success {
		t.Fatal("update of an uploaded plugin should fail")
	}
	if upd.Error == nil || !strings.Contains(*upd.Error, "repository release") {
		t.Errorf("error = %v, want a source explanation", upd.Error)
	}
}
