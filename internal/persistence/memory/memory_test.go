package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
)

func plugin(id, userID, slug string, created time.Time) *types.Plugin {
	return &types.Plugin{
		ID:        id,
		UserID:    userID,
		Slug:      slug,
		Name:      "Demo " + slug,
		Version:   "1.0.0",
		Status:    types.PluginActivated,
		CreatedAt: created,
	}
}

func TestInsertPluginUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	if err := s.InsertPlugin(ctx, plugin("plug_a", "alice", "demo", now)); err != nil {
		t.Fatalf("InsertPlugin: %v", err)
	}

	err := s.InsertPlugin(ctx, plugin("plug_b", "alice", "demo", now))
	if !errors.Is(err, types.ErrAlreadyInstalled) {
		t.Errorf("duplicate insert error = %v, want ErrAlreadyInstalled", err)
	}

	// The same slug under another user is a separate row.
	if err := s.InsertPlugin(ctx, plugin("plug_c", "bob", "demo", now)); err != nil {
		t.Errorf("cross-user insert: %v", err)
	}
}

func TestGetPluginBySlugClones(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.InsertPlugin(ctx, plugin("plug_a", "alice", "demo", time.Now())); err != nil {
		t.Fatalf("InsertPlugin: %v", err)
	}

	got, err := s.GetPluginBySlug(ctx, "alice", "demo")
	if err != nil {
		t.Fatalf("GetPluginBySlug: %v", err)
	}
	got.Version = "9.9.9"

	again, err := s.GetPluginBySlug(ctx, "alice", "demo")
	if err != nil {
		t.Fatalf("GetPluginBySlug: %v", err)
	}
	if again.Version != "1.0.0" {
		t.Errorf("store row mutated through a returned pointer, version = %s", again.Version)
	}

	if _, err := s.GetPluginBySlug(ctx, "alice", "ghost"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("missing row error = %v, want ErrNotFound", err)
	}
}

func TestListPluginsScopesAndOrders(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now()

	s.InsertPlugin(ctx, plugin("plug_a", "alice", "older", base.Add(-time.Hour)))
	s.InsertPlugin(ctx, plugin("plug_b", "alice", "newer", base))
	s.InsertPlugin(ctx, plugin("plug_c", "bob", "older", base))

	mine, err := s.ListPlugins(ctx, "alice")
	if err != nil {
		t.Fatalf("ListPlugins: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("len = %d, want 2", len(mine))
	}
	if mine[0].Slug != "newer" || mine[1].Slug != "older" {
		t.Errorf("order = [%s %s], want newest first", mine[0].Slug, mine[1].Slug)
	}

	bySlug, err := s.ListPluginsBySlug(ctx, "older")
	if err != nil {
		t.Fatalf("ListPluginsBySlug: %v", err)
	}
	if len(bySlug) != 2 {
		t.Errorf("ListPluginsBySlug len = %d, want one row per user", len(bySlug))
	}

	all, err := s.ListAllPlugins(ctx)
	if err != nil {
		t.Fatalf("ListAllPlugins: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListAllPlugins len = %d, want 3", len(all))
	}
}

func TestUpdatePluginKeepsIdentity(t *testing.T) {
	s := New()
	ctx := context.Background()
	created := time.Now().Add(-time.Hour)

	s.InsertPlugin(ctx, plugin("plug_a", "alice", "demo", created))

	row, _ := s.GetPluginBySlug(ctx, "alice", "demo")
	row.Version = "2.0.0"
	if err := s.UpdatePlugin(ctx, row); err != nil {
		t.Fatalf("UpdatePlugin: %v", err)
	}

	got, _ := s.GetPluginBySlug(ctx, "alice", "demo")
	if got.Version != "2.0.0" {
		t.Errorf("version = %s, want 2.0.0", got.Version)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed on update: %v", got.CreatedAt)
	}
	if !got.UpdatedAt.After(created) {
		t.Error("UpdatedAt should move on update")
	}

	ghost := plugin("plug_zz", "alice", "ghost", time.Now())
	if err := s.UpdatePlugin(ctx, ghost); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("update of unknown row = %v, want ErrNotFound", err)
	}
}

func TestReplaceModulesWholesale(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.InsertPlugin(ctx, plugin("plug_a", "alice", "demo", time.Now()))

	first := []*types.Module{
		{ID: "mod_1", PluginID: "plug_a", Name: "PanelA"},
		{ID: "mod_2", PluginID: "plug_a", Name: "PanelB"},
	}
	if err := s.ReplaceModules(ctx, "plug_a", first); err != nil {
		t.Fatalf("ReplaceModules: %v", err)
	}

	second := []*types.Module{{ID: "mod_3", PluginID: "plug_a", Name: "PanelC"}}
	if err := s.ReplaceModules(ctx, "plug_a", second); err != nil {
		t.Fatalf("ReplaceModules (swap): %v", err)
	}

	rows, err := s.ListModules(ctx, "plug_a")
	if err != nil {
		t.Fatalf("ListModules: %v", err)
	}
	if len(rows) != 1 || rows[0].Name != "PanelC" {
		t.Errorf("modules = %+v, want only the replacement set", rows)
	}

	if err := s.ReplaceModules(ctx, "plug_ghost", nil); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("replace for unknown plugin = %v, want ErrNotFound", err)
	}
}

func TestServiceRuntimeUpsertIdentity(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.InsertPlugin(ctx, plugin("plug_a", "alice", "demo", time.Now()))

	if err := s.UpsertServiceRuntime(ctx, &types.ServiceRuntime{
		ID:           "svc_1",
		PluginID:     "plug_a",
		Name:         "api",
		Type:         types.ServicePython,
		StartCommand: "python3 run.py",
		Status:       types.ServicePending,
	}); err != nil {
		t.Fatalf("UpsertServiceRuntime: %v", err)
	}
	if err := s.UpdateServiceRuntimeStatus(ctx, "plug_a", "api", types.ServiceRunning); err != nil {
		t.Fatalf("UpdateServiceRuntimeStatus: %v", err)
	}

	// Re-upserting the same (PluginID, Name) keeps identity and status.
	if err := s.UpsertServiceRuntime(ctx, &types.ServiceRuntime{
		ID:           "svc_other",
		PluginID:     "plug_a",
		Name:         "api",
		Type:         types.ServicePython,
		StartCommand: "python3 serve.py",
		Status:       types.ServicePending,
	}); err != nil {
		t.Fatalf("UpsertServiceRuntime (update): %v", err)
	}

	rows, err := s.GetServiceRuntimesByPluginID(ctx, "plug_a")
	if err != nil {
		t.Fatalf("GetServiceRuntimesByPluginID: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len = %d, want the upsert to replace in place", len(rows))
	}
	svc := rows[0]
	if svc.ID != "svc_1" {
		t.Errorf("ID = %s, identity should survive upsert", svc.ID)
	}
	if svc.Status != types.ServiceRunning {
		t.Errorf("Status = %s, should survive upsert", svc.Status)
	}
	if svc.StartCommand != "python3 serve.py" {
		t.Errorf("StartCommand = %s, want the new command", svc.StartCommand)
	}

	err = s.UpdateServiceRuntimeStatus(ctx, "plug_a", "ghost", types.ServiceStopped)
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("status update for unknown service = %v, want ErrNotFound", err)
	}
}

func TestDeletePluginCascades(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.InsertPlugin(ctx, plugin("plug_a", "alice", "demo", time.Now()))
	s.ReplaceModules(ctx, "plug_a", []*types.Module{{ID: "mod_1", PluginID: "plug_a", Name: "Panel"}})
	s.UpsertServiceRuntime(ctx, &types.ServiceRuntime{ID: "svc_1", PluginID: "plug_a", Name: "api"})

	if err := s.DeletePlugin(ctx, "plug_a"); err != nil {
		t.Fatalf("DeletePlugin: %v", err)
	}

	if _, err := s.GetPluginBySlug(ctx, "alice", "demo"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("row still present after delete: %v", err)
	}
	mods, _ := s.ListModules(ctx, "plug_a")
	if len(mods) != 0 {
		t.Errorf("modules survived the delete: %+v", mods)
	}
	svcs, _ := s.GetServiceRuntimesByPluginID(ctx, "plug_a")
	if len(svcs) != 0 {
		t.Errorf("services survived the delete: %+v", svcs)
	}

	// The slot is reusable once the row is gone.
	if err := s.InsertPlugin(ctx, plugin("plug_b", "alice", "demo", time.Now())); err != nil {
		t.Errorf("reinsert after delete: %v", err)
	}
}

func TestSettingsEnvVars(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.SeedSettings("alice", "weather_settings", map[string]string{"WEATHER_TOKEN": "t-1"})

	values, err := s.GetSettingsEnvVars(ctx, "alice", "weather_settings")
	if err != nil {
		t.Fatalf("GetSettingsEnvVars: %v", err)
	}
	if values["WEATHER_TOKEN"] != "t-1" {
		t.Errorf("values = %v", values)
	}

	values["WEATHER_TOKEN"] = "mutated"
	again, _ := s.GetSettingsEnvVars(ctx, "alice", "weather_settings")
	if again["WEATHER_TOKEN"] != "t-1" {
		t.Error("seeded settings mutated through a returned map")
	}

	empty, err := s.GetSettingsEnvVars(ctx, "nobody", "weather_settings")
	if err != nil {
		t.Fatalf("GetSettingsEnvVars (unknown user): %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("unknown user should yield no values, got %v", empty)
	}
}
