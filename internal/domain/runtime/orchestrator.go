package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BrainDriveAI/plugin-engine/internal/domain/storage"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/config"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/monitoring"
	"github.com/BrainDriveAI/plugin-engine/internal/persistence"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/id"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
)

// Service operations as named over the HTTP boundary.
const (
	OpStart   = "start"
	OpStop    = "stop"
	OpRestart = "restart"
)

// maxBackgroundOp bounds a background operation across all of a
// plugin's services, including first-time checkouts and installs.
const maxBackgroundOp = 30 * time.Minute

// Publisher broadcasts service events to stream subscribers.
type Publisher interface {
	Publish(event types.Event)
}

// Orchestrator brings a plugin's declared services to a requested
// state. Each service is handled by the backend matching its type, and
// each outcome is collected independently so one broken service never
// aborts its siblings.
type Orchestrator struct {
	db       persistence.Store
	env      *EnvResolver
	layout   *storage.Layout
	procs    *ProcessTable
	prober   *HealthProber
	backends map[types.ServiceType]Backend
	events   Publisher
	cfg      config.RuntimeConfig
	logger   *logging.Logger
	metrics  *monitoring.Metrics
}

// OrchestratorDeps carries the orchestrator's collaborators. Events
// and Metrics are optional.
type OrchestratorDeps struct {
	DB        persistence.Store
	Env       *EnvResolver
	Checkouts *CheckoutManager
	Layout    *storage.Layout
	Procs     *ProcessTable
	Prober    *HealthProber
	Events    Publisher
	Config    config.RuntimeConfig
	Logger    *logging.Logger
	Metrics   *monitoring.Metrics
}

func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	o := &Orchestrator{
		db:      deps.DB,
		env:     deps.Env,
		layout:  deps.Layout,
		procs:   deps.Procs,
		prober:  deps.Prober,
		events:  deps.Events,
		cfg:     deps.Config,
		logger:  deps.Logger,
		metrics: deps.Metrics,
	}
	o.backends = map[types.ServiceType]Backend{
		types.ServiceDockerCompose: newComposeBackend(deps.Checkouts, deps.Prober, deps.Config, deps.Logger),
		types.ServicePython:        newPythonBackend(deps.Checkouts, deps.Prober, deps.Config, deps.Logger),
		types.ServiceVenvProcess:   newVenvBackend(deps.Checkouts, deps.Procs, deps.Prober, deps.Config, deps.Logger),
	}
	return o
}

// StartAll brings every declared service up and reports per-service
// outcomes.
func (o *Orchestrator) StartAll(ctx context.Context, userID string, plugin *types.Plugin) map[string]string {
	return o.apply(ctx, OpStart, userID, plugin, "")
}

// StopAll stops every declared service. Stopping a service that is not
// running still counts as "stopped".
func (o *Orchestrator) StopAll(ctx context.Context, userID string, plugin *types.Plugin) map[string]string {
	return o.apply(ctx, OpStop, userID, plugin, "")
}

// RestartAll restarts every declared service with a freshly resolved
// environment.
func (o *Orchestrator) RestartAll(ctx context.Context, userID string, plugin *types.Plugin) map[string]string {
	return o.apply(ctx, OpRestart, userID, plugin, "")
}

// Apply runs op against one named service, or against every declared
// service when service is empty.
func (o *Orchestrator) Apply(ctx context.Context, op, userID string, plugin *types.Plugin, service string) map[string]string {
	return o.apply(ctx, op, userID, plugin, service)
}

// Trigger runs op in the background and returns an operation ID
// immediately. Per-service outcomes surface as events and log lines;
// the caller never waits on subprocess completion.
func (o *Orchestrator) Trigger(op, userID string, plugin *types.Plugin, service string) id.OperationID {
	opID := id.NewOperationID()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), maxBackgroundOp)
		defer cancel()

		results := o.apply(ctx, op, userID, plugin, service)
		o.logger.Info("Background service operation finished",
			zap.String("operation_id", string(opID)),
			zap.String("operation", op),
			zap.String("plugin", plugin.Slug),
			zap.String("user_id", userID),
			zap.Any("results", results))
	}()
	return opID
}

// States combines desired state from the repository rows with what the
// process table and health probes actually observe.
func (o *Orchestrator) States(ctx context.Context, userID string, plugin *types.Plugin) ([]types.ServiceState, error) {
	rows, err := o.db.GetServiceRuntimesByPluginID(ctx, plugin.ID)
	if err != nil {
		return nil, err
	}

	states := make([]types.ServiceState, 0, len(rows))
	for _, svc := range rows {
		state := types.ServiceState{
			Name:   svc.Name,
			Type:   svc.Type,
			Status: svc.Status,
		}
		if pid, ok := o.procs.Running(svcKey(plugin.Slug, svc.Name)); ok {
			state.PID = pid
			state.Status = types.ServiceRunning
		}
		if svc.HealthcheckURL != "" {
			state.Healthy = o.prober.Healthy(ctx, svc.HealthcheckURL)
		}
		states = append(states, state)
	}
	return states, nil
}

// Shutdown stops tracked processes when the engine owns their
// lifetime. With KillOnShutdown unset, detached services keep running
// across engine restarts.
func (o *Orchestrator) Shutdown() {
	if !o.cfg.KillOnShutdown {
		return
	}
	if stopped := o.procs.StopAll(); stopped > 0 {
		o.logger.Info("Stopped tracked service processes", zap.Int("count", stopped))
	}
}

func (o *Orchestrator) apply(ctx context.Context, op, userID string, plugin *types.Plugin, only string) map[string]string {
	rows, err := o.db.GetServiceRuntimesByPluginID(ctx, plugin.ID)
	if err != nil {
		o.logger.Error("Failed to list service runtimes",
			zap.String("plugin", plugin.Slug),
			zap.Error(err))
		return map[string]string{}
	}

	results := make(map[string]string, len(rows))
	for _, svc := range rows {
		if only != "" && svc.Name != only {
			continue
		}
		results[svc.Name] = o.applyOne(ctx, op, userID, plugin, svc)
	}
	if only != "" && len(results) == 0 {
		results[only] = "failed: service not declared by plugin"
	}
	return results
}

func (o *Orchestrator) applyOne(ctx context.Context, op, userID string, plugin *types.Plugin, svc *types.ServiceRuntime) string {
	backend, ok := o.backends[svc.Type]
	if !ok {
		return "failed: unsupported service type " + string(svc.Type)
	}

	env, missing, err := o.env.Resolve(ctx, userID, svc)
	if err != nil {
		return o.failed(userID, plugin, svc, op, err.Error())
	}
	// Stop proceeds with whatever resolved; a service must remain
	// stoppable even after its settings were deleted.
	if op != OpStop && len(missing) > 0 {
		reason := "missing required environment variables: " + strings.Join(missing, ", ")
		return o.failed(userID, plugin, svc, op, reason)
	}

	inst := &Instance{
		UserID:    userID,
		Slug:      plugin.Slug,
		PluginDir: o.layout.VersionDir(plugin.Slug, plugin.Version),
		Svc:       svc,
		Env:       env,
	}

	started := time.Now()
	switch op {
	case OpStart:
		err = backend.Start(ctx, inst)
	case OpStop:
		err = backend.Stop(ctx, inst)
	case OpRestart:
		err = backend.Restart(ctx, inst)
	default:
		err = fmt.Errorf("unknown operation %q", op)
	}
	o.recordOp(svc.Type, op, err == nil, started)

	if err != nil {
		return o.failed(userID, plugin, svc, op, err.Error())
	}

	newStatus := types.ServiceRunning
	event := types.EventServiceStarted
	if op == OpStop {
		newStatus = types.ServiceStopped
		event = types.EventServiceStopped
	}
	o.markStatus(ctx, plugin.ID, svc.Name, newStatus)
	o.publish(types.Event{
		Type:    event,
		UserID:  userID,
		Slug:    plugin.Slug,
		Service: svc.Name,
		Data:    map[string]interface{}{"operation": op},
	})

	switch op {
	case OpStop:
		return "stopped"
	case OpRestart:
		return "restarted"
	default:
		return "started"
	}
}

func (o *Orchestrator) failed(userID string, plugin *types.Plugin, svc *types.ServiceRuntime, op, reason string) string {
	o.logger.Error("Service operation failed",
		zap.String("plugin", plugin.Slug),
		zap.String("service", svc.Name),
		zap.String("operation", op),
		zap.String("reason", reason))
	o.publish(types.Event{
		Type:    types.EventServiceFailed,
		UserID:  userID,
		Slug:    plugin.Slug,
		Service: svc.Name,
		Data:    map[string]interface{}{"operation": op, "reason": reason},
	})
	return "failed: " + reason
}

func (o *Orchestrator) markStatus(ctx context.Context, pluginID, name string, status types.ServiceStatus) {
	if err := o.db.UpdateServiceRuntimeStatus(ctx, pluginID, name, status); err != nil {
		o.logger.Warn("Failed to update service status",
			zap.String("service", name),
			zap.Error(err))
	}
}

func (o *Orchestrator) publish(ev types.Event) {
	if o.events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	o.events.Publish(ev)
}

func (o *Orchestrator) recordOp(backend types.ServiceType, op string, ok bool, started time.Time) {
	if o.metrics == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failure"
	}
	o.metrics.RecordServiceOp(string(backend), op, status, time.Since(started))
}
