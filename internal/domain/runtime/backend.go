package runtime

import (
	"context"
	"fmt"

	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
)

// Instance is one declared service bound to a user and an installed
// plugin, with its environment already resolved. PluginDir is the
// installed version directory; backends for services without their own
// source checkout run commands relative to it.
type Instance struct {
	UserID    string
	Slug      string
	PluginDir string
	Svc       *types.ServiceRuntime
	Env       map[string]string
}

// Key identifies the instance in the process table and in logs.
func (i *Instance) Key() string {
	return svcKey(i.Slug, i.Svc.Name)
}

// Backend brings a service of one type to a requested state. Backends
// hold no per-service state; anything that outlives a call sits in the
// process table or on disk in the checkout.
type Backend interface {
	Start(ctx context.Context, inst *Instance) error
	Stop(ctx context.Context, inst *Instance) error
	Restart(ctx context.Context, inst *Instance) error
	Health(ctx context.Context, inst *Instance) error
}

// probeHealth adapts the boolean probe to the Backend.Health contract.
func probeHealth(ctx context.Context, prober *HealthProber, inst *Instance) error {
	url := inst.Svc.HealthcheckURL
	if url == "" {
		return fmt.Errorf("service %s declares no healthcheck url", inst.Svc.Name)
	}
	if !prober.Healthy(ctx, url) {
		return fmt.Errorf("service %s failed its healthcheck", inst.Svc.Name)
	}
	return nil
}
