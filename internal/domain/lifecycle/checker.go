package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/BrainDriveAI/plugin-engine/internal/domain/acquire"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/monitoring"
	"github.com/BrainDriveAI/plugin-engine/internal/persistence"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
)

// UpdateChecker periodically compares installed plugins against their
// latest releases and publishes update.available events. It never
// installs anything on its own; users decide when to update.
type UpdateChecker struct {
	db       persistence.Store
	acquirer *acquire.Acquirer
	events   Publisher
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	schedule string
	runner   *cron.Cron
}

// NewUpdateChecker creates a checker on the given cron schedule.
func NewUpdateChecker(db persistence.Store, acquirer *acquire.Acquirer, events Publisher, schedule string, logger *logging.Logger, metrics *monitoring.Metrics) *UpdateChecker {
	return &UpdateChecker{
		db:       db,
		acquirer: acquirer,
		events:   events,
		logger:   logger,
		metrics:  metrics,
		schedule: schedule,
	}
}

// Start validates the schedule and launches the cron runner.
func (c *UpdateChecker) Start() error {
	runner := cron.New()
	_, err := runner.AddFunc(c.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		c.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid update check schedule %q: %w", c.schedule, err)
	}
	runner.Start()
	c.runner = runner
	c.logger.Info("Update checker started", zap.String("schedule", c.schedule))
	return nil
}

// Stop halts the cron runner and waits for an in-flight check.
func (c *UpdateChecker) Stop() {
	if c.runner != nil {
		<-c.runner.Stop().Done()
	}
}

// RunOnce checks every release-installed plugin once. Release lookups
// are deduplicated per repository, so N users sharing a plugin cost
// one API call.
func (c *UpdateChecker) RunOnce(ctx context.Context) {
	if c.metrics != nil {
		c.metrics.IncUpdateChecks()
	}

	plugins, err := c.db.ListAllPlugins(ctx)
	if err != nil {
		c.logger.Error("Update check failed to list plugins", zap.Error(err))
		return
	}

	// Empty string marks a repo whose lookup already failed this run
	latestByRepo := make(map[string]string)
	available := 0

	for _, p := range plugins {
		if p.SourceType != types.SourceGitHub {
			continue
		}
		repoURL := updateSourceURL(p)
		if repoURL == "" {
			continue
		}

		latest, seen := latestByRepo[repoURL]
		if !seen {
			var lookupErr error
			latest, lookupErr = c.acquirer.LatestVersion(ctx, repoURL)
			if lookupErr != nil {
				c.logger.Warn("Update check lookup failed",
					zap.String("slug", p.Slug),
					zap.Error(lookupErr))
				latest = ""
			}
			latestByRepo[repoURL] = latest
		}
		if latest == "" {
			continue
		}

		newer, cmpErr := newerVersion(p.Version, latest)
		if cmpErr != nil {
			c.logger.Warn("Update check version compare failed",
				zap.String("slug", p.Slug),
				zap.String("current", p.Version),
				zap.String("latest", latest),
				zap.Error(cmpErr))
			continue
		}
		if !newer {
			continue
		}

		available++
		c.publish(types.Event{
			Type:   types.EventUpdateAvailable,
			UserID: p.UserID,
			Slug:   p.Slug,
			Data: map[string]interface{}{
				"current_version": p.Version,
				"latest_version":  latest,
			},
		})
	}

	if c.metrics != nil {
		c.metrics.SetUpdatesAvailable(available)
	}
	c.logger.Info("Update check complete",
		zap.Int("plugins", len(plugins)),
		zap.Int("updates_available", available))
}

func (c *UpdateChecker) publish(ev types.Event) {
	if c.events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	c.events.Publish(ev)
}
