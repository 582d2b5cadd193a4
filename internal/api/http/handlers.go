package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/BrainDriveAI/plugin-engine/internal/domain/lifecycle"
	"github.com/BrainDriveAI/plugin-engine/internal/domain/runtime"
	"github.com/BrainDriveAI/plugin-engine/internal/domain/storage"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/monitoring"
	"github.com/BrainDriveAI/plugin-engine/internal/persistence"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/id"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/utils"
)

const serviceName = "BrainDrive Plugin Engine"
const serviceVersion = "0.4.0"

// ServiceRunner triggers and inspects per-plugin service lifecycles.
// *runtime.Orchestrator satisfies it.
type ServiceRunner interface {
	Trigger(op, userID string, plugin *types.Plugin, service string) id.OperationID
	States(ctx context.Context, userID string, plugin *types.Plugin) ([]types.ServiceState, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	dispatcher *lifecycle.Dispatcher
	runner     ServiceRunner
	db         persistence.Store
	files      *storage.Store
	metrics    *monitoring.Metrics
	uploadDir  string
	logger     *logging.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(
	dispatcher *lifecycle.Dispatcher,
	runner ServiceRunner,
	db persistence.Store,
	files *storage.Store,
	metrics *monitoring.Metrics,
	uploadDir string,
	logger *logging.Logger,
) *Handlers {
	return &Handlers{
		dispatcher: dispatcher,
		runner:     runner,
		db:         db,
		files:      files,
		metrics:    metrics,
		uploadDir:  uploadDir,
		logger:     logger,
	}
}

// Register mounts the plugin routes on an API group.
func (h *Handlers) Register(api gin.IRouter) {
	api.POST("/plugins/install", h.InstallPlugin)
	api.POST("/plugins/upload", h.UploadPlugin)
	api.GET("/plugins", h.ListPlugins)
	api.GET("/plugins/:slug", h.PluginStatus)
	api.DELETE("/plugins/:slug", h.UninstallPlugin)
	api.POST("/plugins/:slug/update", h.UpdatePlugin)
	api.GET("/plugins/:slug/updates", h.CheckPluginUpdate)
	api.POST("/plugins/:slug/services/start", h.StartServices)
	api.POST("/plugins/:slug/services/stop", h.StopServices)
	api.POST("/plugins/:slug/services/restart", h.RestartServices)
	api.GET("/plugins/:slug/services", h.ServiceStates)
	api.GET("/plugins/:slug/assets/*filepath", h.PluginAsset)
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": serviceName,
		"version": serviceVersion,
	})
}

// Health handles detailed health status
func (h *Handlers) Health(c *gin.Context) {
	var stats types.PluginStats
	if rows, err := h.db.ListAllPlugins(c.Request.Context()); err == nil {
		stats.TotalPlugins = len(rows)
		for _, p := range rows {
			switch p.Status {
			case types.PluginActivated:
				stats.Activated++
			case types.PluginError:
				stats.Errored++
			}
		}
	}

	body := gin.H{
		"status":  "healthy",
		"service": serviceName,
		"version": serviceVersion,
	}
	if h.metrics != nil {
		snap := h.metrics.GetSnapshot()
		stats.RunningServices = int(snap.RunningProcesses)
		body["requests"] = gin.H{
			"total":           snap.TotalRequests,
			"errors":          snap.TotalErrors,
			"avg_duration_ms": h.metrics.AverageRequestSeconds() * 1000,
		}
	}
	body["plugins"] = stats

	c.JSON(http.StatusOK, body)
}

// InstallPlugin installs a plugin from a declared source
func (h *Handlers) InstallPlugin(c *gin.Context) {
	var req types.InstallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := utils.ValidateID(req.UserID, "user_id", true); err != nil {
		invalid(c, err)
		return
	}

	ctx := c.Request.Context()
	switch req.Source.Type {
	case types.SourceGitHub:
		if err := utils.ValidateRepoURL(req.Source.URL); err != nil {
			invalid(c, err)
			return
		}
		respond(c, h.dispatcher.InstallFromGitHub(ctx, req.UserID, req.Source.URL, req.Source.Version))
	case types.SourceLocalFile:
		if req.Source.Path == "" {
			invalid(c, errors.New("source.path is required for local-file installs"))
			return
		}
		respond(c, h.dispatcher.InstallFromUpload(ctx, req.UserID, req.Source.Path))
	default:
		invalid(c, fmt.Errorf("unsupported source type %q", req.Source.Type))
	}
}

// UploadPlugin installs a plugin from a multipart archive upload
func (h *Handlers) UploadPlugin(c *gin.Context) {
	userID := c.PostForm("user_id")
	if err := utils.ValidateID(userID, "user_id", true); err != nil {
		invalid(c, err)
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		badRequest(c, errors.New("multipart field \"file\" is required"))
		return
	}
	if file.Size > utils.MaxUploadSize {
		invalid(c, fmt.Errorf("archive exceeds the %d byte upload limit", utils.MaxUploadSize))
		return
	}

	// The upload is spooled next to the scratch dirs and removed once
	// the install pipeline has staged or rejected it.
	dst := filepath.Join(h.uploadDir, string(id.NewRequestID())+"_"+filepath.Base(file.Filename))
	if err := c.SaveUploadedFile(file, dst); err != nil {
		h.logger.Error("Failed to spool upload", zap.Error(err))
		internalError(c, errors.New("failed to store uploaded archive"))
		return
	}
	defer os.Remove(dst)

	respond(c, h.dispatcher.InstallFromUpload(c.Request.Context(), userID, dst))
}

// ListPlugins lists a user's installed plugins
func (h *Handlers) ListPlugins(c *gin.Context) {
	userID := c.Query("user_id")
	if err := utils.ValidateID(userID, "user_id", true); err != nil {
		invalid(c, err)
		return
	}

	plugins, err := h.db.ListPlugins(c.Request.Context(), userID)
	if err != nil {
		internalError(c, err)
		return
	}
	respond(c, types.Ok("plugins listed", map[string]interface{}{
		"plugins": plugins,
		"count":   len(plugins),
	}))
}

// PluginStatus reports install state, staged files, and service health
func (h *Handlers) PluginStatus(c *gin.Context) {
	slug, userID, ok := h.slugAndUser(c)
	if !ok {
		return
	}
	respond(c, h.dispatcher.Status(c.Request.Context(), userID, slug))
}

// UninstallPlugin removes a user's plugin row and unreferenced files
func (h *Handlers) UninstallPlugin(c *gin.Context) {
	slug, userID, ok := h.slugAndUser(c)
	if !ok {
		return
	}
	respond(c, h.dispatcher.Uninstall(c.Request.Context(), userID, slug))
}

// UpdatePlugin updates a plugin to the latest release
func (h *Handlers) UpdatePlugin(c *gin.Context) {
	slug := c.Param("slug")
	if err := utils.ValidateSlug(slug, true); err != nil {
		invalid(c, err)
		return
	}

	var req types.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := utils.ValidateID(req.UserID, "user_id", true); err != nil {
		invalid(c, err)
		return
	}

	respond(c, h.dispatcher.Update(c.Request.Context(), req.UserID, slug))
}

// CheckPluginUpdate compares the installed version to the latest release
func (h *Handlers) CheckPluginUpdate(c *gin.Context) {
	slug, userID, ok := h.slugAndUser(c)
	if !ok {
		return
	}
	respond(c, h.dispatcher.CheckUpdate(c.Request.Context(), userID, slug))
}

// StartServices starts a plugin's services in the background
func (h *Handlers) StartServices(c *gin.Context) { h.serviceAction(c, runtime.OpStart) }

// StopServices stops a plugin's services in the background
func (h *Handlers) StopServices(c *gin.Context) { h.serviceAction(c, runtime.OpStop) }

// RestartServices restarts a plugin's services in the background
func (h *Handlers) RestartServices(c *gin.Context) { h.serviceAction(c, runtime.OpRestart) }

func (h *Handlers) serviceAction(c *gin.Context, op string) {
	slug := c.Param("slug")
	if err := utils.ValidateSlug(slug, true); err != nil {
		invalid(c, err)
		return
	}

	var req types.ServiceActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := utils.ValidateID(req.UserID, "user_id", true); err != nil {
		invalid(c, err)
		return
	}
	if req.Service != "" {
		if err := utils.ValidateServiceName(req.Service, false); err != nil {
			invalid(c, err)
			return
		}
	}

	plugin, err := h.db.GetPluginBySlug(c.Request.Context(), req.UserID, slug)
	if err != nil {
		notFound(c, fmt.Sprintf("plugin %s is not installed", slug))
		return
	}

	opID := h.runner.Trigger(op, req.UserID, plugin, req.Service)
	c.JSON(http.StatusAccepted, gin.H{
		"status":       "initiated",
		"operation_id": opID,
	})
}

// ServiceStates reports desired and observed state per service
func (h *Handlers) ServiceStates(c *gin.Context) {
	slug, userID, ok := h.slugAndUser(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	plugin, err := h.db.GetPluginBySlug(ctx, userID, slug)
	if err != nil {
		notFound(c, fmt.Sprintf("plugin %s is not installed", slug))
		return
	}

	states, err := h.runner.States(ctx, userID, plugin)
	if err != nil {
		internalError(c, err)
		return
	}
	respond(c, types.Ok("service states", map[string]interface{}{
		"services": states,
		"count":    len(states),
	}))
}

// PluginAsset serves a static file from a plugin's newest staged
// version through its v{major} alias.
func (h *Handlers) PluginAsset(c *gin.Context) {
	slug := c.Param("slug")
	if err := utils.ValidateSlug(slug, true); err != nil {
		invalid(c, err)
		return
	}
	rel := strings.TrimPrefix(c.Param("filepath"), "/")

	versions, err := h.files.ListVersions(slug)
	if err != nil || len(versions) == 0 {
		notFound(c, fmt.Sprintf("plugin %s has no staged versions", slug))
		return
	}

	full, err := h.files.AssetPath(slug, versions[0], rel)
	if err != nil {
		invalid(c, err)
		return
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		notFound(c, "asset not found")
		return
	}
	c.File(full)
}

// slugAndUser validates the slug path param and user_id query param
// shared by the GET and DELETE plugin routes.
func (h *Handlers) slugAndUser(c *gin.Context) (string, string, bool) {
	slug := c.Param("slug")
	if err := utils.ValidateSlug(slug, true); err != nil {
		invalid(c, err)
		return "", "", false
	}
	userID := c.Query("user_id")
	if err := utils.ValidateID(userID, "user_id", true); err != nil {
		invalid(c, err)
		return "", "", false
	}
	return slug, userID, true
}
