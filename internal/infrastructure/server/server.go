package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BrainDriveAI/plugin-engine/internal/api/http"
	"github.com/BrainDriveAI/plugin-engine/internal/api/middleware"
	"github.com/BrainDriveAI/plugin-engine/internal/api/ws"
	"github.com/BrainDriveAI/plugin-engine/internal/domain/acquire"
	"github.com/BrainDriveAI/plugin-engine/internal/domain/lifecycle"
	"github.com/BrainDriveAI/plugin-engine/internal/domain/runtime"
	"github.com/BrainDriveAI/plugin-engine/internal/domain/storage"
	"github.com/BrainDriveAI/plugin-engine/internal/domain/validate"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/config"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/monitoring"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/tracing"
	"github.com/BrainDriveAI/plugin-engine/internal/persistence/memory"
	"github.com/BrainDriveAI/plugin-engine/internal/security/fieldcrypt"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router       *gin.Engine
	hub          *ws.Hub
	orchestrator *runtime.Orchestrator
	checker      *lifecycle.UpdateChecker
	tracer       *tracing.Tracer
	logger       *logging.Logger
	config       *config.Config
	metrics      *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	// Initialize logger
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("Initializing plugin engine",
		zap.String("port", cfg.Server.Port),
		zap.String("plugins_dir", cfg.Storage.PluginsBaseDir),
		zap.String("services_dir", cfg.Storage.ServicesDir),
	)

	// Initialize metrics first (needed by most components)
	metrics := monitoring.NewMetrics()

	// Initialize request tracing
	tracer := tracing.New("plugin-engine", logger.Logger)

	// Shared plugin storage
	files := storage.NewStore(cfg.Storage, logger)
	if err := files.EnsureBase(); err != nil {
		return nil, fmt.Errorf("prepare plugin storage: %w", err)
	}

	uploads := uploadDir(cfg)
	if err := os.MkdirAll(uploads, 0o755); err != nil {
		return nil, fmt.Errorf("prepare upload spool: %w", err)
	}

	// Plugin rows live in the embedded store; a host application
	// supplies its own persistence.Store instead.
	db := memory.New()
	cipher := fieldcrypt.New(cfg.Security.SettingsKey)
	if cfg.Security.SettingsKey == "" {
		logger.Warn("No settings key configured, encrypted settings values will not resolve")
	}

	// Acquisition pipeline
	client := acquire.NewClient(cfg.GitHub, logger, metrics)
	extractor := acquire.NewExtractor(logger, metrics)
	acquirer := acquire.NewAcquirer(client, extractor, cfg.Storage.ScratchDir, logger, metrics)

	// Validation and lifecycle
	inspector := validate.NewInspector(logger, metrics)
	hooks := lifecycle.NewHookRunner(cfg.Runtime.HookTimeout, logger)
	registry := lifecycle.NewRegistry(lifecycle.NewDiscoverer(files, logger), inspector, hooks, logger)

	// Event stream hub
	hub := ws.NewHub(logger, metrics)
	go hub.Run()

	// Service runtime
	env := runtime.NewEnvResolver(db, cipher, cfg.Runtime.RootEnvFile, logger)
	checkouts := runtime.NewCheckoutManager(cfg.Storage.ServicesDir, acquirer, logger)
	procs := runtime.NewProcessTable(cfg.Runtime.StopGracePeriod, logger, metrics)
	prober := runtime.NewHealthProber(cfg.Runtime.HealthTimeout, metrics)
	orchestrator := runtime.NewOrchestrator(runtime.OrchestratorDeps{
		DB:        db,
		Env:       env,
		Checkouts: checkouts,
		Layout:    files.Layout(),
		Procs:     procs,
		Prober:    prober,
		Events:    hub,
		Config:    cfg.Runtime,
		Logger:    logger,
		Metrics:   metrics,
	})

	dispatcher := lifecycle.NewDispatcher(lifecycle.Deps{
		DB:        db,
		Files:     files,
		Acquirer:  acquirer,
		Inspector: inspector,
		Registry:  registry,
		Hooks:     hooks,
		Services:  orchestrator,
		Events:    hub,
		Logger:    logger,
		Metrics:   metrics,
	})

	var checker *lifecycle.UpdateChecker
	if cfg.Updates.Enabled {
		checker = lifecycle.NewUpdateChecker(db, acquirer, hub, cfg.Updates.Schedule, logger, metrics)
		if err := checker.Start(); err != nil {
			hub.Stop()
			return nil, fmt.Errorf("start update checker: %w", err)
		}
		logger.Info("Update checker scheduled", zap.String("schedule", cfg.Updates.Schedule))
	}

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	// Create handlers
	handlers := http.NewHandlers(dispatcher, orchestrator, db, files, metrics, uploads, logger)

	// Register routes
	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/stream", hub.HandleConnection)
	handlers.Register(router.Group("/api/v1"))

	logger.Info("Server initialized successfully")

	return &Server{
		router:       router,
		hub:          hub,
		orchestrator: orchestrator,
		checker:      checker,
		tracer:       tracer,
		logger:       logger,
		config:       cfg,
		metrics:      metrics,
	}, nil
}

// Run starts the HTTP server
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close gracefully shuts down the engine's background workers: the
// update cron first, then the event hub, then tracked service
// processes per the KillOnShutdown policy.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	if s.checker != nil {
		s.checker.Stop()
		s.logger.Info("Stopped update checker")
	}

	s.hub.Stop()
	s.orchestrator.Shutdown()
	s.tracer.Close()

	// Sync logger before exit
	s.logger.Sync()

	return nil
}

func uploadDir(cfg *config.Config) string {
	if cfg.Storage.ScratchDir != "" {
		return filepath.Join(cfg.Storage.ScratchDir, "uploads")
	}
	return filepath.Join(os.TempDir(), "plugin-engine", "uploads")
}
