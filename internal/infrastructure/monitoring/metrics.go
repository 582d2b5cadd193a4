package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Install pipeline metrics
	InstallsTotal   *prometheus.CounterVec
	InstallDuration *prometheus.HistogramVec
	UninstallsTotal *prometheus.CounterVec
	UpdatesTotal    *prometheus.CounterVec

	// Acquisition metrics
	DownloadsTotal  *prometheus.CounterVec
	DownloadRetries prometheus.Counter
	ExtractedBytes  prometheus.Counter

	// Validation metrics
	ValidationsTotal *prometheus.CounterVec

	// Service runtime metrics
	ServiceOps        *prometheus.CounterVec
	ServiceOpDuration *prometheus.HistogramVec
	HealthChecks      *prometheus.CounterVec
	ProcessesRunning  prometheus.Gauge

	// Registry metrics
	PluginsInstalled prometheus.Gauge
	UpdateChecks     prometheus.Counter
	UpdatesAvailable prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests    int64
	TotalErrors      int64
	InstalledPlugins int64
	RunningProcesses int64
	TotalDuration    float64 // sum of all request durations
	RequestCount     int64   // count for averaging
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_engine_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plugin_engine_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plugin_engine_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plugin_engine_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Install pipeline metrics
		InstallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_engine_installs_total",
				Help: "Total number of plugin installs",
			},
			[]string{"source", "status"},
		),
		InstallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plugin_engine_install_duration_seconds",
				Help:    "Plugin install duration in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"source"},
		),
		UninstallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_engine_uninstalls_total",
				Help: "Total number of plugin uninstalls",
			},
			[]string{"status"},
		),
		UpdatesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_engine_updates_total",
				Help: "Total number of plugin updates",
			},
			[]string{"status"},
		),

		// Acquisition metrics
		DownloadsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_engine_downloads_total",
				Help: "Total number of archive downloads",
			},
			[]string{"status"},
		),
		DownloadRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "plugin_engine_download_retries_total",
				Help: "Total number of download retry attempts",
			},
		),
		ExtractedBytes: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "plugin_engine_extracted_bytes_total",
				Help: "Total bytes written during archive extraction",
			},
		),

		// Validation metrics
		ValidationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_engine_validations_total",
				Help: "Total number of plugin validations",
			},
			[]string{"mode", "status"},
		),

		// Service runtime metrics
		ServiceOps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_engine_service_operations_total",
				Help: "Total number of service runtime operations",
			},
			[]string{"backend", "operation", "status"},
		),
		ServiceOpDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plugin_engine_service_operation_duration_seconds",
				Help:    "Service runtime operation duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"backend", "operation"},
		),
		HealthChecks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_engine_health_checks_total",
				Help: "Total number of service health probes",
			},
			[]string{"status"},
		),
		ProcessesRunning: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "plugin_engine_processes_running",
				Help: "Number of tracked detached service processes",
			},
		),

		// Registry metrics
		PluginsInstalled: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "plugin_engine_plugins_installed",
				Help: "Number of installed plugin rows",
			},
		),
		UpdateChecks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "plugin_engine_update_checks_total",
				Help: "Total number of release update checks",
			},
		),
		UpdatesAvailable: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "plugin_engine_updates_available",
				Help: "Number of plugins with a newer release available",
			},
		),

		// WebSocket metrics
		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "plugin_engine_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_engine_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		// System metrics
		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "plugin_engine_uptime_seconds",
				Help: "Engine uptime in seconds",
			},
		),
	}

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	// Update snapshot
	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordInstall records a completed install attempt
func (m *Metrics) RecordInstall(source, status string, duration time.Duration) {
	m.InstallsTotal.WithLabelValues(source, status).Inc()
	m.InstallDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordUninstall records an uninstall attempt
func (m *Metrics) RecordUninstall(status string) {
	m.UninstallsTotal.WithLabelValues(status).Inc()
}

// RecordUpdate records an update attempt
func (m *Metrics) RecordUpdate(status string) {
	m.UpdatesTotal.WithLabelValues(status).Inc()
}

// RecordDownload records a completed download attempt
func (m *Metrics) RecordDownload(status string) {
	m.DownloadsTotal.WithLabelValues(status).Inc()
}

// RecordValidation records a validation outcome
func (m *Metrics) RecordValidation(mode, status string) {
	m.ValidationsTotal.WithLabelValues(mode, status).Inc()
}

// RecordServiceOp records a service runtime operation
func (m *Metrics) RecordServiceOp(backend, operation, status string, duration time.Duration) {
	m.ServiceOps.WithLabelValues(backend, operation, status).Inc()
	m.ServiceOpDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordHealthCheck records a health probe outcome
func (m *Metrics) RecordHealthCheck(status string) {
	m.HealthChecks.WithLabelValues(status).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// SetPluginsInstalled sets the installed plugin row gauge
func (m *Metrics) SetPluginsInstalled(count int) {
	m.PluginsInstalled.Set(float64(count))
	m.mu.Lock()
	m.snapshot.InstalledPlugins = int64(count)
	m.mu.Unlock()
}

// SetProcessesRunning sets the tracked process gauge
func (m *Metrics) SetProcessesRunning(count int) {
	m.ProcessesRunning.Set(float64(count))
	m.mu.Lock()
	m.snapshot.RunningProcesses = int64(count)
	m.mu.Unlock()
}

// IncUpdateChecks increments the update check counter
func (m *Metrics) IncUpdateChecks() {
	m.UpdateChecks.Inc()
}

// SetUpdatesAvailable sets the available updates gauge
func (m *Metrics) SetUpdatesAvailable(count int) {
	m.UpdatesAvailable.Set(float64(count))
}

// IncDownloadRetries increments the download retry counter
func (m *Metrics) IncDownloadRetries() {
	m.DownloadRetries.Inc()
}

// AddExtractedBytes adds to the extraction byte counter
func (m *Metrics) AddExtractedBytes(n int64) {
	m.ExtractedBytes.Add(float64(n))
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}
