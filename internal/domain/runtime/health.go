package runtime

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/monitoring"
)

// HealthProber answers whether a service's healthcheck endpoint is up.
// Any 2xx response within the timeout counts as healthy.
type HealthProber struct {
	client  *resty.Client
	metrics *monitoring.Metrics
}

func NewHealthProber(timeout time.Duration, metrics *monitoring.Metrics) *HealthProber {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthProber{
		client:  resty.New().SetTimeout(timeout),
		metrics: metrics,
	}
}

func (p *HealthProber) Healthy(ctx context.Context, url string) bool {
	if url == "" {
		return false
	}
	resp, err := p.client.R().SetContext(ctx).Get(url)
	healthy := err == nil && resp.StatusCode() >= 200 && resp.StatusCode() < 300
	if p.metrics != nil {
		if healthy {
			p.metrics.RecordHealthCheck("healthy")
		} else {
			p.metrics.RecordHealthCheck("unhealthy")
		}
	}
	return healthy
}
