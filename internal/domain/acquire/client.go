package acquire

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/config"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/monitoring"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/resilience"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client wraps resty with rate limiting and a circuit breaker for the
// GitHub releases API. Retries use exponential backoff with jitter.
type Client struct {
	resty    *resty.Client
	limiter  *rate.Limiter
	breaker  *resilience.Breaker
	apiBase  string
	maxBytes int64
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	mu       sync.RWMutex
}

// NewClient creates a production-ready GitHub client. The token is
// attached when configured; unauthenticated requests share GitHub's
// low anonymous quota, so the per-second limiter defaults low.
func NewClient(cfg config.GitHubConfig, logger *logging.Logger, metrics *monitoring.Metrics) *Client {
	// Create underlying retryable transport
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.Logger = nil // Disable logging

	restyClient := resty.New()
	restyClient.
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryWaitMin).
		SetRetryMaxWaitTime(cfg.RetryWaitMax).
		SetHeader("User-Agent", "BrainDrive-PluginEngine/1.0").
		SetHeader("Accept", "application/vnd.github+json")

	restyClient.SetTransport(retryClient.HTTPClient.Transport)

	if cfg.Token != "" {
		restyClient.SetAuthToken(cfg.Token)
	}

	if metrics != nil {
		restyClient.AddRetryHook(func(_ *resty.Response, _ error) {
			metrics.IncDownloadRetries()
		})
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1)
	}

	breaker := resilience.New("github-api", resilience.Settings{
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			// Lenient: GitHub hiccups should not lock installs out
			return counts.ConsecutiveFailures >= 10 ||
				(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		resty:    restyClient,
		limiter:  limiter,
		breaker:  breaker,
		apiBase:  strings.TrimSuffix(cfg.APIBase, "/"),
		maxBytes: cfg.MaxDownloadBytes,
		logger:   logger,
		metrics:  metrics,
	}
}

// request creates a request after breaker and limiter checks
func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	if c.breaker.State() == resilience.StateOpen {
		return nil, resilience.ErrCircuitOpen
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resty.R().SetContext(ctx), nil
}

// execute runs an HTTP call through the circuit breaker
func (c *Client) execute(fn func() (*resty.Response, error)) (*resty.Response, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return fn()
	})

	if err == resilience.ErrCircuitOpen {
		return nil, fmt.Errorf("github unavailable: circuit breaker open")
	}
	if err != nil {
		return nil, err
	}
	return result.(*resty.Response), nil
}

// LatestRelease fetches the most recent release for a repository
func (c *Client) LatestRelease(ctx context.Context, ref ReleaseRef) (*Release, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.apiBase, ref.Owner, ref.Repo)
	return c.getRelease(ctx, ref, endpoint)
}

// ReleaseByTag fetches a specific tagged release
func (c *Client) ReleaseByTag(ctx context.Context, ref ReleaseRef, tag string) (*Release, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s", c.apiBase, ref.Owner, ref.Repo, tag)
	return c.getRelease(ctx, ref, endpoint)
}

func (c *Client) getRelease(ctx context.Context, ref ReleaseRef, endpoint string) (*Release, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, types.Fail(types.StepReleaseLookup, "github api unavailable", err).
			WithSuggestions("retry shortly")
	}

	resp, err := c.execute(func() (*resty.Response, error) { return req.Get(endpoint) })
	if err != nil {
		return nil, types.Fail(types.StepReleaseLookup,
			fmt.Sprintf("release lookup for %s failed", ref), err).
			WithSuggestions("check network connectivity", "retry shortly")
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		// fall through to decode
	case http.StatusNotFound:
		// Terminal: the repository exists without releases, or the tag is wrong
		return nil, types.Fail(types.StepReleaseLookup,
			fmt.Sprintf("repository %s has no matching release", ref), types.ErrNoRelease).
			WithSuggestions(
				"publish a GitHub release with a downloadable archive",
				"check the repository URL and release tag",
			)
	case http.StatusForbidden, http.StatusTooManyRequests:
		oe := types.Fail(types.StepReleaseLookup,
			"github api rate limit exceeded", types.ErrRateLimited).
			WithSuggestions("wait before retrying", "configure GITHUB_TOKEN to raise the limit")
		if reset := resp.Header().Get("X-RateLimit-Reset"); reset != "" {
			oe = oe.WithDetail("rate_limit_reset", reset)
		}
		if retry := resp.Header().Get("Retry-After"); retry != "" {
			oe = oe.WithDetail("retry_after_seconds", retry)
		}
		return nil, oe
	default:
		return nil, types.Fail(types.StepReleaseLookup,
			fmt.Sprintf("release lookup for %s returned HTTP %d", ref, resp.StatusCode()), nil)
	}

	var rel Release
	if err := sonic.Unmarshal(resp.Body(), &rel); err != nil {
		return nil, types.Fail(types.StepReleaseLookup, "malformed release payload", err)
	}

	c.logger.Debug("Resolved release",
		zap.String("repo", ref.String()),
		zap.String("tag", rel.TagName),
		zap.Int("assets", len(rel.Assets)))

	return &rel, nil
}
