// Package healthcheck probes HTTP health endpoints with a fixed-delay retry
// loop, the same shape as the updater sidecar's pre-flight and post-apply
// checks.
package healthcheck

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Config controls how a single endpoint is probed.
type Config struct {
	Retries        int
	DelaySeconds   int
	TimeoutSeconds int
}

// DefaultConfig matches the updater sidecar's defaults: three attempts, ten
// seconds apart, five second per-request timeout.
func DefaultConfig() Config {
	return Config{Retries: 3, DelaySeconds: 10, TimeoutSeconds: 5}
}

// Prober issues HTTP GETs against health endpoints.
type Prober struct {
	client *http.Client
	logger *slog.Logger
}

// New builds a Prober. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{client: &http.Client{}, logger: logger}
}

// CheckService retries url up to cfg.Retries times, sleeping cfg.DelaySeconds
// between attempts, and reports true the first time it sees HTTP 200. It does
// not sleep after the final attempt.
func (p *Prober) CheckService(ctx context.Context, url string, cfg Config) bool {
	if cfg.Retries <= 0 {
		cfg = DefaultConfig()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	for attempt := 1; attempt <= cfg.Retries; attempt++ {
		ok := p.probeOnce(ctx, url, timeout)
		if ok {
			return true
		}
		if attempt < cfg.Retries {
			p.logger.Debug("health check attempt failed, retrying",
				"url", url, "attempt", attempt, "retries", cfg.Retries)
			select {
			case <-ctx.Done():
				return false
			case <-time.After(time.Duration(cfg.DelaySeconds) * time.Second):
			}
		}
	}
	p.logger.Warn("health check exhausted retries", "url", url, "retries", cfg.Retries)
	return false
}

func (p *Prober) probeOnce(ctx context.Context, url string, timeout time.Duration) bool {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// CheckAllServices checks every url in order and short-circuits on the first
// failure, so a service late in the list is never probed once an earlier one
// is already known unhealthy.
func (p *Prober) CheckAllServices(ctx context.Context, urls []string, cfg Config) bool {
	for _, url := range urls {
		if !p.CheckService(ctx, url, cfg) {
			return false
		}
	}
	return true
}
