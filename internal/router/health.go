package router

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultHealthListen = "127.0.0.1:8088"
	defaultHealthPath   = "/health"
)

// HealthEndpoint derives the health check URL from a router config
// document. Unspecified or wildcard hosts are checked on loopback.
func HealthEndpoint(doc string) (string, error) {
	var cfg struct {
		HealthCheck struct {
			Listen string `yaml:"listen"`
			Path   string `yaml:"path"`
		} `yaml:"health_check"`
	}
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		return "", fmt.Errorf("parse health_check: %w", err)
	}

	listen := cfg.HealthCheck.Listen
	if listen == "" {
		listen = defaultHealthListen
	}
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", fmt.Errorf("parse health_check.listen %q: %w", listen, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	path := cfg.HealthCheck.Path
	if path == "" {
		path = defaultHealthPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "http://" + net.JoinHostPort(host, port) + path, nil
}

// HealthChecker polls a router health endpoint.
type HealthChecker struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	client   *http.Client
}

// NewHealthChecker creates a checker for url.
func NewHealthChecker(url string, interval, timeout time.Duration) *HealthChecker {
	if interval <= 0 {
		interval = time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HealthChecker{
		URL:      url,
		Interval: interval,
		Timeout:  timeout,
		client:   &http.Client{Timeout: interval},
	}
}

// Check performs one health request.
func (h *HealthChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// WaitHealthy polls until the router responds or Timeout elapses.
func (h *HealthChecker) WaitHealthy(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, h.Timeout)
	defer cancel()

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = h.Check(ctx); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			if parent.Err() != nil {
				return parent.Err()
			}
			return fmt.Errorf("%w: %s not healthy after %s: %v", ErrHealthCheckFailed, h.URL, h.Timeout, lastErr)
		case <-ticker.C:
		}
	}
}
