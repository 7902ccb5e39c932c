// Package client provides the pooled HTTP client used to reach backend services.
package client

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"account-gateway/internal/config"
	"account-gateway/internal/metrics"
	"account-gateway/internal/model"
)

// BackendClient sends requests to the user store and activity store.
// It is shared by all requests and safe for concurrent use.
type BackendClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewBackendClient creates a BackendClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable backend metrics recording.
func NewBackendClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *BackendClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &BackendClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "backend_client"),
		metrics: m,
	}
}

// Do executes req against target and reads the response body to completion.
// The request context controls the lifetime of the call: when the inbound
// client disconnects, the backend request is canceled as well.
func (c *BackendClient) Do(target model.BackendTarget, req *http.Request) (*model.BackendResponse, error) {
	c.logger.Debug("backend request",
		"backend", string(target),
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		c.observe(target, method, start)
		return nil, fmt.Errorf("backend request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	c.observe(target, method, start)
	if err != nil {
		return nil, fmt.Errorf("read backend response: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(string(target), method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.BackendResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func (c *BackendClient) observe(target model.BackendTarget, method string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(string(target), method).Observe(time.Since(start).Seconds())
}
