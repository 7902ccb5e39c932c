package service

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"account-gateway/internal/client"
	"account-gateway/internal/config"
	"account-gateway/internal/metrics"
	"account-gateway/internal/model"
	"account-gateway/internal/token"
)

const (
	testSecret  = "0123456789abcdef0123456789abcdef"
	testAPIKey  = "internal-key"
	trustHeader = "X-Internal-Api-Key"
)

// recorded captures what a fake backend received.
type recorded struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   string
}

// fakeBackend is an httptest server that records every request.
type fakeBackend struct {
	*httptest.Server

	mu       sync.Mutex
	requests []recorded
}

func newFakeBackend(t *testing.T, handler http.HandlerFunc) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	fb.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fb.mu.Lock()
		fb.requests = append(fb.requests, recorded{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   string(body),
		})
		fb.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(fb.Close)
	return fb
}

func (fb *fakeBackend) Requests() []recorded {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]recorded(nil), fb.requests...)
}

// reply returns a handler that writes a fixed status, content type and body.
func reply(status int, contentType, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func testConfig(userStoreURL, activityStoreURL, apiKey string) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{TimeoutSeconds: 5, IdleConnections: 10},
		Backends: config.BackendsConfig{
			UserStore:     config.BackendConfig{BaseURL: userStoreURL},
			ActivityStore: config.BackendConfig{BaseURL: activityStoreURL},
		},
		InternalAPI: config.InternalAPIConfig{Header: trustHeader, Key: apiKey},
		JWT: config.JWTConfig{
			Issuer:            "account-gateway",
			Audience:          "account-client",
			SecretKey:         testSecret,
			ExpirationMinutes: 10,
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestForwarder(cfg *config.Config) *Forwarder {
	logger := discardLogger()
	return NewForwarder(client.NewBackendClient(cfg, logger, nil), cfg, logger)
}

func newTestGateway(cfg *config.Config) (*Gateway, *metrics.Metrics) {
	logger := discardLogger()
	m := metrics.New()
	f := NewForwarder(client.NewBackendClient(cfg, logger, m), cfg, logger)
	return NewGateway(f, token.NewSigner(cfg), NewActivityRecorder(f, logger, m), logger, m), m
}

// proxyRequest builds a ProxyRequest the way the handler does.
func proxyRequest(method, path, body string, header http.Header) *model.ProxyRequest {
	if header == nil {
		header = http.Header{}
	}
	pr := &model.ProxyRequest{
		Ctx:    context.Background(),
		Method: method,
		Path:   path,
		Header: header,
	}
	if body != "" {
		pr.Body = strings.NewReader(body)
		pr.ContentLength = int64(len(body))
		if header.Get("Content-Type") == "" {
			header.Set("Content-Type", "application/json")
		}
	}
	return pr
}
