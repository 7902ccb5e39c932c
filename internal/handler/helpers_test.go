package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"account-gateway/internal/client"
	"account-gateway/internal/config"
	"account-gateway/internal/metrics"
	"account-gateway/internal/service"
	"account-gateway/internal/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// backendCall is one request seen by a stub backend.
type backendCall struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   string
}

type stubBackend struct {
	*httptest.Server

	mu    sync.Mutex
	calls []backendCall
}

// newStubBackend starts a backend that answers every request with status,
// contentType and body. An empty contentType sends no Content-Type at all.
func newStubBackend(t *testing.T, status int, contentType, body string) *stubBackend {
	t.Helper()
	sb := &stubBackend{}
	sb.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		sb.mu.Lock()
		sb.calls = append(sb.calls, backendCall{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   string(b),
		})
		sb.mu.Unlock()

		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		} else {
			w.Header()["Content-Type"] = nil
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(sb.Close)
	return sb
}

func (sb *stubBackend) Calls() []backendCall {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return append([]backendCall(nil), sb.calls...)
}

func newTestConfig(userStoreURL, activityStoreURL string) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{TimeoutSeconds: 5, IdleConnections: 10},
		Backends: config.BackendsConfig{
			UserStore:     config.BackendConfig{BaseURL: userStoreURL},
			ActivityStore: config.BackendConfig{BaseURL: activityStoreURL},
		},
		InternalAPI: config.InternalAPIConfig{Header: "X-Internal-Api-Key", Key: "internal-key"},
		JWT: config.JWTConfig{
			Issuer:            "account-gateway",
			Audience:          "account-client",
			SecretKey:         testSecret,
			ExpirationMinutes: 60,
		},
	}
}

// newTestEcho builds the full route table over real services.
func newTestEcho(cfg *config.Config) *echo.Echo {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()

	bc := client.NewBackendClient(cfg, logger, m)
	f := service.NewForwarder(bc, cfg, logger)
	gw := service.NewGateway(f, token.NewSigner(cfg), service.NewActivityRecorder(f, logger, m), logger, m)

	e := echo.New()
	RegisterRoutes(e, NewGatewayHandler(gw, logger), NewHealthHandler(cfg, "test"), token.NewVerifier(cfg), logger)
	return e
}

func bearer(t *testing.T, cfg *config.Config, cs token.ClaimSet) string {
	t.Helper()
	tok, err := token.NewSigner(cfg).Sign(cs)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return "Bearer " + tok
}

func userClaims(roles ...string) token.ClaimSet {
	return token.ClaimSet{
		UserID:    "42",
		Email:     "ada@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Roles:     roles,
	}
}
