package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"account-gateway/internal/config"
	"account-gateway/internal/token"
)

func testJWTConfig() *config.Config {
	return &config.Config{JWT: config.JWTConfig{
		Issuer:            "account-gateway",
		Audience:          "account-client",
		SecretKey:         "0123456789abcdef0123456789abcdef",
		ExpirationMinutes: 5,
	}}
}

func mintToken(t *testing.T, cfg *config.Config, roles ...string) string {
	t.Helper()
	tok, err := token.NewSigner(cfg).Sign(token.ClaimSet{
		UserID:    "42",
		Email:     "ada@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Roles:     roles,
	})
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return tok
}

func newAuthEcho(cfg *config.Config) *echo.Echo {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := token.NewVerifier(cfg)

	e := echo.New()
	e.GET("/api/me", func(c echo.Context) error {
		p, ok := PrincipalFrom(c)
		if !ok {
			return c.NoContent(http.StatusInternalServerError)
		}
		id, _ := p.UserID()
		return c.JSON(http.StatusOK, map[string]int{"userId": id})
	}, Authenticate(v, logger))
	e.GET("/api/users", func(c echo.Context) error {
		return c.String(http.StatusOK, "users")
	}, Authenticate(v, logger), RequireRole("Admin"))
	return e
}

func TestAuthenticate(t *testing.T) {
	cfg := testJWTConfig()
	other := testJWTConfig()
	other.JWT.SecretKey = "ffffffffffffffffffffffffffffffff"
	wrongAudience := testJWTConfig()
	wrongAudience.JWT.Audience = "someone-else"

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid token", "Bearer " + mintToken(t, cfg), http.StatusOK},
		{"lowercase scheme", "bearer " + mintToken(t, cfg), http.StatusOK},
		{"no header", "", http.StatusUnauthorized},
		{"basic scheme", "Basic YWRhOnB3", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"garbage token", "Bearer not.a.jwt", http.StatusUnauthorized},
		{"foreign key", "Bearer " + mintToken(t, other), http.StatusUnauthorized},
		{"wrong audience", "Bearer " + mintToken(t, wrongAudience), http.StatusUnauthorized},
	}

	e := newAuthEcho(cfg)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", http.NoBody)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				if got := rec.Header().Get(echo.HeaderWWWAuthenticate); got != "Bearer" {
					t.Errorf("WWW-Authenticate = %q, want %q", got, "Bearer")
				}
				var body map[string]string
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
					t.Errorf("body = %q, want a JSON error", rec.Body.String())
				}
			}
		})
	}
}

func TestAuthenticate_StoresPrincipal(t *testing.T) {
	cfg := testJWTConfig()
	e := newAuthEcho(cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/me", http.NoBody)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+mintToken(t, cfg))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Body.String(); got != "{\"userId\":42}\n" {
		t.Errorf("body = %q, want userId 42", got)
	}
}

func TestRequireRole(t *testing.T) {
	cfg := testJWTConfig()
	e := newAuthEcho(cfg)

	tests := []struct {
		name       string
		roles      []string
		wantStatus int
	}{
		{"admin", []string{"User", "Admin"}, http.StatusOK},
		{"plain user", []string{"User"}, http.StatusForbidden},
		{"no roles", nil, http.StatusForbidden},
		{"case differs", []string{"admin"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/users", http.NoBody)
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+mintToken(t, cfg, tt.roles...))
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRequireRole_WithoutAuthenticate(t *testing.T) {
	e := echo.New()
	e.GET("/api/users", func(c echo.Context) error {
		return c.String(http.StatusOK, "users")
	}, RequireRole("Admin"))

	req := httptest.NewRequest(http.MethodGet, "/api/users", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
