package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"account-gateway/internal/middleware"
	"account-gateway/internal/model"
	"account-gateway/internal/service"
	"account-gateway/internal/token"
)

// Backend paths the gateway routes to.
const (
	userStoreRegisterPath = "/api/auth/register"
	userStoreLoginPath    = "/api/auth/login"
	userStoreMePath       = "/api/auth/me/%d"
	userStoreUsersPath    = "/api/auth/users/internal"
	activityPath          = "/api/activity"
	activityRecentPath    = "/api/activity/%d"
)

// GatewayHandler maps the public /api routes onto backend calls.
type GatewayHandler struct {
	gateway *service.Gateway
	logger  *slog.Logger
}

// NewGatewayHandler creates a GatewayHandler.
func NewGatewayHandler(g *service.Gateway, logger *slog.Logger) *GatewayHandler {
	return &GatewayHandler{
		gateway: g,
		logger:  logger.With("component", "gateway_handler"),
	}
}

// Register creates an account in the user store and records the signup.
func (h *GatewayHandler) Register(c echo.Context) error {
	caller := service.Caller{
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
	out, err := h.gateway.ProxyRegister(proxyRequest(c, userStoreRegisterPath), caller)
	if err != nil {
		return h.mapError(c, err)
	}
	return writeOutcome(c, out)
}

// Login authenticates against the user store and issues a session token.
func (h *GatewayHandler) Login(c echo.Context) error {
	out, err := h.gateway.ProxyLogin(proxyRequest(c, userStoreLoginPath))
	if err != nil {
		return h.mapError(c, err)
	}
	return writeOutcome(c, out)
}

// Me returns the caller's own profile.
func (h *GatewayHandler) Me(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return errorJSON(c, http.StatusUnauthorized, "bearer token required")
	}
	id, ok := p.UserID()
	if !ok {
		return errorJSON(c, http.StatusUnauthorized, "token carries no numeric user id")
	}
	return h.refresh(c, model.UserStore, fmt.Sprintf(userStoreMePath, id))
}

// Users lists every account. Admin only.
func (h *GatewayHandler) Users(c echo.Context) error {
	return h.refresh(c, model.UserStore, userStoreUsersPath)
}

// CreateActivity stores an activity event for the caller.
func (h *GatewayHandler) CreateActivity(c echo.Context) error {
	return h.refresh(c, model.ActivityStore, activityPath)
}

// RecentActivity returns the latest count activity events.
func (h *GatewayHandler) RecentActivity(c echo.Context) error {
	count, err := strconv.Atoi(c.Param("count"))
	if err != nil {
		return errorJSON(c, http.StatusNotFound, "not found")
	}
	return h.refresh(c, model.ActivityStore, fmt.Sprintf(activityRecentPath, count))
}

func (h *GatewayHandler) refresh(c echo.Context, target model.BackendTarget, path string) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return errorJSON(c, http.StatusUnauthorized, "bearer token required")
	}
	out, err := h.gateway.ProxyWithRefresh(proxyRequest(c, path), target, p)
	if err != nil {
		return h.mapError(c, err)
	}
	return writeOutcome(c, out)
}

// proxyRequest captures the inbound request for forwarding to path.
func proxyRequest(c echo.Context, path string) *model.ProxyRequest {
	req := c.Request()
	return &model.ProxyRequest{
		Ctx:              req.Context(),
		Method:           req.Method,
		Path:             path,
		RawQuery:         req.URL.RawQuery,
		Header:           req.Header,
		Body:             req.Body,
		ContentLength:    req.ContentLength,
		TransferEncoding: req.TransferEncoding,
	}
}

func writeOutcome(c echo.Context, out *service.Outcome) error {
	switch out.Kind {
	case service.Refreshed:
		return writeEnvelope(c, out.StatusCode, service.RefreshEnvelope{Token: out.Token, Data: out.Payload})
	case service.LoginIssued:
		return writeEnvelope(c, out.StatusCode, service.LoginEnvelope{Token: out.Token, User: out.Payload})
	}

	res := c.Response()
	if len(out.Body) == 0 {
		res.WriteHeader(out.StatusCode)
		return nil
	}
	contentType := out.ContentType
	if contentType == "" {
		contentType = echo.MIMEApplicationJSON
	}
	res.Header().Set(echo.HeaderContentType, contentType)
	res.WriteHeader(out.StatusCode)
	_, err := res.Write(out.Body)
	return err
}

// writeEnvelope encodes v without HTML escaping so backend JSON embedded in
// it keeps its characters.
func writeEnvelope(c echo.Context, status int, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return c.Blob(status, echo.MIMEApplicationJSON, buf.Bytes())
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

func (h *GatewayHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("gateway error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, token.ErrMissingIdentityClaims) {
		return errorJSON(c, http.StatusUnauthorized, "token is missing required identity claims")
	}

	if errors.Is(err, token.ErrIncompleteUserPayload) {
		return errorJSON(c, http.StatusBadGateway, "user store returned an incomplete user")
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errorJSON(c, http.StatusGatewayTimeout, "backend request timed out")
	}

	if errors.Is(err, context.Canceled) {
		return errorJSON(c, http.StatusBadGateway, "client disconnected")
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return errorJSON(c, http.StatusBadGateway, "backend host unreachable")
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return errorJSON(c, http.StatusBadGateway, "backend connection failed")
	}

	return errorJSON(c, http.StatusBadGateway, "backend request failed")
}
