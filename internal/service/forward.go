// Package service implements the gateway's forwarding and response shaping.
package service

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"account-gateway/internal/client"
	"account-gateway/internal/config"
	"account-gateway/internal/model"
)

// droppedRequestHeaders are never copied to a backend. Host and
// Content-Length are recomputed by the transport; backends trust only the
// gateway's own credential, so the caller's Authorization is stripped.
var droppedRequestHeaders = map[string]bool{
	"Host":           true,
	"Content-Length": true,
	"Authorization":  true,
}

// contentHeaders describe a request body and are only forwarded when a body
// is attached.
var contentHeaders = map[string]bool{
	"Allow":               true,
	"Content-Disposition": true,
	"Content-Encoding":    true,
	"Content-Language":    true,
	"Content-Location":    true,
	"Content-Md5":         true,
	"Content-Range":       true,
	"Content-Type":        true,
	"Expires":             true,
	"Last-Modified":       true,
}

// Forwarder sends one request to a backend and captures the full response.
type Forwarder struct {
	client      *client.BackendClient
	logger      *slog.Logger
	baseURLs    map[model.BackendTarget]string
	trustHeader string
	trustKey    string
}

// NewForwarder creates a Forwarder from the backend and internal API config.
func NewForwarder(c *client.BackendClient, cfg *config.Config, logger *slog.Logger) *Forwarder {
	baseURLs := make(map[model.BackendTarget]string)
	for target, raw := range cfg.Backends.URLs() {
		if u := strings.TrimRight(strings.TrimSpace(raw), "/"); u != "" {
			baseURLs[target] = u
		}
	}

	header := cfg.InternalAPI.Header
	if header == "" {
		header = "X-Internal-Api-Key"
	}

	return &Forwarder{
		client:      c,
		logger:      logger.With("component", "forwarder"),
		baseURLs:    baseURLs,
		trustHeader: http.CanonicalHeaderKey(header),
		trustKey:    strings.TrimSpace(cfg.InternalAPI.Key),
	}
}

// Configured reports whether target has a base URL.
func (f *Forwarder) Configured(target model.BackendTarget) bool {
	_, ok := f.baseURLs[target]
	return ok
}

// Forward sends pr to target. An unconfigured target yields a synthetic 500
// without any network call. Transport failures are returned as errors.
func (f *Forwarder) Forward(pr *model.ProxyRequest, target model.BackendTarget) (*model.BackendResponse, error) {
	base, ok := f.baseURLs[target]
	if !ok {
		f.logger.Error("backend base URL is not configured", "backend", string(target))
		return notConfigured(target), nil
	}

	var body io.Reader
	withBody := pr.HasBody()
	if withBody {
		body = pr.Body
	}

	req, err := http.NewRequestWithContext(pr.Ctx, pr.Method, buildTargetURL(base, pr.Path, pr.RawQuery), body)
	if err != nil {
		return nil, fmt.Errorf("build backend request: %w", err)
	}
	if withBody {
		req.ContentLength = pr.ContentLength
		if req.ContentLength == 0 {
			req.ContentLength = -1
		}
	}
	req.Header = f.outboundHeaders(pr.Header, withBody)

	f.logger.Debug("forwarding request",
		"backend", string(target),
		"method", pr.Method,
		"path", pr.Path,
	)

	resp, err := f.client.Do(target, req)
	if err != nil {
		return nil, fmt.Errorf("forward to %s: %w", target, err)
	}
	return resp, nil
}

// outboundHeaders copies src minus the dropped headers, attaches content
// headers only when a body is sent, and injects the trust credential.
func (f *Forwarder) outboundHeaders(src http.Header, withBody bool) http.Header {
	dst := make(http.Header, len(src)+1)
	for key, vals := range src {
		name := http.CanonicalHeaderKey(key)
		if droppedRequestHeaders[name] {
			continue
		}
		if contentHeaders[name] && !withBody {
			continue
		}
		dst[name] = append(dst[name], vals...)
	}

	if f.trustKey != "" {
		dst.Del(f.trustHeader)
		dst.Set(f.trustHeader, f.trustKey)
	}
	return dst
}

func buildTargetURL(base, path, rawQuery string) string {
	u := base + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

func notConfigured(target model.BackendTarget) *model.BackendResponse {
	return &model.BackendResponse{
		StatusCode:  http.StatusInternalServerError,
		ContentType: "application/json",
		Body:        []byte(fmt.Sprintf(`{"message":"%s base URL is not configured."}`, target)),
	}
}
