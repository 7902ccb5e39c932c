package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"account-gateway/internal/metrics"
	"account-gateway/internal/model"
	"account-gateway/internal/token"
)

// OutcomeKind selects how an Outcome is written to the client.
type OutcomeKind int

const (
	// Passthrough writes the backend body, content type and status verbatim.
	Passthrough OutcomeKind = iota
	// Refreshed writes {"token": ..., "data": ...}.
	Refreshed
	// LoginIssued writes {"token": ..., "user": ...}.
	LoginIssued
)

// Outcome is the client-facing result of one proxied call.
type Outcome struct {
	Kind        OutcomeKind
	StatusCode  int
	ContentType string
	Body        []byte

	Token string
	// Payload is the backend JSON carried as "data" or "user".
	Payload json.RawMessage
}

// RefreshEnvelope is the body of a Refreshed outcome.
type RefreshEnvelope struct {
	Token string          `json:"token"`
	Data  json.RawMessage `json:"data"`
}

// LoginEnvelope is the body of a LoginIssued outcome.
type LoginEnvelope struct {
	Token string          `json:"token"`
	User  json.RawMessage `json:"user"`
}

// Caller describes the inbound client for audit purposes.
type Caller struct {
	IP        string
	UserAgent string
}

// Gateway forwards requests and shapes backend responses per operation mode.
type Gateway struct {
	forwarder *Forwarder
	signer    *token.Signer
	recorder  *ActivityRecorder
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewGateway creates a Gateway. The metrics parameter is optional.
func NewGateway(f *Forwarder, s *token.Signer, r *ActivityRecorder, logger *slog.Logger, m *metrics.Metrics) *Gateway {
	return &Gateway{
		forwarder: f,
		signer:    s,
		recorder:  r,
		logger:    logger.With("component", "gateway"),
		metrics:   m,
	}
}

// Proxy forwards pr and returns the backend response unchanged.
func (g *Gateway) Proxy(pr *model.ProxyRequest, target model.BackendTarget) (*Outcome, error) {
	resp, err := g.forwarder.Forward(pr, target)
	if err != nil {
		return nil, err
	}
	return passthrough(resp), nil
}

// ProxyWithRefresh forwards a call made for an authenticated caller. A
// successful JSON reply is wrapped together with a token re-minted from the
// caller's own claims; anything else passes through.
func (g *Gateway) ProxyWithRefresh(pr *model.ProxyRequest, target model.BackendTarget, caller *token.Principal) (*Outcome, error) {
	resp, err := g.forwarder.Forward(pr, target)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest || len(resp.Body) == 0 {
		return passthrough(resp), nil
	}
	if !json.Valid(resp.Body) {
		g.logger.Debug("backend reply is not JSON; passing through", "path", pr.Path)
		return passthrough(resp), nil
	}

	cs, err := token.FromPrincipal(caller)
	if err != nil {
		return nil, err
	}
	tok, err := g.sign(cs, "refresh")
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Kind:       Refreshed,
		StatusCode: resp.StatusCode,
		Token:      tok,
		Payload:    json.RawMessage(resp.Body),
	}, nil
}

// ProxyLogin forwards a login call and, on success, issues a token from the
// user object the user store returned.
func (g *Gateway) ProxyLogin(pr *model.ProxyRequest) (*Outcome, error) {
	resp, err := g.forwarder.Forward(pr, model.UserStore)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest || len(resp.Body) == 0 {
		return passthrough(resp), nil
	}

	user, roles, ok := readLoginPayload(resp.Body)
	if !ok {
		g.logger.Warn("user store returned an unusable login payload", "status", resp.StatusCode)
		return &Outcome{Kind: Passthrough, StatusCode: http.StatusBadGateway}, nil
	}

	cs, err := token.FromUserPayload(user, roles)
	if err != nil {
		return nil, err
	}
	tok, err := g.sign(cs, "login")
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Kind:       LoginIssued,
		StatusCode: resp.StatusCode,
		Token:      tok,
		Payload:    user,
	}, nil
}

// ProxyRegister forwards a registration and, when it succeeded, records an
// account-creation activity. The register reply is always passed through.
func (g *Gateway) ProxyRegister(pr *model.ProxyRequest, caller Caller) (*Outcome, error) {
	resp, err := g.forwarder.Forward(pr, model.UserStore)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < http.StatusBadRequest {
		if userID, ok := readUserID(resp.Body); ok {
			// Recording is best effort and never changes the reply.
			_ = g.recorder.Record(pr.Ctx, Activity{
				UserID:    userID,
				EventType: EventAccountCreated,
				IPAddress: caller.IP,
				UserAgent: caller.UserAgent,
				Metadata:  "source=gateway",
			})
		}
	}

	return passthrough(resp), nil
}

func (g *Gateway) sign(cs token.ClaimSet, source string) (string, error) {
	tok, err := g.signer.Sign(cs)
	if err != nil {
		return "", err
	}
	if g.metrics != nil {
		g.metrics.TokensIssued.WithLabelValues(source).Inc()
	}
	return tok, nil
}

func passthrough(resp *model.BackendResponse) *Outcome {
	return &Outcome{
		Kind:        Passthrough,
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType,
		Body:        resp.Body,
	}
}

// readLoginPayload requires a top-level object with an object "user" field.
// An optional "roles" array contributes its non-blank string entries in
// order; duplicates are kept here and folded when the token is signed.
func readLoginPayload(body []byte) (json.RawMessage, []string, bool) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil || root == nil {
		return nil, nil, false
	}

	user, ok := root["user"]
	if !ok || !isJSONObject(user) {
		return nil, nil, false
	}

	var rawRoles []json.RawMessage
	if r, ok := root["roles"]; ok {
		// Anything other than an array is ignored.
		_ = json.Unmarshal(r, &rawRoles)
	}

	var roles []string
	for _, r := range rawRoles {
		var s string
		if err := json.Unmarshal(r, &s); err != nil {
			continue
		}
		if strings.TrimSpace(s) != "" {
			roles = append(roles, s)
		}
	}
	return user, roles, true
}

// readUserID finds a positive integer "id" field, matching the name
// case-insensitively.
func readUserID(body []byte) (int64, bool) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return 0, false
	}

	raw, ok := root["id"]
	if !ok {
		for key, v := range root {
			if strings.EqualFold(key, "id") {
				raw, ok = v, true
				break
			}
		}
	}
	if !ok {
		return 0, false
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}
	n, isNum := v.(json.Number)
	if !isNum {
		return 0, false
	}
	id, err := n.Int64()
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// String is used in log lines.
func (k OutcomeKind) String() string {
	switch k {
	case Passthrough:
		return "passthrough"
	case Refreshed:
		return "refreshed"
	case LoginIssued:
		return "login_issued"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}
