// Package model defines shared types for the gateway.
package model

import (
	"context"
	"io"
	"net/http"
)

// BackendTarget names one of the services the gateway forwards to.
type BackendTarget string

const (
	UserStore     BackendTarget = "user_store"
	ActivityStore BackendTarget = "activity_store"
)

// String returns a human-readable name used in messages.
func (t BackendTarget) String() string {
	switch t {
	case UserStore:
		return "User store"
	case ActivityStore:
		return "Activity store"
	}
	return string(t)
}

// ProxyRequest represents a client request to be forwarded to a backend.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	// Path is the downstream path, already mapped from the inbound route.
	Path             string
	RawQuery         string
	Header           http.Header
	Body             io.Reader
	ContentLength    int64
	TransferEncoding []string
}

// HasBody reports whether the inbound request declared a body worth copying.
func (r *ProxyRequest) HasBody() bool {
	if r.Body == nil {
		return false
	}
	return r.ContentLength > 0 || len(r.TransferEncoding) > 0 || r.Header.Get("Transfer-Encoding") != ""
}

// BackendResponse is a fully-read snapshot of a backend reply.
type BackendResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}
