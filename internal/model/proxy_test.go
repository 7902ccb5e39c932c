package model

import (
	"net/http"
	"strings"
	"testing"
)

func TestProxyRequest_HasBody(t *testing.T) {
	tests := []struct {
		name string
		req  ProxyRequest
		want bool
	}{
		{"nil body", ProxyRequest{ContentLength: 10, Header: http.Header{}}, false},
		{"positive length", ProxyRequest{Body: strings.NewReader("x"), ContentLength: 1, Header: http.Header{}}, true},
		{"zero length", ProxyRequest{Body: strings.NewReader(""), Header: http.Header{}}, false},
		{"chunked", ProxyRequest{Body: strings.NewReader("x"), ContentLength: -1, TransferEncoding: []string{"chunked"}, Header: http.Header{}}, true},
		{"transfer-encoding header", ProxyRequest{Body: strings.NewReader("x"), ContentLength: -1, Header: http.Header{"Transfer-Encoding": {"chunked"}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.HasBody(); got != tt.want {
				t.Errorf("HasBody() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBackendTarget_String(t *testing.T) {
	if got := UserStore.String(); got != "User store" {
		t.Errorf("UserStore.String() = %q", got)
	}
	if got := ActivityStore.String(); got != "Activity store" {
		t.Errorf("ActivityStore.String() = %q", got)
	}
	if got := BackendTarget("billing").String(); got != "billing" {
		t.Errorf("unknown target String() = %q", got)
	}
}
