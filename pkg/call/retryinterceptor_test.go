package call

import (
	"net/http"
	"testing"

	"github.com/nexthttp/h2engine/pkg/errors"
)

func TestRetryFollowUpFollowsRedirectThroughRemainingChain(t *testing.T) {
	var seenURLs []string
	terminal := InterceptorFunc(func(chain *Chain) (*http.Response, error) {
		req := chain.Request()
		seenURLs = append(seenURLs, req.URL.String())
		if req.URL.Path == "/a" {
			h := http.Header{"Location": {"/b"}}
			return &http.Response{StatusCode: http.StatusFound, Header: h, Body: http.NoBody, Request: req}, nil
		}
		return &http.Response{StatusCode: 200, Header: http.Header{}, Body: http.NoBody, Request: req}, nil
	})

	ri := &RetryFollowUpInterceptor{RedirectsEnabled: true}
	req, _ := http.NewRequest(http.MethodGet, "https://example.com/a", nil)
	resp := runChainWithTerminal(t, req, []Interceptor{ri}, terminal)

	if resp.StatusCode != 200 {
		t.Fatalf("expected the redirect to be followed to a 200, got %d", resp.StatusCode)
	}
	if len(seenURLs) != 2 || seenURLs[1] != "https://example.com/b" {
		t.Fatalf("expected a second request to /b, got %v", seenURLs)
	}
}

func TestRetryFollowUpRetriesRecoverableConnectivityFailure(t *testing.T) {
	attempts := 0
	terminal := InterceptorFunc(func(chain *Chain) (*http.Response, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.NewConnectionError("example.com", 443, nil)
		}
		return &http.Response{StatusCode: 200, Header: http.Header{}, Body: http.NoBody, Request: chain.Request()}, nil
	})

	ri := &RetryFollowUpInterceptor{RetriesEnabled: true}
	req, _ := http.NewRequest(http.MethodGet, "https://example.com/a", nil)
	resp := runChainWithTerminal(t, req, []Interceptor{ri}, terminal)

	if resp.StatusCode != 200 {
		t.Fatalf("expected eventual success after a retried connectivity failure, got status %d", resp.StatusCode)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly one retry, got %d attempts", attempts)
	}
}

func TestRetryFollowUpDoesNotRetryWhenDisabled(t *testing.T) {
	attempts := 0
	terminal := InterceptorFunc(func(chain *Chain) (*http.Response, error) {
		attempts++
		return nil, errors.NewConnectionError("example.com", 443, nil)
	})

	ri := &RetryFollowUpInterceptor{RetriesEnabled: false}
	req, _ := http.NewRequest(http.MethodGet, "https://example.com/a", nil)
	c := New(req.Context(), req, []Interceptor{ri, terminal}, nil)
	if _, err := c.Execute(); err == nil {
		t.Fatal("expected the connectivity failure to surface when retries are disabled")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly one attempt with retries disabled, got %d", attempts)
	}
}
