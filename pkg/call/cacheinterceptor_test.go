package call

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nexthttp/h2engine/pkg/cache"
)

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.Open(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	return c
}

func TestCacheInterceptorStoresAndServesFreshHit(t *testing.T) {
	c := newTestCache(t)
	networkHits := 0
	terminal := InterceptorFunc(func(chain *Chain) (*http.Response, error) {
		networkHits++
		h := http.Header{"Cache-Control": {"max-age=60"}}
		return &http.Response{StatusCode: 200, Header: h, Body: io.NopCloser(strings.NewReader("cached body")), Request: chain.Request()}, nil
	})

	req, _ := http.NewRequest(http.MethodGet, "https://example.com/a", nil)
	ci := NewCacheInterceptor(c)

	resp1 := runChainWithTerminal(t, req, []Interceptor{ci}, terminal)
	body1, _ := io.ReadAll(resp1.Body)
	resp1.Body.Close()
	if string(body1) != "cached body" {
		t.Fatalf("unexpected first body: %q", body1)
	}

	req2, _ := http.NewRequest(http.MethodGet, "https://example.com/a", nil)
	resp2 := runChainWithTerminal(t, req2, []Interceptor{ci}, terminal)
	body2, _ := io.ReadAll(resp2.Body)
	if string(body2) != "cached body" {
		t.Fatalf("unexpected second body: %q", body2)
	}
	if networkHits != 1 {
		t.Fatalf("expected the second request to be served from cache, network hit %d times", networkHits)
	}
}

func TestCacheInterceptorRevalidatesStaleEntry(t *testing.T) {
	c := newTestCache(t)
	calls := 0
	terminal := InterceptorFunc(func(chain *Chain) (*http.Response, error) {
		calls++
		req := chain.Request()
		if calls == 1 {
			h := http.Header{"Cache-Control": {"max-age=0"}, "ETag": {`"v1"`}}
			return &http.Response{StatusCode: 200, Header: h, Body: io.NopCloser(strings.NewReader("v1 body")), Request: req}, nil
		}
		if req.Header.Get("If-None-Match") != `"v1"` {
			t.Fatalf("expected conditional revalidation request, got headers %v", req.Header)
		}
		return &http.Response{StatusCode: http.StatusNotModified, Header: http.Header{}, Body: http.NoBody, Request: req}, nil
	})

	ci := NewCacheInterceptor(c)
	req, _ := http.NewRequest(http.MethodGet, "https://example.com/b", nil)
	resp1 := runChainWithTerminal(t, req, []Interceptor{ci}, terminal)
	io.ReadAll(resp1.Body)
	resp1.Body.Close()
	time.Sleep(time.Millisecond)

	req2, _ := http.NewRequest(http.MethodGet, "https://example.com/b", nil)
	resp2 := runChainWithTerminal(t, req2, []Interceptor{ci}, terminal)
	body2, _ := io.ReadAll(resp2.Body)
	if string(body2) != "v1 body" {
		t.Fatalf("expected revalidated cache body to be served, got %q", body2)
	}
	if calls != 2 {
		t.Fatalf("expected exactly one revalidation round trip, got %d network calls", calls)
	}
}

func TestCacheInterceptorOnlyIfCachedMissReturns504WithoutNetwork(t *testing.T) {
	c := newTestCache(t)
	calls := 0
	terminal := InterceptorFunc(func(chain *Chain) (*http.Response, error) {
		calls++
		return &http.Response{StatusCode: 200, Header: http.Header{}, Body: http.NoBody, Request: chain.Request()}, nil
	})
	ci := NewCacheInterceptor(c)
	req, _ := http.NewRequest(http.MethodGet, "https://example.com/only-if-cached", nil)
	req.Header.Set("Cache-Control", "only-if-cached")

	resp := runChainWithTerminal(t, req, []Interceptor{ci}, terminal)
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 on an only-if-cached miss, got %d", resp.StatusCode)
	}
	if calls != 0 {
		t.Fatalf("expected only-if-cached to never reach the network, got %d network calls", calls)
	}
}

func TestCacheInterceptorOnlyIfCachedStaleEntryReturns504(t *testing.T) {
	c := newTestCache(t)
	calls := 0
	terminal := InterceptorFunc(func(chain *Chain) (*http.Response, error) {
		calls++
		h := http.Header{"Cache-Control": {"max-age=0"}, "ETag": {`"v1"`}}
		return &http.Response{StatusCode: 200, Header: h, Body: io.NopCloser(strings.NewReader("v1 body")), Request: chain.Request()}, nil
	})
	ci := NewCacheInterceptor(c)

	req, _ := http.NewRequest(http.MethodGet, "https://example.com/only-if-cached-stale", nil)
	resp1 := runChainWithTerminal(t, req, []Interceptor{ci}, terminal)
	io.ReadAll(resp1.Body)
	resp1.Body.Close()
	time.Sleep(time.Millisecond)

	req2, _ := http.NewRequest(http.MethodGet, "https://example.com/only-if-cached-stale", nil)
	req2.Header.Set("Cache-Control", "only-if-cached")
	resp2 := runChainWithTerminal(t, req2, []Interceptor{ci}, terminal)
	if resp2.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 for a stale entry under only-if-cached, got %d", resp2.StatusCode)
	}
	if calls != 1 {
		t.Fatalf("expected only-if-cached to skip revalidation entirely, got %d network calls", calls)
	}
}

func TestCacheInterceptorSkipsNonCacheableMethod(t *testing.T) {
	c := newTestCache(t)
	calls := 0
	terminal := InterceptorFunc(func(chain *Chain) (*http.Response, error) {
		calls++
		return &http.Response{StatusCode: 200, Header: http.Header{}, Body: http.NoBody, Request: chain.Request()}, nil
	})
	ci := NewCacheInterceptor(c)
	req, _ := http.NewRequest(http.MethodPost, "https://example.com/c", nil)
	runChainWithTerminal(t, req, []Interceptor{ci}, terminal)
	req2, _ := http.NewRequest(http.MethodPost, "https://example.com/c", nil)
	runChainWithTerminal(t, req2, []Interceptor{ci}, terminal)
	if calls != 2 {
		t.Fatalf("expected POST never to be served from cache, got %d network calls", calls)
	}
}
