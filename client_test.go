package h2engine

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientDoRoundTripsThroughTheFullChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Echo", r.Header.Get("User-Agent"))
		w.Write([]byte("hello from " + r.URL.Path))
	}))
	defer srv.Close()

	cl, err := New(DefaultOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cl.Close(time.Second)

	resp, err := cl.Get(t.Context(), srv.URL+"/a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(body) != "hello from /a" {
		t.Fatalf("unexpected body: %q", body)
	}
	if resp.Header.Get("X-Echo") != "h2engine/1.0" {
		t.Fatalf("expected bridge-added User-Agent to reach the server, got %q", resp.Header.Get("X-Echo"))
	}
}

func TestClientEnqueueDeliversResultAsynchronously(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cl, err := New(DefaultOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cl.Close(time.Second)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/b", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	done := make(chan struct{})
	var gotErr error
	cl.Enqueue(req, false, func(resp *http.Response, err error) {
		gotErr = err
		if resp != nil {
			resp.Body.Close()
		}
		close(done)
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for async call to complete")
	}
	if gotErr != nil {
		t.Fatalf("unexpected async error: %v", gotErr)
	}
}

func TestClientCachesGETResponses(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Cache-Control", "max-age=60")
		w.Write([]byte("cacheable"))
	}))
	defer srv.Close()

	opts := DefaultOptions()
	opts.CacheDir = t.TempDir()
	opts.CacheMaxBytes = 1 << 20
	cl, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cl.Close(time.Second)

	for i := 0; i < 2; i++ {
		resp, err := cl.Get(t.Context(), srv.URL+"/cacheme")
		if err != nil {
			t.Fatalf("Get #%d: %v", i, err)
		}
		io.ReadAll(resp.Body)
		resp.Body.Close()
	}
	if hits != 1 {
		t.Fatalf("expected the second request to be served from cache, server saw %d hits", hits)
	}
	if stats := cl.CacheStats(); stats.HitCount != 1 {
		t.Fatalf("expected one cache hit, got %d", stats.HitCount)
	}
}
