package call

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"testing"
)

func runChainWithTerminal(t *testing.T, req *http.Request, interceptors []Interceptor, terminal InterceptorFunc) *http.Response {
	t.Helper()
	c := New(req.Context(), req, append(append([]Interceptor{}, interceptors...), terminal), nil)
	resp, err := c.Execute()
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return resp
}

func TestBridgeAddsDefaultHeaders(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://example.com/a", nil)
	var seen *http.Request
	capture := InterceptorFunc(func(chain *Chain) (*http.Response, error) {
		seen = chain.Request()
		return &http.Response{StatusCode: 200, Header: http.Header{}, Body: http.NoBody}, nil
	})
	runChainWithTerminal(t, req, []Interceptor{&BridgeInterceptor{}}, capture)

	if seen.Header.Get("User-Agent") != defaultUserAgent {
		t.Fatalf("expected default User-Agent, got %q", seen.Header.Get("User-Agent"))
	}
	if seen.Header.Get("Accept-Encoding") != "gzip" {
		t.Fatalf("expected Accept-Encoding: gzip, got %q", seen.Header.Get("Accept-Encoding"))
	}
	if seen.Host != "example.com" {
		t.Fatalf("expected Host to default from URL, got %q", seen.Host)
	}
}

func TestBridgeDecompressesGzipItAdded(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://example.com/a", nil)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte("hello world"))
	gz.Close()

	terminal := InterceptorFunc(func(chain *Chain) (*http.Response, error) {
		h := http.Header{}
		h.Set("Content-Encoding", "gzip")
		return &http.Response{StatusCode: 200, Header: h, Body: io.NopCloser(bytes.NewReader(buf.Bytes()))}, nil
	})
	resp := runChainWithTerminal(t, req, []Interceptor{&BridgeInterceptor{}}, terminal)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading decompressed body: %v", err)
	}
	if string(body) != "hello world" {
		t.Fatalf("expected decompressed body, got %q", body)
	}
	if resp.Header.Get("Content-Encoding") != "" {
		t.Fatalf("expected Content-Encoding stripped after transparent decompression")
	}
}

func TestBridgeLeavesExplicitAcceptEncodingAlone(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://example.com/a", nil)
	req.Header.Set("Accept-Encoding", "identity")
	var seen *http.Request
	capture := InterceptorFunc(func(chain *Chain) (*http.Response, error) {
		seen = chain.Request()
		return &http.Response{StatusCode: 200, Header: http.Header{}, Body: http.NoBody}, nil
	})
	runChainWithTerminal(t, req, []Interceptor{&BridgeInterceptor{}}, capture)
	if seen.Header.Get("Accept-Encoding") != "identity" {
		t.Fatalf("expected caller's own Accept-Encoding to survive, got %q", seen.Header.Get("Accept-Encoding"))
	}
}

func TestBridgeSetsContentLengthForBody(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "https://example.com/a", strings.NewReader("payload"))
	req.ContentLength = int64(len("payload"))
	var seen *http.Request
	capture := InterceptorFunc(func(chain *Chain) (*http.Response, error) {
		seen = chain.Request()
		return &http.Response{StatusCode: 200, Header: http.Header{}, Body: http.NoBody}, nil
	})
	runChainWithTerminal(t, req, []Interceptor{&BridgeInterceptor{}}, capture)
	if seen.Header.Get("Content-Length") != "7" {
		t.Fatalf("expected Content-Length 7, got %q", seen.Header.Get("Content-Length"))
	}
}
