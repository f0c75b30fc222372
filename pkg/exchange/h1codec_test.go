package exchange

import (
	"io"
	"net"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestH1CodecRoundTripFixedLength(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	var serverErr error
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		n, err := serverConn.Read(buf)
		if err != nil {
			serverErr = err
			return
		}
		req := string(buf[:n])
		if !strings.HasPrefix(req, "GET /hello HTTP/1.1\r\n") {
			serverErr = errFromString("unexpected request line: " + req)
			return
		}
		resp := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhowdy"
		if _, err := serverConn.Write([]byte(resp)); err != nil {
			serverErr = err
		}
	}()

	u, _ := url.Parse("https://example.com/hello")
	codec := NewH1Codec(clientConn, time.Second, time.Second)
	req := &Request{Method: "GET", URL: u, Headers: Headers{{Name: "Host", Value: "example.com"}}, ContentLength: 0}

	if err := codec.WriteRequestHeaders(req); err != nil {
		t.Fatalf("WriteRequestHeaders: %v", err)
	}

	<-done
	if serverErr != nil {
		t.Fatalf("fake server: %v", serverErr)
	}

	rh, err := codec.ReadResponseHeaders()
	if err != nil {
		t.Fatalf("ReadResponseHeaders: %v", err)
	}
	if rh.StatusCode != 200 {
		t.Fatalf("expected status 200, got %d", rh.StatusCode)
	}

	body, err := codec.OpenResponseBodyReader()
	if err != nil {
		t.Fatalf("OpenResponseBodyReader: %v", err)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(data) != "howdy" {
		t.Fatalf("expected body %q, got %q", "howdy", data)
	}
}

func TestH1CodecChunkedResponseWithTrailers(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		serverConn.Read(buf)
		resp := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
			"4\r\nwiki\r\n5\r\npedia\r\n0\r\nX-Checksum: abc123\r\n\r\n"
		serverConn.Write([]byte(resp))
	}()

	u, _ := url.Parse("http://example.com/stream")
	codec := NewH1Codec(clientConn, time.Second, time.Second)
	req := &Request{Method: "GET", URL: u, ContentLength: 0}
	if err := codec.WriteRequestHeaders(req); err != nil {
		t.Fatalf("WriteRequestHeaders: %v", err)
	}

	<-done

	rh, err := codec.ReadResponseHeaders()
	if err != nil {
		t.Fatalf("ReadResponseHeaders: %v", err)
	}
	if rh.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", rh.StatusCode)
	}

	body, err := codec.OpenResponseBodyReader()
	if err != nil {
		t.Fatalf("OpenResponseBodyReader: %v", err)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading chunked body: %v", err)
	}
	if string(data) != "wikipedia" {
		t.Fatalf("expected dechunked body %q, got %q", "wikipedia", data)
	}

	trailers, ok := codec.PeekTrailers()
	if !ok {
		t.Fatal("expected trailers after reading chunked body to EOF")
	}
	if v, ok := trailers.Get("X-Checksum"); !ok || v != "abc123" {
		t.Fatalf("expected trailer X-Checksum=abc123, got %q, %v", v, ok)
	}
}

type stringError string

func (e stringError) Error() string { return string(e) }
func errFromString(s string) error  { return stringError(s) }
