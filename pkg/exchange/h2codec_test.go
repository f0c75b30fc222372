package exchange

import (
	"context"
	"io"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/nexthttp/h2engine/pkg/h2conn"
	"github.com/nexthttp/h2engine/pkg/h2frame"
	"github.com/nexthttp/h2engine/pkg/hpack"
)

type nopListener struct{}

func (nopListener) OnGoAway(uint32, h2frame.ErrCode)              {}
func (nopListener) OnClosed(error)                                {}
func (nopListener) OnPushPromise(uint32, []hpack.HeaderField) bool { return false }

// fakeH2Server drives the server half of the connection directly with
// h2frame/hpack: ack the handshake, read the client's request HEADERS (and
// any DATA), then write back a response.
func fakeH2Server(t *testing.T, conn net.Conn, body string) {
	t.Helper()
	preface := make([]byte, len(h2frame.Preface))
	if _, err := io.ReadFull(conn, preface); err != nil {
		t.Errorf("fakeH2Server: reading preface: %v", err)
		return
	}
	fr := h2frame.NewFramer(conn, conn)

	// client SETTINGS, then (since default InitialWindowSize > 65535) a
	// connection WINDOW_UPDATE.
	if _, err := fr.ReadFrame(); err != nil {
		t.Errorf("fakeH2Server: reading client settings: %v", err)
		return
	}
	if _, err := fr.ReadFrame(); err != nil {
		t.Errorf("fakeH2Server: reading client window update: %v", err)
		return
	}
	if err := fr.WriteSettingsAck(); err != nil {
		t.Errorf("fakeH2Server: writing settings ack: %v", err)
		return
	}

	// the request HEADERS frame (END_STREAM, since the test request has no body)
	frame, err := fr.ReadFrame()
	if err != nil {
		t.Errorf("fakeH2Server: reading request headers: %v", err)
		return
	}
	hf, ok := frame.(*h2frame.HeadersFrame)
	if !ok {
		t.Errorf("fakeH2Server: expected HEADERS, got %T", frame)
		return
	}

	enc := hpack.NewEncoder(4096)
	enc.WriteField(hpack.HeaderField{Name: ":status", Value: "200"})
	enc.WriteField(hpack.HeaderField{Name: "content-type", Value: "text/plain"})
	block := enc.Bytes()
	if err := fr.WriteHeaders(hf.Header.StreamID, false, block, nil); err != nil {
		t.Errorf("fakeH2Server: writing response headers: %v", err)
		return
	}
	if err := fr.WriteData(hf.Header.StreamID, true, []byte(body)); err != nil {
		t.Errorf("fakeH2Server: writing response data: %v", err)
		return
	}
}

func TestH2CodecRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fakeH2Server(t, serverConn, "hello from h2")
	}()

	cfg := h2conn.DefaultConfig()
	cfg.SettingsAckTimeout = 2 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := h2conn.Dial(ctx, clientConn, cfg, nopListener{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	codec, err := NewH2Codec(conn)
	if err != nil {
		t.Fatalf("NewH2Codec: %v", err)
	}

	u, _ := url.Parse("https://example.com/greet")
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
		t.Fatalf("expected status 200, got %d", rh.StatusCode)
	}
	if v, ok := rh.Headers.Get("content-type"); !ok || v != "text/plain" {
		t.Fatalf("expected content-type text/plain, got %q, %v", v, ok)
	}

	body, err := codec.OpenResponseBodyReader()
	if err != nil {
		t.Fatalf("OpenResponseBodyReader: %v", err)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	if string(data) != "hello from h2" {
		t.Fatalf("expected body %q, got %q", "hello from h2", data)
	}
}
