package h2conn

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nexthttp/h2engine/internal/telemetry"
	"github.com/nexthttp/h2engine/pkg/h2frame"
	"github.com/nexthttp/h2engine/pkg/hpack"
)

type testListener struct {
	mu        sync.Mutex
	goAways   []h2frame.ErrCode
	closedErr error
	closed    chan struct{}
}

func newTestListener() *testListener {
	return &testListener{closed: make(chan struct{})}
}

func (l *testListener) OnGoAway(lastGoodStreamID uint32, code h2frame.ErrCode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.goAways = append(l.goAways, code)
}

func (l *testListener) OnClosed(cause error) {
	l.mu.Lock()
	l.closedErr = cause
	l.mu.Unlock()
	close(l.closed)
}

func (l *testListener) OnPushPromise(uint32, []hpack.HeaderField) bool { return false }

// fakeServer drives the server half of the handshake over a net.Pipe: read
// the preface, read the client's SETTINGS, ACK it.
func fakeServer(t *testing.T, conn net.Conn) *h2frame.Framer {
	t.Helper()
	preface := make([]byte, len(h2frame.Preface))
	if _, err := io.ReadFull(conn, preface); err != nil {
		t.Errorf("fakeServer: reading preface: %v", err)
		return nil
	}
	fr := h2frame.NewFramer(conn, conn)
	frame, err := fr.ReadFrame()
	if err != nil {
		t.Errorf("fakeServer: reading client settings: %v", err)
		return nil
	}
	if _, ok := frame.(*h2frame.SettingsFrame); !ok {
		t.Errorf("fakeServer: expected SETTINGS, got %T", frame)
		return nil
	}
	// DefaultConfig's InitialWindowSize exceeds the RFC 7540 default of
	// 65535, so the client also sends a connection-level WINDOW_UPDATE
	// right after SETTINGS; net.Pipe is unbuffered, so that write blocks
	// until read here, before the client is in a position to read our ACK.
	frame, err = fr.ReadFrame()
	if err != nil {
		t.Errorf("fakeServer: reading client window update: %v", err)
		return nil
	}
	if _, ok := frame.(*h2frame.WindowUpdateFrame); !ok {
		t.Errorf("fakeServer: expected WINDOW_UPDATE, got %T", frame)
		return nil
	}
	if err := fr.WriteSettingsAck(); err != nil {
		t.Errorf("fakeServer: writing settings ack: %v", err)
		return nil
	}
	return fr
}

func TestDialPerformsHandshake(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	var serverFramer *h2frame.Framer
	ready := make(chan struct{})
	go func() {
		serverFramer = fakeServer(t, serverConn)
		close(ready)
	}()

	listener := newTestListener()
	cfg := DefaultConfig()
	cfg.SettingsAckTimeout = 2 * time.Second
	cfg.Logger = telemetry.Nop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := Dial(ctx, clientConn, cfg, listener)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	<-ready
	if serverFramer == nil {
		t.Fatal("fakeServer failed, see above errors")
	}

	s, err := conn.OpenStream()
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if s.ID != 3 {
		t.Fatalf("expected first client stream id 3, got %d", s.ID)
	}

	conn.Close(h2frame.ErrCodeNo)
	select {
	case <-listener.closed:
	case <-time.After(time.Second):
		t.Fatal("listener.OnClosed was never called after Close")
	}
}

func TestConnectionDispatchWindowUpdateCreditsConnWindow(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	c := &Connection{
		netConn:        clientConn,
		framer:         h2frame.NewFramer(clientConn, clientConn),
		cfg:            DefaultConfig(),
		log:            telemetry.Nop(),
		connSendWindow: 0,
		doneCh:         make(chan struct{}),
	}
	c.sendCond = sync.NewCond(&c.mu)
	c.streams = nil // not exercised by this test

	if err := c.dispatch(&h2frame.WindowUpdateFrame{
		Header:    h2frame.Header{StreamID: 0},
		Increment: 1000,
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connSendWindow != 1000 {
		t.Fatalf("expected conn send window 1000, got %d", c.connSendWindow)
	}
}

func TestConnectionSendDataSplitsOnMaxFrameSize(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	c := &Connection{
		netConn:        clientConn,
		framer:         h2frame.NewFramer(clientConn, clientConn),
		cfg:            DefaultConfig(),
		log:            telemetry.Nop(),
		connSendWindow: 100,
		peerMaxFrame:   4,
		doneCh:         make(chan struct{}),
	}
	c.sendCond = sync.NewCond(&c.mu)

	serverFramer := h2frame.NewFramer(serverConn, serverConn)
	var frames []*h2frame.DataFrame
	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			f, err := serverFramer.ReadFrame()
			if err != nil {
				t.Errorf("ReadFrame: %v", err)
				close(done)
				return
			}
			df, ok := f.(*h2frame.DataFrame)
			if !ok {
				t.Errorf("expected DataFrame, got %T", f)
				close(done)
				return
			}
			frames = append(frames, df)
		}
		close(done)
	}()

	written, err := c.SendData(1, []byte("0123456789ab"), true)
	if err != nil {
		t.Fatalf("SendData: %v", err)
	}
	if written != 12 {
		t.Fatalf("expected 12 bytes written, got %d", written)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("server never read the expected 3 frames")
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 DATA frames of <=4 bytes each, got %d", len(frames))
	}
	if !frames[2].Header.Flags.Has(h2frame.FlagEndStream) {
		t.Fatal("expected END_STREAM on the final frame")
	}
}
