package h2stream

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/nexthttp/h2engine/pkg/hpack"
)

// fakeSink records frames instead of writing to a socket, letting tests
// drive Stream without a real connection.
type fakeSink struct {
	mu        sync.Mutex
	data      [][]byte
	endStream bool
	updates   []uint32
	resets    []uint32
	trailers  []hpack.HeaderField
}

func (f *fakeSink) SendData(streamID uint32, p []byte, endStream bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), p...)
	f.data = append(f.data, cp)
	if endStream {
		f.endStream = true
	}
	return len(p), nil
}

func (f *fakeSink) SendTrailers(streamID uint32, trailers []hpack.HeaderField) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trailers = trailers
	f.endStream = true
	return nil
}

func (f *fakeSink) SendWindowUpdate(streamID uint32, increment uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, increment)
	return nil
}

func (f *fakeSink) SendReset(streamID uint32, code uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, code)
	return nil
}

func TestStreamReadAtMostBlocksThenDelivers(t *testing.T) {
	sink := &fakeSink{}
	s := newStream(1, sink, 1024, 1024)
	s.state = StateOpen

	done := make(chan struct{})
	var n int
	var err error
	go func() {
		buf := make([]byte, 16)
		n, err = s.ReadAtMost(buf)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("ReadAtMost returned before any data was delivered")
	case <-time.After(20 * time.Millisecond):
	}

	if derr := s.DeliverData([]byte("hello"), false); derr != nil {
		t.Fatalf("deliverData: %v", derr)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ReadAtMost never woke up after deliverData")
	}
	if err != nil {
		t.Fatalf("ReadAtMost error: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 bytes, got %d", n)
	}
}

func TestStreamReadAtMostEOFOnFinish(t *testing.T) {
	sink := &fakeSink{}
	s := newStream(1, sink, 1024, 1024)
	s.state = StateOpen
	s.DeliverHeaders(nil, false)
	if err := s.DeliverData([]byte("x"), true); err != nil {
		t.Fatalf("deliverData: %v", err)
	}

	buf := make([]byte, 16)
	n, err := s.ReadAtMost(buf)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 byte nil err, got n=%d err=%v", n, err)
	}

	n, err = s.ReadAtMost(buf)
	if n != 0 || err != io.EOF {
		t.Fatalf("expected EOF after drained+finished, got n=%d err=%v", n, err)
	}
}

func TestStreamReadAtMostReturnsResetError(t *testing.T) {
	sink := &fakeSink{}
	s := newStream(1, sink, 1024, 1024)
	s.state = StateOpen
	s.RecordReset(0x8)

	buf := make([]byte, 16)
	_, err := s.ReadAtMost(buf)
	if err == nil {
		t.Fatal("expected reset error, got nil")
	}
}

func TestStreamFlowControlExceeded(t *testing.T) {
	sink := &fakeSink{}
	s := newStream(1, sink, 4, 1024)
	s.state = StateOpen

	err := s.DeliverData([]byte("too many bytes"), false)
	if err == nil {
		t.Fatal("expected flow control violation error")
	}
}

func TestStreamWriteBlocksOnExhaustedWindow(t *testing.T) {
	sink := &fakeSink{}
	s := newStream(1, sink, 1024, 4)
	s.state = StateOpen

	// Below the write-batch threshold, Write only buffers; CloseWrite's
	// flush(true) is what actually drains the 4-byte send window.
	if _, err := s.Write([]byte("abcd")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if !sink.endStream {
		t.Fatal("expected END_STREAM to have been sent")
	}
}

func TestManagerCreateStreamAllocatesOddIDsStartingAt3(t *testing.T) {
	sink := &fakeSink{}
	m := NewManager(sink, 100)

	s1, err := m.CreateStream()
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	s2, err := m.CreateStream()
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	if s1.ID != 3 || s2.ID != 5 {
		t.Fatalf("expected ids 3,5, got %d,%d", s1.ID, s2.ID)
	}
}

func TestRefuseStreamsAboveResetsHigherLocalStreamsOnly(t *testing.T) {
	sink := &fakeSink{}
	m := NewManager(sink, 100)

	s3, err := m.CreateStream()
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	s5, err := m.CreateStream()
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	push, err := m.AdoptPeerStream(4)
	if err != nil {
		t.Fatalf("AdoptPeerStream: %v", err)
	}

	m.RefuseStreamsAbove(3)

	if s3.State() == StateClosed {
		t.Fatal("stream at or below last-good-id must not be reset")
	}
	if s5.State() != StateClosed {
		t.Fatal("expected locally-initiated stream above last-good-id to be reset")
	}
	if _, err := s5.ReadAtMost(make([]byte, 1)); err == nil {
		t.Fatal("expected a refused stream's read to observe the reset error")
	}
	if push.State() == StateClosed {
		t.Fatal("GOAWAY's last-good-id only bounds locally-initiated streams, not server push")
	}
}

func TestCreateStreamFailsAfterGoAway(t *testing.T) {
	sink := &fakeSink{}
	m := NewManager(sink, 100)
	m.RefuseStreamsAbove(0)

	if _, err := m.CreateStream(); err == nil {
		t.Fatal("expected CreateStream to fail once GOAWAY has been observed")
	}
}

func TestManagerEnforcesConcurrencyCap(t *testing.T) {
	sink := &fakeSink{}
	m := NewManager(sink, 1)

	if _, err := m.CreateStream(); err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	if _, err := m.CreateStream(); err == nil {
		t.Fatal("expected concurrency cap to reject second stream")
	}
}

func TestManagerApplyPeerInitialWindowChangePropagates(t *testing.T) {
	sink := &fakeSink{}
	m := NewManager(sink, 100)
	s, err := m.CreateStream()
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	before := s.sendWindow
	m.ApplyPeerInitialWindowChange(m.peerInitialWindow + 1000)
	if s.sendWindow != before+1000 {
		t.Fatalf("expected send window to grow by 1000, got delta %d", s.sendWindow-before)
	}
}
