package h2stream

import (
	"io"
	"sync"

	"github.com/nexthttp/h2engine/pkg/constants"
	"github.com/nexthttp/h2engine/pkg/errors"
	"github.com/nexthttp/h2engine/pkg/hpack"
)

// FrameSink is the subset of the connection engine (C4) a Stream needs in
// order to emit DATA, WINDOW_UPDATE, and RST_STREAM frames. h2conn
// implements it; kept as an interface here so h2stream has no import-time
// dependency on h2conn.
type FrameSink interface {
	// SendData writes up to len(p) bytes of DATA for streamID, observing
	// the connection-level send window and SETTINGS_MAX_FRAME_SIZE, and
	// reports how much it actually wrote.
	SendData(streamID uint32, p []byte, endStream bool) (int, error)
	// SendTrailers writes a final HEADERS frame carrying trailers with
	// END_STREAM set.
	SendTrailers(streamID uint32, trailers []hpack.HeaderField) error
	// SendWindowUpdate credits streamID's receive window back to the peer.
	SendWindowUpdate(streamID uint32, increment uint32) error
	// SendReset emits RST_STREAM(code) for streamID.
	SendReset(streamID uint32, code uint32) error
}

// Stream is one HTTP/2 stream: its state machine, flow-control windows, and
// the buffers bridging the connection's reader loop to the application's
// blocking Read/Write calls.
//
// Fields named after the teacher's pkg/http2/types.go Stream (WindowSize,
// PeerWindowSize, HeadersReceived, DataReceived) are kept; sendWindow here
// corresponds to the teacher's PeerWindowSize (how much we may still send)
// and recvWindow to WindowSize (how much the peer may still send us).
type Stream struct {
	ID    uint32
	sink  FrameSink
	mu    sync.Mutex
	cond  *sync.Cond
	state State

	sendWindow int64 // bytes we may still transmit before blocking
	recvWindow int64 // bytes the peer may still send before WINDOW_UPDATE is due

	localInitialWindow int64
	unackedRecv        int64 // delivered-to-app bytes not yet reflected in a WINDOW_UPDATE

	sendBuf []byte // application bytes queued, not yet flushed to the wire
	recvBuf []byte // network bytes delivered, not yet read by the application

	headerBlocks [][]hpack.HeaderField // queued non-trailer HEADERS: 1xx informational responses, then the final response
	trailers     []hpack.HeaderField
	hasTrailers  bool

	headersReceived bool
	dataReceived    bool
	finished        bool // recv side saw END_STREAM
	closed          bool
	resetErr        error
}

// newStream is unexported: streams are created through Manager so the id
// allocation and concurrency-cap bookkeeping stays centralized.
func newStream(id uint32, sink FrameSink, localInitialWindow, peerInitialWindow int64) *Stream {
	s := &Stream{
		ID:                 id,
		sink:               sink,
		state:              StateIdle,
		sendWindow:         peerInitialWindow,
		recvWindow:         localInitialWindow,
		localInitialWindow: localInitialWindow,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// State returns the stream's current state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves the stream to newState if the transition is legal,
// waking any blocked reader/writer so it can observe the new state.
func (s *Stream) transition(newState State) bool {
	if !isValidStateTransition(s.state, newState) {
		return false
	}
	s.state = newState
	s.cond.Broadcast()
	return true
}

// Transition is the exported, locking form used by the connection engine
// when processing HEADERS/DATA/RST_STREAM frames.
func (s *Stream) Transition(newState State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(newState)
}

// DeliverData is called by the connection's reader loop when a DATA frame
// arrives for this stream. It appends payload to recvBuf and wakes any
// blocked ReadAtMost. The connection is responsible for having already
// debited its own connection-level recv window.
func (s *Stream) DeliverData(payload []byte, endStream bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int64(len(payload)) > s.recvWindow {
		s.resetErr = errors.NewProtocolError("flow control window exceeded", nil)
		s.finished = true
		s.cond.Broadcast()
		return s.resetErr
	}

	s.dataReceived = true
	s.recvWindow -= int64(len(payload))
	s.recvBuf = append(s.recvBuf, payload...)
	if endStream {
		s.finished = true
		s.transition(nextStateOnRecvEndStream(s.state))
	}
	s.cond.Broadcast()
	return nil
}

// DeliverHeaders records that response (or trailer) headers have arrived.
// A HEADERS block received after DATA has already started flowing is
// trailers (RFC 7540 §8.1); anything before that queues as a response
// header block, since a server may send one or more 1xx informational
// responses ahead of the final one.
func (s *Stream) DeliverHeaders(fields []hpack.HeaderField, endStream bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dataReceived {
		s.trailers = fields
		s.hasTrailers = true
	} else {
		s.headerBlocks = append(s.headerBlocks, fields)
	}
	s.headersReceived = true
	if endStream {
		s.finished = true
		s.transition(nextStateOnRecvEndStream(s.state))
	}
	s.cond.Broadcast()
}

func nextStateOnRecvEndStream(from State) State {
	switch from {
	case StateOpen:
		return StateHalfClosedRemote
	case StateHalfClosedLocal:
		return StateClosed
	default:
		return from
	}
}

func nextStateOnSendEndStream(from State) State {
	switch from {
	case StateOpen:
		return StateHalfClosedLocal
	case StateHalfClosedRemote:
		return StateClosed
	default:
		return from
	}
}

// ReadAtMost blocks until at least one byte is available, the stream
// finishes (returns io.EOF), or the stream is reset (returns the recorded
// error). It credits the consumed bytes toward a WINDOW_UPDATE once half
// the local initial window has gone unacknowledged, per SPEC_FULL §4.3.
func (s *Stream) ReadAtMost(dst []byte) (int, error) {
	s.mu.Lock()
	for len(s.recvBuf) == 0 && !s.finished && s.resetErr == nil {
		s.cond.Wait()
	}
	if len(s.recvBuf) == 0 {
		if s.resetErr != nil {
			err := s.resetErr
			s.mu.Unlock()
			return 0, err
		}
		s.mu.Unlock()
		return 0, io.EOF
	}
	n := copy(dst, s.recvBuf)
	s.recvBuf = s.recvBuf[n:]
	s.recvWindow += int64(n)
	s.unackedRecv += int64(n)
	credit := int64(0)
	if s.unackedRecv >= s.localInitialWindow/2 {
		credit = s.unackedRecv
		s.unackedRecv = 0
	}
	sink := s.sink
	id := s.ID
	s.mu.Unlock()

	if credit > 0 && sink != nil {
		_ = sink.SendWindowUpdate(id, uint32(credit))
	}
	return n, nil
}

// NextHeaderBlock blocks until another queued non-trailer HEADERS block is
// available (a 1xx informational response, or the final response headers)
// and pops it. Returns io.EOF if the stream finished without ever sending
// one, or the recorded reset error if it was reset first.
func (s *Stream) NextHeaderBlock() ([]hpack.HeaderField, error) {
	s.mu.Lock()
	for len(s.headerBlocks) == 0 && s.resetErr == nil && !s.finished {
		s.cond.Wait()
	}
	if len(s.headerBlocks) == 0 {
		err := s.resetErr
		if err == nil {
			err = io.EOF
		}
		s.mu.Unlock()
		return nil, err
	}
	fields := s.headerBlocks[0]
	s.headerBlocks = s.headerBlocks[1:]
	s.mu.Unlock()
	return fields, nil
}

// Trailers returns trailers delivered after END_STREAM, if any.
func (s *Stream) Trailers() ([]hpack.HeaderField, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trailers, s.hasTrailers
}

// HeadersReceived reports whether response headers have arrived.
func (s *Stream) HeadersReceived() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headersReceived
}

// Write appends p to the stream, flushing whole batches to the connection
// as the send window allows. It blocks while both the stream-level and
// connection-level send windows are exhausted, waking on WINDOW_UPDATE.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.sendBuf = append(s.sendBuf, p...)
	s.mu.Unlock()

	return len(p), s.flush(false)
}

// flush drains sendBuf to the wire in SETTINGS_MAX_FRAME_SIZE-bounded
// chunks, blocking on the stream's send window as needed. endStream marks
// the final chunk with END_STREAM.
func (s *Stream) flush(endStream bool) error {
	for {
		s.mu.Lock()
		for len(s.sendBuf) < constants.StreamWriteBatchSize && !endStream {
			s.mu.Unlock()
			return nil
		}
		for s.sendWindow <= 0 && s.resetErr == nil && s.state != StateClosed {
			s.cond.Wait()
		}
		if s.resetErr != nil {
			err := s.resetErr
			s.mu.Unlock()
			return err
		}
		if len(s.sendBuf) == 0 {
			s.mu.Unlock()
			if endStream {
				return s.sendEndStream()
			}
			return nil
		}
		n := len(s.sendBuf)
		if int64(n) > s.sendWindow {
			n = int(s.sendWindow)
		}
		chunk := s.sendBuf[:n]
		last := endStream && n == len(s.sendBuf)
		sink := s.sink
		id := s.ID
		s.mu.Unlock()

		written, err := sink.SendData(id, chunk, last)
		if err != nil {
			return err
		}

		s.mu.Lock()
		s.sendBuf = s.sendBuf[written:]
		s.sendWindow -= int64(written)
		if last {
			s.transition(nextStateOnSendEndStream(s.state))
		}
		s.mu.Unlock()

		if last {
			return nil
		}
	}
}

func (s *Stream) sendEndStream() error {
	_, err := s.sink.SendData(s.ID, nil, true)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.transition(nextStateOnSendEndStream(s.state))
	s.mu.Unlock()
	return nil
}

// SetTrailers enqueues trailers to be sent as the final HEADERS frame when
// Close runs.
func (s *Stream) SetTrailers(fields []hpack.HeaderField) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trailers = fields
	s.hasTrailers = true
}

// CloseWrite flushes any buffered bytes and closes the send side: trailers
// if enqueued, otherwise a DATA frame with END_STREAM.
func (s *Stream) CloseWrite() error {
	s.mu.Lock()
	trailers, hasTrailers := s.trailers, s.hasTrailers
	s.mu.Unlock()

	if hasTrailers {
		if err := s.flush(false); err != nil {
			return err
		}
		if err := s.sink.SendTrailers(s.ID, trailers); err != nil {
			return err
		}
		s.mu.Lock()
		s.transition(nextStateOnSendEndStream(s.state))
		s.mu.Unlock()
		return nil
	}
	return s.flush(true)
}

// Close tears the stream down with an RST_STREAM carrying errCode, per
// SPEC_FULL §4.3: already-closed is a no-op, and a caller that closes
// before the response finished reading still returns its unread receive
// window to the connection (the caller, typically h2conn, is responsible
// for crediting that back).
func (s *Stream) Close(errCode uint32, cause error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if cause == nil {
		cause = errors.NewStreamResetError(s.ID, errCode, nil)
	}
	s.resetErr = cause
	s.transition(StateClosed)
	s.cond.Broadcast()
	sink := s.sink
	id := s.ID
	s.mu.Unlock()

	if sink != nil {
		return sink.SendReset(id, errCode)
	}
	return nil
}

// RecordReset marks the stream reset by a peer RST_STREAM frame, without
// emitting one of our own.
func (s *Stream) RecordReset(errCode uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.resetErr = errors.NewStreamResetError(s.ID, errCode, nil)
	s.finished = true
	s.transition(StateClosed)
	s.cond.Broadcast()
}

// ApplyWindowUpdate credits increment to the stream's send window and wakes
// any writer blocked on exhaustion. Overflow past 2^31-1 is a connection
// error per RFC 7540 §6.9.1, surfaced to the caller (h2conn) to act on.
func (s *Stream) ApplyWindowUpdate(increment uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.sendWindow + int64(increment)
	if next > constants.MaxStreamID {
		return errors.NewProtocolError("window update overflow", nil)
	}
	s.sendWindow = next
	s.cond.Broadcast()
	return nil
}

// SetPeerInitialWindow adjusts sendWindow by the delta between an updated
// SETTINGS_INITIAL_WINDOW_SIZE and the previous value, per RFC 7540 §6.9.2.
func (s *Stream) SetPeerInitialWindow(delta int64) {
	s.mu.Lock()
	s.sendWindow += delta
	s.cond.Broadcast()
	s.mu.Unlock()
}
