package h2stream

import (
	"sync"

	"github.com/nexthttp/h2engine/pkg/constants"
	"github.com/nexthttp/h2engine/pkg/errors"
)

// Manager is the per-connection stream registry: id allocation, the
// concurrency cap negotiated via SETTINGS_MAX_CONCURRENT_STREAMS, and
// bulk operations (SETTINGS-driven window changes, GOAWAY cleanup) that
// fan out to every live stream.
//
// Grounded in the teacher's StreamManager (pkg/http2/stream.go): the same
// map[uint32]*Stream registry, the same id-exhaustion and concurrency-cap
// checks, generalized to hand out streams that block on flow control
// instead of streams that merely track window counters.
type Manager struct {
	mu                 sync.RWMutex
	streams            map[uint32]*Stream
	nextStreamID       uint32
	maxConcurrent      uint32
	sink               FrameSink
	localInitialWindow int64
	peerInitialWindow  int64
	goAway             bool
}

// NewManager returns a Manager for a freshly established connection.
// Client-initiated stream ids start at 3 (SPEC_FULL §4.4: stream 1 is
// reserved for the upgrade-from-HTTP/1.1 case this engine never takes) and
// increment by 2 (RFC 7540 §5.1.1); maxConcurrent is the peer's advertised
// SETTINGS_MAX_CONCURRENT_STREAMS, 0 meaning unbounded.
func NewManager(sink FrameSink, maxConcurrent uint32) *Manager {
	return &Manager{
		streams:            make(map[uint32]*Stream),
		nextStreamID:       3,
		maxConcurrent:      maxConcurrent,
		sink:               sink,
		localInitialWindow: constants.DefaultLocalInitialWindowSize,
		peerInitialWindow:  constants.DefaultLocalInitialWindowSize,
	}
}

// SetMaxConcurrent applies a peer SETTINGS_MAX_CONCURRENT_STREAMS update.
func (m *Manager) SetMaxConcurrent(v uint32) {
	m.mu.Lock()
	m.maxConcurrent = v
	m.mu.Unlock()
}

// SetLocalInitialWindow applies our own outbound SETTINGS_INITIAL_WINDOW_SIZE,
// used only for streams created after the change.
func (m *Manager) SetLocalInitialWindow(v int64) {
	m.mu.Lock()
	m.localInitialWindow = v
	m.mu.Unlock()
}

// CreateStream allocates the next client-initiated stream id and registers
// a new Stream in StateOpen (a client stream is open the moment it sends
// HEADERS; there is no idle-then-open gap worth modeling).
func (m *Manager) CreateStream() (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.goAway {
		return nil, errors.NewConnectionShutdownError("", 0)
	}

	m.cleanupClosedLocked()

	if len(m.streams) >= constants.MaxTotalStreams {
		return nil, errors.NewProtocolError("too many streams tracked on this connection", nil)
	}
	if m.nextStreamID > constants.MaxStreamID {
		return nil, errors.NewProtocolError("stream id space exhausted", nil)
	}
	if m.maxConcurrent > 0 && m.countActiveLocked() >= m.maxConcurrent {
		return nil, errors.NewConnectionShutdownError("", 0)
	}

	id := m.nextStreamID
	m.nextStreamID += 2

	s := newStream(id, m.sink, m.localInitialWindow, m.peerInitialWindow)
	s.state = StateOpen
	m.streams[id] = s
	return s, nil
}

// AdoptPeerStream registers a server-initiated PUSH_PROMISE stream in
// StateReservedRemote. Callers that don't support push should RST_STREAM it
// with REFUSED_STREAM rather than calling this.
func (m *Manager) AdoptPeerStream(id uint32) (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.streams[id]; exists {
		return nil, errors.NewProtocolError("push promise reused an active stream id", nil)
	}
	s := newStream(id, m.sink, m.localInitialWindow, m.peerInitialWindow)
	s.state = StateReservedRemote
	m.streams[id] = s
	return s, nil
}

// GetStream looks up a stream by id.
func (m *Manager) GetStream(id uint32) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[id]
	return s, ok
}

// countActiveLocked counts streams occupying a concurrency slot: open or
// half-closed-local (the teacher's StreamManager counts the same two
// states when enforcing SETTINGS_MAX_CONCURRENT_STREAMS).
func (m *Manager) countActiveLocked() uint32 {
	var n uint32
	for _, s := range m.streams {
		st := s.State()
		if st == StateOpen || st == StateHalfClosedLocal {
			n++
		}
	}
	return n
}

// cleanupClosedLocked drops Closed streams from the registry so the id
// space and constants.MaxTotalStreams cap aren't held hostage by finished requests.
func (m *Manager) cleanupClosedLocked() {
	for id, s := range m.streams {
		if s.State() == StateClosed {
			delete(m.streams, id)
		}
	}
}

// CleanupClosed is the exported, locking form, called periodically by the
// connection engine's maintenance loop.
func (m *Manager) CleanupClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupClosedLocked()
}

// ActiveStreams returns every stream not yet in StateClosed, for GOAWAY
// handling (streams above the peer's last-good-id must be retried
// elsewhere; the rest are allowed to finish).
func (m *Manager) ActiveStreams() []*Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		if s.State() != StateClosed {
			out = append(out, s)
		}
	}
	return out
}

// ApplyPeerInitialWindowChange adjusts every live stream's send window by
// the delta between an updated SETTINGS_INITIAL_WINDOW_SIZE and the
// previous value (RFC 7540 §6.9.2), and remembers the new baseline for
// streams created afterward.
func (m *Manager) ApplyPeerInitialWindowChange(newValue int64) {
	m.mu.Lock()
	delta := newValue - m.peerInitialWindow
	m.peerInitialWindow = newValue
	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.Unlock()

	for _, s := range streams {
		s.SetPeerInitialWindow(delta)
	}
}

// RefuseStreamsAbove handles an inbound GOAWAY(lastGood): it stops
// CreateStream from admitting any further stream (SPEC_FULL §4.4, "attempts
// to open stream 7 fail immediately with connection-shutdown") and resets
// every locally-initiated (odd id) stream above lastGood with
// REFUSED_STREAM, so a caller blocked reading it observes the error instead
// of hanging until an unrelated timeout. Server-initiated push streams
// (even ids) are left to the ordinary GOAWAY/RST_STREAM handling.
func (m *Manager) RefuseStreamsAbove(lastGood uint32) {
	m.mu.Lock()
	m.goAway = true
	m.mu.Unlock()

	for _, s := range m.ActiveStreams() {
		if s.ID%2 == 1 && s.ID > lastGood {
			s.RecordReset(refusedStreamErrCode)
		}
	}
}

// refusedStreamErrCode is RFC 7540 §7's REFUSED_STREAM (0x7), duplicated
// from h2frame.ErrCodeRefusedStream's numeric value rather than imported, so
// h2stream stays free of any h2frame dependency (the reverse import already
// runs the other way, h2conn -> h2stream).
const refusedStreamErrCode uint32 = 0x7

// CloseAll resets every active stream with errCode, used when the
// connection itself is shutting down (GOAWAY sent/received or socket
// error).
func (m *Manager) CloseAll(errCode uint32, cause error) {
	for _, s := range m.ActiveStreams() {
		s.mu.Lock()
		s.closed = true
		s.resetErr = cause
		s.finished = true
		s.transition(StateClosed)
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}
