// Package h2stream implements the per-stream state machine, flow-control
// windows, and blocking read/write buffers described in SPEC_FULL §4.3.
//
// Grounded in the teacher's pkg/http2/stream.go StreamManager/Stream types:
// the id-allocation scheme, the stream-count caps, and the state-transition
// table are carried over close to verbatim. What's new is blocking: the
// teacher's UpdateWindowSize only ever mutated a counter and returned; here
// a writer stalled on an exhausted window actually parks on a sync.Cond
// until a WINDOW_UPDATE (or a reset/close) wakes it.
package h2stream

import "fmt"

// State is a stream's position in the RFC 7540 §5.1 state machine.
type State uint8

const (
	StateIdle State = iota
	StateReservedLocal
	StateReservedRemote
	StateOpen
	StateHalfClosedLocal
	StateHalfClosedRemote
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReservedLocal:
		return "reserved(local)"
	case StateReservedRemote:
		return "reserved(remote)"
	case StateOpen:
		return "open"
	case StateHalfClosedLocal:
		return "half-closed(local)"
	case StateHalfClosedRemote:
		return "half-closed(remote)"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// isValidStateTransition mirrors the teacher's switch of the same name in
// pkg/http2/stream.go, unchanged: idle can open or be reserved by either
// side, a reservation resolves to the complementary half-closed state or is
// cancelled, open streams half-close independently in either direction, and
// every half-closed state can only ever close.
func isValidStateTransition(from, to State) bool {
	switch from {
	case StateIdle:
		switch to {
		case StateReservedLocal, StateReservedRemote, StateOpen, StateClosed:
			return true
		}
	case StateReservedLocal:
		switch to {
		case StateHalfClosedRemote, StateClosed:
			return true
		}
	case StateReservedRemote:
		switch to {
		case StateHalfClosedLocal, StateClosed:
			return true
		}
	case StateOpen:
		switch to {
		case StateHalfClosedLocal, StateHalfClosedRemote, StateClosed:
			return true
		}
	case StateHalfClosedLocal:
		return to == StateClosed
	case StateHalfClosedRemote:
		return to == StateClosed
	case StateClosed:
		return false
	}
	return false
}
