package h2stream

import (
	"sync"
	"time"
)

// DegradedPinger is implemented by the connection engine (C4): firing a
// stream watchdog schedules a degraded ping on top of closing the stream,
// since a single slow stream is sometimes an early sign the whole
// connection has gone bad (SPEC_FULL §4.3, §4.4).
type DegradedPinger interface {
	SendDegradedPing()
}

// Watchdog enforces a per-stream timeout. Arm starts (or restarts) the
// timer and Disarm cancels it. The connection engine arms it once when the
// stream opens, so the timeout bounds the stream's whole lifetime; it is not
// re-armed on read or write progress.
type Watchdog struct {
	stream  *Stream
	timeout time.Duration
	pinger  DegradedPinger

	mu    sync.Mutex
	timer *time.Timer
}

func NewWatchdog(stream *Stream, timeout time.Duration, pinger DegradedPinger) *Watchdog {
	return &Watchdog{stream: stream, timeout: timeout, pinger: pinger}
}

// Arm (re)starts the timer from now, replacing any timer already running.
func (w *Watchdog) Arm() {
	if w.timeout <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.timeout, w.fire)
}

// Disarm cancels the timer, called once the stream finishes or closes.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watchdog) fire() {
	if w.stream.State() == StateClosed {
		return // stream already finished normally between timer fire and this check
	}
	_ = w.stream.Close(uint32(errCodeCancel), nil)
	if w.pinger != nil {
		w.pinger.SendDegradedPing()
	}
}

// errCodeCancel mirrors h2frame.ErrCodeCancel (0x8) without importing
// h2frame, which would create a needless dependency for a single constant.
const errCodeCancel = 0x8
