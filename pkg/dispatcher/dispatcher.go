// Package dispatcher implements bounded concurrent execution of asynchronous
// calls with a global cap and a per-host cap (SPEC_FULL §4.8). Grounded
// analogically in the teacher's pkg/transport.Transport shutdown idiom
// (stopChan + sync.WaitGroup, Close() draining via wg.Wait()), generalized
// from "one background goroutine" into a bounded worker pool built on
// golang.org/x/sync/errgroup, with the three named lists kept as plain
// mutex-guarded slices the way the teacher guards hostPool/Connection state.
package dispatcher

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/nexthttp/h2engine/pkg/call"
)

// ErrShutdown is returned by Enqueue/ExecuteSync once Shutdown has started.
var ErrShutdown = fmt.Errorf("dispatcher: shutting down, no new calls accepted")

// ErrShutdownTimeout is included in Shutdown's returned error when draining
// exceeded the requested timeout and survivors had to be canceled.
var ErrShutdownTimeout = fmt.Errorf("dispatcher: shutdown timed out, canceled remaining calls")

type pendingCall struct {
	call        *call.Call
	host        string
	isWebSocket bool
	callback    func(*http.Response, error)
}

// Config tunes the dispatcher's concurrency limits.
type Config struct {
	MaxRequests        int
	MaxRequestsPerHost int
}

func DefaultConfig() Config {
	return Config{MaxRequests: 64, MaxRequestsPerHost: 5}
}

// Dispatcher runs async calls under global and per-host concurrency caps,
// and tracks sync calls (run on the caller's own goroutine) only so
// CancelAll can reach them.
type Dispatcher struct {
	cfg Config

	mu           sync.Mutex
	runningSync  map[*call.Call]struct{}
	runningAsync []*pendingCall
	readyAsync   []*pendingCall
	shuttingDown bool

	group *errgroup.Group

	errMu sync.Mutex
	errs  []error
}

func New(cfg Config) *Dispatcher {
	g, _ := errgroup.WithContext(context.Background())
	return &Dispatcher{
		cfg:         cfg,
		runningSync: make(map[*call.Call]struct{}),
		group:       g,
	}
}

// ExecuteSync runs c on the calling goroutine, tracked only so CancelAll can
// reach it; sync calls are not subject to the concurrency caps, matching
// OkHttp's own dispatcher semantics (a caller blocking on its own goroutine
// is already self-throttling).
func (d *Dispatcher) ExecuteSync(c *call.Call) (*http.Response, error) {
	d.mu.Lock()
	if d.shuttingDown {
		d.mu.Unlock()
		return nil, ErrShutdown
	}
	d.runningSync[c] = struct{}{}
	d.mu.Unlock()

	resp, err := c.Execute()

	d.mu.Lock()
	delete(d.runningSync, c)
	d.mu.Unlock()
	return resp, err
}

// Enqueue queues c for asynchronous execution under the dispatcher's caps.
// host is the call's target host, used for the per-host cap; isWebSocket
// calls are exempt from that cap per SPEC_FULL §4.8.
func (d *Dispatcher) Enqueue(c *call.Call, host string, isWebSocket bool, callback func(*http.Response, error)) {
	d.mu.Lock()
	if d.shuttingDown {
		d.mu.Unlock()
		callback(nil, ErrShutdown)
		return
	}
	d.readyAsync = append(d.readyAsync, &pendingCall{call: c, host: host, isWebSocket: isWebSocket, callback: callback})
	d.mu.Unlock()

	d.promote()
}

// promote moves as many ready calls into running as the caps allow and
// submits each to the worker group.
func (d *Dispatcher) promote() {
	d.mu.Lock()
	var toRun []*pendingCall
	remaining := d.readyAsync[:0]
	for _, pc := range d.readyAsync {
		if len(d.runningAsync)+len(toRun) >= d.cfg.MaxRequests {
			remaining = append(remaining, pc)
			continue
		}
		if !pc.isWebSocket && d.hostCountLocked(pc.host, toRun) >= d.cfg.MaxRequestsPerHost {
			remaining = append(remaining, pc)
			continue
		}
		toRun = append(toRun, pc)
	}
	d.readyAsync = remaining
	d.runningAsync = append(d.runningAsync, toRun...)
	d.mu.Unlock()

	for _, pc := range toRun {
		pc := pc
		d.group.Go(func() error {
			resp, err := pc.call.Execute()
			if err != nil {
				d.errMu.Lock()
				d.errs = append(d.errs, err)
				d.errMu.Unlock()
			}
			d.finish(pc)
			pc.callback(resp, err)
			return nil // per-call errors surface via callback/Errors, not errgroup cancellation
		})
	}
}

func (d *Dispatcher) hostCountLocked(host string, extra []*pendingCall) int {
	n := 0
	for _, pc := range d.runningAsync {
		if !pc.isWebSocket && pc.host == host {
			n++
		}
	}
	for _, pc := range extra {
		if !pc.isWebSocket && pc.host == host {
			n++
		}
	}
	return n
}

func (d *Dispatcher) finish(pc *pendingCall) {
	d.mu.Lock()
	for i, r := range d.runningAsync {
		if r == pc {
			d.runningAsync = append(d.runningAsync[:i], d.runningAsync[i+1:]...)
			break
		}
	}
	d.mu.Unlock()
	d.promote()
}

// Shutdown refuses new submissions, waits up to timeout for everything in
// flight (running and queued) to finish, then cancels survivors. A zero
// timeout waits without limit.
func (d *Dispatcher) Shutdown(timeout time.Duration) error {
	d.mu.Lock()
	d.shuttingDown = true
	d.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- d.group.Wait() }()

	var expired <-chan time.Time
	if timeout > 0 {
		expired = time.After(timeout)
	}
	select {
	case err := <-done:
		d.errMu.Lock()
		agg := multierr.Combine(append([]error{err}, d.errs...)...)
		d.errMu.Unlock()
		return agg
	case <-expired:
		d.CancelAll()
		<-done
		d.errMu.Lock()
		agg := multierr.Append(ErrShutdownTimeout, multierr.Combine(d.errs...))
		d.errMu.Unlock()
		return agg
	}
}

// CancelAll cancels every running and queued call immediately.
func (d *Dispatcher) CancelAll() {
	d.mu.Lock()
	calls := make([]*call.Call, 0, len(d.runningSync)+len(d.runningAsync)+len(d.readyAsync))
	for c := range d.runningSync {
		calls = append(calls, c)
	}
	for _, pc := range d.runningAsync {
		calls = append(calls, pc.call)
	}
	for _, pc := range d.readyAsync {
		calls = append(calls, pc.call)
	}
	d.readyAsync = nil
	d.mu.Unlock()

	for _, c := range calls {
		c.Cancel()
	}
}

// Stats reports current queue depths, for diagnostics.
type Stats struct {
	RunningSync  int
	RunningAsync int
	ReadyAsync   int
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{RunningSync: len(d.runningSync), RunningAsync: len(d.runningAsync), ReadyAsync: len(d.readyAsync)}
}
