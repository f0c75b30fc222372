// Package call implements the one-shot request/response handle and its
// interceptor chain (SPEC_FULL §4.7). The teacher has no interceptor
// concept — it is a raw single-shot client — so this package is new,
// grounded analogically in the teacher's own fixed pipeline in its
// top-level Sender.Do (protocol detection, options conversion,
// protocol-specific Do, response conversion): that fixed sequence becomes
// this package's terminal stage, with an open, user-extensible ordered
// list of interceptors running ahead of it.
package call

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nexthttp/h2engine/pkg/errors"
	"github.com/nexthttp/h2engine/pkg/timing"
)

// Interceptor observes and may rewrite a request/response pair by either
// returning a response directly or calling chain.Proceed exactly once.
type Interceptor interface {
	Intercept(chain *Chain) (*http.Response, error)
}

// InterceptorFunc adapts a plain function to Interceptor.
type InterceptorFunc func(*Chain) (*http.Response, error)

func (f InterceptorFunc) Intercept(c *Chain) (*http.Response, error) { return f(c) }

// chainReused is panicked when an interceptor calls Proceed twice on the
// same Chain value; Call.run recovers it into a canceled error, per
// SPEC_FULL §4.7 ("a fatal configuration error reported to the caller").
type chainReused struct{ interceptorIndex int }

// Chain hands each interceptor the request as of this point in the chain,
// plus the single Proceed call that advances to the next stage. Modeled
// directly on the teacher's fixed call sequence, generalized into a
// slice-plus-index value so each Proceed produces an immutable successor
// instead of mutating shared state.
type Chain struct {
	call         *Call
	interceptors []Interceptor
	index        int
	request      *http.Request
	proceeded    bool
}

func (c *Chain) Call() *Call           { return c.call }
func (c *Chain) Request() *http.Request { return c.request }

// Proceed invokes the next interceptor in the chain with req. May be called
// at most once per Chain value.
func (c *Chain) Proceed(req *http.Request) (*http.Response, error) {
	if c.proceeded {
		panic(chainReused{interceptorIndex: c.index})
	}
	c.proceeded = true
	if c.index >= len(c.interceptors) {
		return nil, errors.NewValidationError("interceptor chain exhausted without a terminal stage")
	}
	next := &Chain{call: c.call, interceptors: c.interceptors, index: c.index + 1, request: req}
	return c.interceptors[c.index].Intercept(next)
}

// Call is a one-shot, exactly-once-executable request/response handle.
type Call struct {
	id           string
	req          *http.Request
	interceptors []Interceptor
	tags         map[string]interface{}

	executed atomic.Bool
	canceled atomic.Bool

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	onCancel func() // set by the connection stage once an exchange is open

	metricsMu sync.Mutex
	metrics   *timing.Metrics // set by the call-server stage once the exchange completes
}

// New builds a Call for req, running interceptors (user-ordered, followed
// by whatever built-in stages the caller appended) in order.
func New(ctx context.Context, req *http.Request, interceptors []Interceptor, tags map[string]interface{}) *Call {
	cctx, cancel := context.WithCancel(ctx)
	c := &Call{id: uuid.NewString(), req: req, interceptors: interceptors, tags: tags, ctx: cctx, cancel: cancel}
	return c
}

// ID uniquely identifies this call, for log correlation and diagnostics.
func (c *Call) ID() string                 { return c.id }
func (c *Call) Tag(key string) interface{} { return c.tags[key] }
func (c *Call) Context() context.Context   { return c.ctx }

// setOnCancel lets the connection interceptor register how to abort the
// open exchange; called at most once per Call.
func (c *Call) setOnCancel(f func()) {
	c.mu.Lock()
	c.onCancel = f
	c.mu.Unlock()
}

// Execute runs the call synchronously. Exactly-once: a second Execute (or
// an Execute after Enqueue) returns an error instead of running again.
func (c *Call) Execute() (resp *http.Response, err error) {
	if !c.executed.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("call: already executed")
	}
	return c.run()
}

func (c *Call) run() (resp *http.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(chainReused); ok {
				err = errors.NewCanceledError("interceptor chain re-entered")
				return
			}
			panic(r)
		}
	}()
	chain := &Chain{call: c, interceptors: c.interceptors, index: 0, request: c.req}
	return chain.Proceed(c.req)
}

// Enqueue runs the call on its own goroutine and reports the result to cb.
// Exactly-once applies the same as Execute.
func (c *Call) Enqueue(cb func(*http.Response, error)) {
	if !c.executed.CompareAndSwap(false, true) {
		cb(nil, fmt.Errorf("call: already executed"))
		return
	}
	go func() {
		resp, err := c.run()
		cb(resp, err)
	}()
}

// Cancel marks the call canceled, stops its context, and aborts any open
// exchange (best-effort: events already in flight may still be delivered).
func (c *Call) Cancel() {
	if !c.canceled.CompareAndSwap(false, true) {
		return
	}
	c.cancel()
	c.mu.Lock()
	onCancel := c.onCancel
	c.mu.Unlock()
	if onCancel != nil {
		onCancel()
	}
}

func (c *Call) IsCanceled() bool { return c.canceled.Load() }

// recordMetrics stashes the timing for the exchange that produced the final
// response. Called by the call-server stage; a retried call overwrites it
// with the metrics of its last attempt.
func (c *Call) recordMetrics(m timing.Metrics) {
	c.metricsMu.Lock()
	c.metrics = &m
	c.metricsMu.Unlock()
}

// Metrics returns the timing of the exchange that produced the final
// response, or nil if the call hasn't completed an exchange yet.
func (c *Call) Metrics() *timing.Metrics {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	return c.metrics
}

// Clone returns a fresh, not-yet-executed Call carrying the same request
// (cloned so its Header map isn't shared) and tags as this one.
func (c *Call) Clone() *Call {
	return New(context.Background(), cloneRequest(c.req), c.interceptors, c.tags)
}

func cloneRequest(r *http.Request) *http.Request {
	r2 := r.Clone(r.Context())
	return r2
}
