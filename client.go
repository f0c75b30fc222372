// Package h2engine is a client-side HTTP/1.1 and HTTP/2 engine: its own
// framing, HPACK, and flow control (pkg/h2frame/hpack/h2stream/h2conn), a
// shared connection pool (pkg/pool), an OkHttp-style interceptor chain
// (pkg/call) and a bounded async dispatcher (pkg/dispatcher), an RFC 7234
// response cache (pkg/cache/pkg/cachepolicy) and retry/redirect policy
// (pkg/retry). Client assembles all of these into the single entry point
// most callers need, mirroring the teacher's own top-level Sender.
package h2engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nexthttp/h2engine/internal/telemetry"
	"github.com/nexthttp/h2engine/pkg/call"
	"github.com/nexthttp/h2engine/pkg/cache"
	"github.com/nexthttp/h2engine/pkg/dispatcher"
	"github.com/nexthttp/h2engine/pkg/pool"
)

// Version identifies this engine build.
const Version = "1.0.0"

// Options configures a Client. The zero value is usable: no on-disk cache,
// default pool and dispatcher limits, but retries and redirects disabled;
// DefaultOptions turns both on.
type Options struct {
	Pool       pool.Config
	Dispatcher dispatcher.Config

	// CacheDir, when non-empty, enables the RFC 7234 response cache backed
	// by an on-disk journal rooted there. CacheMaxBytes bounds its size.
	CacheDir      string
	CacheMaxBytes int64

	ApplicationInterceptors []call.Interceptor
	NetworkInterceptors     []call.Interceptor

	RetriesEnabled     bool
	RedirectsEnabled   bool
	AllowTLSDowngrade  bool
	Authenticator      call.Authenticator
	ProxyAuthenticator call.Authenticator

	Debug       bool
	DebugFrames bool
	DebugHPACK  bool
}

// DefaultOptions returns sensible defaults: pooling and dispatching enabled,
// no response cache, retries and redirects on.
func DefaultOptions() Options {
	return Options{
		Pool:             pool.DefaultConfig(),
		Dispatcher:       dispatcher.DefaultConfig(),
		RetriesEnabled:   true,
		RedirectsEnabled: true,
	}
}

// Client is the engine's top-level handle: one connection pool, one
// dispatcher, and an optional shared response cache, wired into a fixed
// call.Config used by every request it issues. Grounded in the teacher's
// Sender (rawhttp.go): a single long-lived object callers build once and
// reuse across many calls.
type Client struct {
	pool       *pool.Pool
	dispatcher *dispatcher.Dispatcher
	cache      *cache.Cache
	callCfg    call.Config
	log        *telemetry.Logger
}

// New builds a Client from opts. Returns an error only if CacheDir is set
// and the on-disk cache journal can't be opened.
func New(opts Options) (*Client, error) {
	log := telemetry.Nop()
	if opts.Debug || opts.DebugFrames || opts.DebugHPACK {
		log = telemetry.New(opts.Debug, opts.DebugFrames, opts.DebugHPACK)
	}

	p := pool.New(opts.Pool, log)

	var c *cache.Cache
	if opts.CacheDir != "" {
		var err error
		c, err = cache.Open(opts.CacheDir, opts.CacheMaxBytes)
		if err != nil {
			return nil, fmt.Errorf("h2engine: opening response cache: %w", err)
		}
	}

	cfg := call.Config{
		Pool:                    p,
		Cache:                   c,
		ApplicationInterceptors: opts.ApplicationInterceptors,
		NetworkInterceptors:     opts.NetworkInterceptors,
		Retry: call.RetryFollowUpInterceptor{
			Pool:               p,
			RetriesEnabled:     opts.RetriesEnabled,
			RedirectsEnabled:   opts.RedirectsEnabled,
			AllowTLSDowngrade:  opts.AllowTLSDowngrade,
			Authenticator:      opts.Authenticator,
			ProxyAuthenticator: opts.ProxyAuthenticator,
		},
	}

	return &Client{
		pool:       p,
		dispatcher: dispatcher.New(opts.Dispatcher),
		cache:      c,
		callCfg:    cfg,
		log:        log,
	}, nil
}

// Do sends req synchronously through the full interceptor chain (retry and
// redirect follow-up, bridging, caching, connection acquisition, and the
// terminal wire exchange) and returns the resulting response.
func (cl *Client) Do(req *http.Request) (*http.Response, error) {
	c := call.NewCall(req.Context(), req, cl.callCfg, nil)
	return cl.dispatcher.ExecuteSync(c)
}

// Get is a convenience wrapper around Do for a GET request.
func (cl *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return cl.Do(req)
}

// Post is a convenience wrapper around Do for a request with a body.
func (cl *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return cl.Do(req)
}

// Enqueue runs req asynchronously under the dispatcher's concurrency caps
// and delivers the result to cb from a background goroutine. The host taken
// from req.URL and isWebSocket determine which cap(s) apply, per SPEC_FULL §4.8.
func (cl *Client) Enqueue(req *http.Request, isWebSocket bool, cb func(*http.Response, error)) {
	c := call.NewCall(req.Context(), req, cl.callCfg, nil)
	cl.dispatcher.Enqueue(c, req.URL.Hostname(), isWebSocket, cb)
}

// PoolStats reports current connection pool occupancy.
func (cl *Client) PoolStats() pool.Stats { return cl.pool.Stats() }

// DispatcherStats reports current queue depths for async calls.
func (cl *Client) DispatcherStats() dispatcher.Stats { return cl.dispatcher.Stats() }

// CacheStats reports response cache occupancy. Returns the zero value if no
// cache is configured.
func (cl *Client) CacheStats() cache.Stats {
	if cl.cache == nil {
		return cache.Stats{}
	}
	return cl.cache.Stats()
}

// Close shuts down the dispatcher (draining in-flight async calls up to
// timeout) and closes the connection pool. Safe to call once.
func (cl *Client) Close(timeout time.Duration) error {
	err := cl.dispatcher.Shutdown(timeout)
	if perr := cl.pool.Close(); perr != nil && err == nil {
		err = perr
	}
	return err
}
