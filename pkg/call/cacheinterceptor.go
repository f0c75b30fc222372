package call

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/nexthttp/h2engine/pkg/cache"
	"github.com/nexthttp/h2engine/pkg/cachepolicy"
)

// CacheInterceptor implements the RFC 7234 decision point of SPEC_FULL
// §4.10/§4.11: serve a Fresh hit without touching the network, revalidate a
// Stale hit with conditional headers, and store a cacheable network response
// for next time. No teacher example has a cache stage; this is new,
// composing C10/C11 the way cozy-httpcache's own http.RoundTripper wrapper
// does (consult cache, maybe revalidate, maybe store), now as one stage in
// an interceptor chain instead of a whole RoundTripper.
type CacheInterceptor struct {
	Cache *cache.Cache
}

func NewCacheInterceptor(c *cache.Cache) *CacheInterceptor { return &CacheInterceptor{Cache: c} }

func (ci *CacheInterceptor) Intercept(chain *Chain) (*http.Response, error) {
	req := chain.Request()
	if ci.Cache == nil || !cacheableMethod(req.Method) {
		return chain.Proceed(req)
	}

	key := cache.Key(req.Method, req.URL.String(), "")
	entry, hit := ci.Cache.Lookup(key, req.Header)

	revalidating := false
	if hit {
		switch cachepolicy.Evaluate(req.Header, entry.Headers, entry.ResponseTime, time.Now()) {
		case cachepolicy.Fresh:
			ci.Cache.RecordHit()
			return ci.serve(key, entry), nil
		case cachepolicy.Stale:
			if cachepolicy.HasValidators(entry.Headers) {
				cond := cachepolicy.ConditionalHeaders(entry.Headers)
				req = req.Clone(req.Context())
				for name, vals := range cond {
					req.Header[name] = vals
				}
				revalidating = true
			}
		case cachepolicy.Transparent:
		}
	}

	// only-if-cached forbids the network outright; a miss or a stale entry
	// (even one we could otherwise revalidate) is unsatisfiable, per
	// SPEC_FULL §4.11's first bullet.
	if cachepolicy.ParseCacheControl(req.Header).Has("only-if-cached") {
		return unsatisfiableResponse(chain.Request()), nil
	}

	resp, err := chain.Proceed(req)
	if err != nil {
		return nil, err
	}
	ci.Cache.RecordNetwork()

	if revalidating && resp.StatusCode == http.StatusNotModified {
		ci.Cache.RecordHit()
		resp.Body.Close()
		merged := mergeNotModifiedHeaders(entry.Headers, resp.Header)
		w, err := ci.Cache.BeginWrite(key, req.Method, req.URL.String(), req.Header, entry.StatusCode, merged, entry.RequestTime, time.Now())
		if err == nil {
			body, berr := ci.Cache.OpenBody(key)
			if berr == nil {
				io.Copy(w, body)
				body.Close()
			}
			w.Commit()
		}
		served := ci.serve(key, entry)
		served.Header = merged
		return served, nil
	}

	if cachepolicy.CanStore(resp.StatusCode, req.Header, resp.Header) {
		w, err := ci.Cache.BeginWrite(key, req.Method, req.URL.String(), req.Header, resp.StatusCode, resp.Header, time.Now(), time.Now())
		if err == cache.ErrWriteInFlight {
			return resp, nil
		}
		if err != nil {
			return resp, nil
		}
		resp.Body = &cachingBody{underlying: resp.Body, w: w}
	}
	return resp, nil
}

func cacheableMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead
}

// unsatisfiableResponse synthesizes the 504 SPEC_FULL §4.11 requires when
// only-if-cached rules out the network and no fresh cached response exists,
// grounded on cozy-httpcache's newGatewayTimeoutResponse.
func unsatisfiableResponse(req *http.Request) *http.Response {
	return &http.Response{
		Status:     "504 Gateway Timeout",
		StatusCode: http.StatusGatewayTimeout,
		Proto:      "HTTP/2",
		Header:     http.Header{},
		Body:       http.NoBody,
		Request:    req,
	}
}

func (ci *CacheInterceptor) serve(key string, entry *cache.Entry) *http.Response {
	body, err := ci.Cache.OpenBody(key)
	if err != nil {
		body = io.NopCloser(bytes.NewReader(nil))
	}
	return &http.Response{
		Status:        http.StatusText(entry.StatusCode),
		StatusCode:    entry.StatusCode,
		Proto:         "HTTP/2",
		Header:        entry.Headers.Clone(),
		ContentLength: entry.BodySize,
		Body:          body,
	}
}

func mergeNotModifiedHeaders(stored, fresh http.Header) http.Header {
	merged := stored.Clone()
	for name, vals := range fresh {
		if name == "Content-Length" {
			continue
		}
		merged[name] = vals
	}
	return merged
}

// cachingBody tees the response body into the cache writer as the caller
// reads it, committing on a clean EOF and aborting on any error or early
// close, matching the teacher's all-or-nothing buffer.Buffer commit style
// applied per read instead of per whole-body copy.
type cachingBody struct {
	underlying io.ReadCloser
	w          *cache.Writer
	done       bool
}

func (b *cachingBody) Read(p []byte) (int, error) {
	n, err := b.underlying.Read(p)
	if n > 0 {
		if _, werr := b.w.Write(p[:n]); werr != nil && !b.done {
			b.done = true
			b.w.Abort()
		}
	}
	if err == io.EOF && !b.done {
		b.done = true
		b.w.Commit()
	}
	return n, err
}

func (b *cachingBody) Close() error {
	if !b.done {
		b.done = true
		b.w.Abort()
	}
	return b.underlying.Close()
}
