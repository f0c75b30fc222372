package call

import (
	"fmt"
	"net/http"

	"github.com/nexthttp/h2engine/pkg/pool"
	"github.com/nexthttp/h2engine/pkg/retry"
)

// Authenticator produces credentials for a 401/407 challenge. ok is false
// when it has nothing to offer (e.g. already tried once for this request).
type Authenticator func(resp *http.Response) (header http.Header, ok bool)

// RetryFollowUpInterceptor drives the follow-up decision table (C9) around
// the remainder of the chain: connectivity failures are retried on a fresh
// route, redirect/auth/408/421/503 responses are turned into a new request
// run back through the same remaining stages. No teacher example has a
// retry stage (the teacher is one-shot); grounded analogically in its
// Sender.Do error classification, generalized from a single attempt into a
// bounded loop around chain.Proceed.
type RetryFollowUpInterceptor struct {
	Pool               *pool.Pool
	RetriesEnabled     bool
	RedirectsEnabled   bool
	AllowTLSDowngrade  bool
	Authenticator      Authenticator
	ProxyAuthenticator Authenticator
}

func NewRetryFollowUpInterceptor(p *pool.Pool) *RetryFollowUpInterceptor {
	return &RetryFollowUpInterceptor{Pool: p, RetriesEnabled: true, RedirectsEnabled: true}
}

func (ri *RetryFollowUpInterceptor) Intercept(chain *Chain) (*http.Response, error) {
	call := chain.Call()
	remaining := chain.interceptors[chain.index:]
	req := chain.Request()
	state := &retry.FollowUpState{}

	for {
		resp, err := runRemaining(call, remaining, req)
		if err != nil {
			if call.IsCanceled() {
				return nil, err
			}
			d := retry.EvaluateConnectivityFailure(ri.RetriesEnabled, bodyReplayability(req), err, true)
			if !d.Retry {
				return nil, err
			}
			req, err = resetBody(req)
			if err != nil {
				return nil, err
			}
			continue
		}

		fu := retry.Decide(resp, state, retry.Options{
			RedirectsEnabled:          ri.RedirectsEnabled,
			AllowTLSDowngradeRedirect: ri.AllowTLSDowngrade,
			HasAuthenticator:          ri.Authenticator != nil,
			HasProxyAuthenticator:     ri.ProxyAuthenticator != nil,
			BodyReplayable:            bodyReplayability(req) != retry.BodyOneShot,
		})

		switch fu.Action {
		case retry.ActionNone:
			return resp, nil

		case retry.ActionRedirect:
			resp.Body.Close()
			next, err := redirectRequest(req, fu)
			if err != nil {
				return resp, nil
			}
			req = next

		case retry.ActionAuthenticate:
			resp.Body.Close()
			h, ok := ri.Authenticator(resp)
			if !ok {
				return resp, nil
			}
			req = applyHeader(req, h)

		case retry.ActionProxyAuthenticate:
			resp.Body.Close()
			h, ok := ri.ProxyAuthenticator(resp)
			if !ok {
				return resp, nil
			}
			req = applyHeader(req, h)

		case retry.ActionRetrySameRoute:
			resp.Body.Close()
			req, err = resetBody(req)
			if err != nil {
				return resp, nil
			}

		case retry.ActionEvictAndRetry:
			resp.Body.Close()
			if ri.Pool != nil {
				if target, terr := targetFromRequest(req); terr == nil {
					ri.Pool.EvictTarget(target)
				}
			}
			req, err = resetBody(req)
			if err != nil {
				return resp, nil
			}

		default:
			return resp, nil
		}
	}
}

func runRemaining(call *Call, interceptors []Interceptor, req *http.Request) (*http.Response, error) {
	c := &Chain{call: call, interceptors: interceptors, index: 0, request: req}
	return c.Proceed(req)
}

func bodyReplayability(req *http.Request) retry.BodyReplayability {
	if req.Body == nil || req.Body == http.NoBody {
		return retry.BodyAbsent
	}
	if req.GetBody != nil {
		return retry.BodyReplayable
	}
	return retry.BodyOneShot
}

func resetBody(req *http.Request) (*http.Request, error) {
	r2 := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		r2.Body = body
	}
	return r2, nil
}

func redirectRequest(req *http.Request, fu retry.FollowUp) (*http.Request, error) {
	target, err := req.URL.Parse(fu.RedirectURL)
	if err != nil {
		return nil, err
	}
	r2 := req.Clone(req.Context())
	r2.URL = target
	r2.Host = ""
	if fu.CoerceToGet {
		r2.Method = http.MethodGet
		r2.Body = nil
		r2.GetBody = nil
		r2.ContentLength = 0
		r2.Header.Del("Content-Length")
		r2.Header.Del("Content-Type")
	} else if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		r2.Body = body
	} else if req.Body != nil {
		return nil, fmt.Errorf("call: request body is not replayable for redirect")
	}
	if target.Host != req.URL.Host {
		r2.Header.Del("Authorization")
		r2.Header.Del("Cookie")
	}
	return r2, nil
}

func applyHeader(req *http.Request, h http.Header) *http.Request {
	r2 := req.Clone(req.Context())
	for name, vals := range h {
		r2.Header[name] = vals
	}
	return r2
}
