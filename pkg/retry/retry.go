// Package retry implements the connectivity-retry and status-driven
// follow-up decision table (SPEC_FULL §4.9). Grounded in the teacher's
// pkg/errors classification helpers (IsRecoverable/IsTimeoutError/
// IsTemporaryError/GetErrorType), extended with the trust-failure kind
// excluded from the recoverable set. Implemented as a plain switch over
// status code and error kind, matching the teacher's own preference for
// explicit branching (isConnectionSpecificHeader, isValidStateTransition in
// pkg/h2stream) over table-driven dispatch through reflection or generic
// retry middleware.
package retry

import (
	"net/http"
	"strconv"

	"github.com/nexthttp/h2engine/pkg/errors"
)

// BodyReplayability describes whether a failed request's body can be resent.
type BodyReplayability int

const (
	// BodyAbsent means the request had no body at all.
	BodyAbsent BodyReplayability = iota
	// BodyNotYetSent means the body exists but transmission had not started.
	BodyNotYetSent
	// BodyReplayable means the body is buffered/seekable and can be resent
	// from the start even after partial transmission.
	BodyReplayable
	// BodyOneShot means the body is a streaming, non-seekable source that
	// cannot be resent once any of it has been written.
	BodyOneShot
)

// ConnectivityDecision is the outcome of evaluating a transport-level
// failure (a failure before or during writing/reading, not a status code).
type ConnectivityDecision struct {
	Retry bool
	Why   string
}

// EvaluateConnectivityFailure decides whether to retry a request that
// failed before a status line was ever read.
func EvaluateConnectivityFailure(retriesEnabled bool, body BodyReplayability, err error, untriedRoutesRemain bool) ConnectivityDecision {
	if !retriesEnabled {
		return ConnectivityDecision{false, "retries disabled"}
	}
	if body == BodyOneShot {
		return ConnectivityDecision{false, "request body already partially sent and not replayable"}
	}
	if !errors.IsRecoverable(err) {
		return ConnectivityDecision{false, "error class " + string(errors.GetErrorType(err)) + " is not recoverable"}
	}
	if !untriedRoutesRemain {
		return ConnectivityDecision{false, "no untried routes remain"}
	}
	return ConnectivityDecision{true, "recoverable error with an untried route available"}
}

// Action is what the follow-up policy tells the call layer to do next.
type Action int

const (
	// ActionNone means: return this response to the caller as-is.
	ActionNone Action = iota
	// ActionRedirect means: reissue the request at the Location URL.
	ActionRedirect
	// ActionAuthenticate means: invoke the authenticator and, if it produces
	// credentials, reissue with Authorization.
	ActionAuthenticate
	// ActionProxyAuthenticate is the 407 analogue of ActionAuthenticate.
	ActionProxyAuthenticate
	// ActionRetrySameRoute means: reissue the same request on a fresh
	// connection (408/503 cases).
	ActionRetrySameRoute
	// ActionEvictAndRetry means: evict the coalesced connection and retry
	// once on a fresh one (421).
	ActionEvictAndRetry
)

// FollowUp is the decision for a given response.
type FollowUp struct {
	Action      Action
	RedirectURL string // set only for ActionRedirect
	CoerceToGet bool   // 303: drop body, switch method to GET
}

// FollowUpState tracks the per-call counters the policy needs across
// repeated follow-ups of the same original call.
type FollowUpState struct {
	RedirectCount int
	Evicted421    bool
}

const maxRedirects = 20

// Decide implements the status-code decision table from SPEC_FULL §4.9.
// resp.Request is the request that produced resp; state carries the per-call
// redirect and 421 counters and is updated in place; opts holds the per-call
// policy flags, including whether the request body can be replayed.
func Decide(resp *http.Response, state *FollowUpState, opts Options) FollowUp {
	switch {
	case isRedirectStatus(resp.StatusCode):
		return decideRedirect(resp, state, opts)
	case resp.StatusCode == http.StatusUnauthorized:
		if opts.HasAuthenticator {
			return FollowUp{Action: ActionAuthenticate}
		}
	case resp.StatusCode == http.StatusProxyAuthRequired:
		if opts.HasProxyAuthenticator {
			return FollowUp{Action: ActionProxyAuthenticate}
		}
	case resp.StatusCode == http.StatusRequestTimeout:
		if resp.Header.Get("Connection") != "close" && opts.BodyReplayable {
			return FollowUp{Action: ActionRetrySameRoute}
		}
	case resp.StatusCode == http.StatusMisdirectedRequest:
		if !state.Evicted421 {
			state.Evicted421 = true
			return FollowUp{Action: ActionEvictAndRetry}
		}
	case resp.StatusCode == http.StatusServiceUnavailable:
		if isRetryAfterZero(resp) {
			return FollowUp{Action: ActionRetrySameRoute}
		}
	}
	return FollowUp{Action: ActionNone}
}

func isRedirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

func decideRedirect(resp *http.Response, state *FollowUpState, opts Options) FollowUp {
	if !opts.RedirectsEnabled {
		return FollowUp{Action: ActionNone}
	}
	if state.RedirectCount >= maxRedirects {
		return FollowUp{Action: ActionNone}
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return FollowUp{Action: ActionNone}
	}
	target, err := resp.Request.URL.Parse(location)
	if err != nil {
		return FollowUp{Action: ActionNone}
	}
	if target.Scheme != resp.Request.URL.Scheme && !opts.AllowTLSDowngradeRedirect {
		return FollowUp{Action: ActionNone}
	}
	state.RedirectCount++
	return FollowUp{
		Action:      ActionRedirect,
		RedirectURL: target.String(),
		CoerceToGet: resp.StatusCode == http.StatusSeeOther,
	}
}

func isRetryAfterZero(resp *http.Response) bool {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return false
	}
	secs, err := strconv.Atoi(v)
	return err == nil && secs == 0
}

// Options carries the per-call policy configuration Decide needs.
type Options struct {
	RedirectsEnabled          bool
	AllowTLSDowngradeRedirect bool
	HasAuthenticator          bool
	HasProxyAuthenticator     bool
	BodyReplayable            bool
}
