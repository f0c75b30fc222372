// Package cachepolicy computes RFC 7234 freshness/staleness for a cached
// response against the current request, following the Cache-Control
// precedence rules the httpcache reference grounds this on: response
// max-age overrides Expires even when Expires is more restrictive; request
// max-age, min-fresh and max-stale further adjust the comparison.
package cachepolicy

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Freshness is the tri-state result of evaluating a cached response.
type Freshness int

const (
	// Fresh means the cached response may be served without talking to the
	// origin.
	Fresh Freshness = iota
	// Stale means a conditional (or plain) network request is needed.
	Stale
	// Transparent means the request's own Cache-Control (no-cache) forbids
	// serving anything but a fresh network round trip.
	Transparent
)

// Directives is a parsed Cache-Control header.
type Directives map[string]string

func ParseCacheControl(h http.Header) Directives {
	d := Directives{}
	for _, part := range strings.Split(h.Get("Cache-Control"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.IndexByte(part, '='); i >= 0 {
			d[strings.TrimSpace(part[:i])] = strings.Trim(part[i+1:], `" `)
		} else {
			d[part] = ""
		}
	}
	return d
}

func (d Directives) has(name string) bool { _, ok := d[name]; return ok }

// Has reports whether the directive name is present, regardless of value.
func (d Directives) Has(name string) bool { return d.has(name) }

func parseSeconds(v string) (time.Duration, bool) {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// Clock lets tests substitute a fixed "now"; nil uses time.Now.
type Clock func() time.Time

// Evaluate decides whether respHeaders (received at respTime, with
// lastModified when present for the heuristic lifetime) is still usable for
// reqHeaders as of now.
func Evaluate(reqHeaders, respHeaders http.Header, respTime time.Time, now time.Time) Freshness {
	reqCC := ParseCacheControl(reqHeaders)
	respCC := ParseCacheControl(respHeaders)

	if reqCC.has("no-cache") {
		return Transparent
	}
	if respCC.has("no-cache") {
		return Stale
	}
	if respCC.has("immutable") {
		return Fresh
	}

	dateHeader := respHeaders.Get("Date")
	date := respTime
	if dateHeader != "" {
		if d, err := http.ParseTime(dateHeader); err == nil {
			date = d
		}
	}
	currentAge := now.Sub(date)
	if ageHeader := respHeaders.Get("Age"); ageHeader != "" {
		if secs, ok := parseSeconds(ageHeader); ok && secs > currentAge {
			currentAge = secs
		}
	}

	var lifetime time.Duration
	if maxAge, ok := respCC["max-age"]; ok {
		lifetime, _ = parseSeconds(maxAge)
	} else if expiresHeader := respHeaders.Get("Expires"); expiresHeader != "" {
		if expires, err := http.ParseTime(expiresHeader); err == nil {
			lifetime = expires.Sub(date)
		}
	} else if lastModified := respHeaders.Get("Last-Modified"); lastModified != "" {
		// heuristic: 10% of the time since Last-Modified, per SPEC_FULL §4.11.
		if lm, err := http.ParseTime(lastModified); err == nil && date.After(lm) {
			lifetime = date.Sub(lm) / 10
		}
	}

	if maxAge, ok := reqCC["max-age"]; ok {
		if d, ok := parseSeconds(maxAge); ok {
			lifetime = d
		}
	}
	if minFresh, ok := reqCC["min-fresh"]; ok {
		if d, ok := parseSeconds(minFresh); ok {
			currentAge += d
		}
	}
	if maxStale, ok := reqCC["max-stale"]; ok {
		if maxStale == "" {
			return Fresh
		}
		if d, ok := parseSeconds(maxStale); ok {
			currentAge -= d
		}
	}

	if lifetime > currentAge {
		return Fresh
	}
	return Stale
}

// HasValidators reports whether respHeaders carries a conditional-request
// validator a Stale lookup can use to build a revalidation request.
func HasValidators(respHeaders http.Header) bool {
	return respHeaders.Get("ETag") != "" || respHeaders.Get("Last-Modified") != ""
}

// ConditionalHeaders builds the If-None-Match/If-Modified-Since pair for
// revalidating a stale cached response.
func ConditionalHeaders(respHeaders http.Header) http.Header {
	h := http.Header{}
	if etag := respHeaders.Get("ETag"); etag != "" {
		h.Set("If-None-Match", etag)
	}
	if lm := respHeaders.Get("Last-Modified"); lm != "" {
		h.Set("If-Modified-Since", lm)
	}
	return h
}

// VaryStar reports whether the response declares itself uncacheable via
// "Vary: *".
func VaryStar(respHeaders http.Header) bool {
	for _, v := range respHeaders.Values("Vary") {
		for _, name := range strings.Split(v, ",") {
			if strings.TrimSpace(name) == "*" {
				return true
			}
		}
	}
	return false
}

// NoStore reports whether either side's Cache-Control forbids storage.
func NoStore(reqHeaders, respHeaders http.Header) bool {
	return ParseCacheControl(reqHeaders).has("no-store") || ParseCacheControl(respHeaders).has("no-store")
}

var cacheableStatus = map[int]bool{
	http.StatusOK:                   true,
	http.StatusNonAuthoritativeInfo: true,
	http.StatusNoContent:            true,
	http.StatusMultipleChoices:      true,
	http.StatusMovedPermanently:     true,
	http.StatusNotFound:             true,
	http.StatusGone:                 true,
}

// CanStore reports whether a response with the given status and headers is
// eligible for storage at all (the Vary/GET/QUERY-override eligibility in
// SPEC_FULL §4.10 is layered on top of this by pkg/cache).
func CanStore(statusCode int, reqHeaders, respHeaders http.Header) bool {
	if !cacheableStatus[statusCode] {
		return false
	}
	if VaryStar(respHeaders) {
		return false
	}
	return !NoStore(reqHeaders, respHeaders)
}

// VariedHeaderNames returns the header names the response's Vary lists.
func VariedHeaderNames(respHeaders http.Header) []string {
	var names []string
	for _, v := range respHeaders.Values("Vary") {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name != "" && name != "*" {
				names = append(names, http.CanonicalHeaderKey(name))
			}
		}
	}
	return names
}
