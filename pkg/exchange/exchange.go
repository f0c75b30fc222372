// Package exchange defines the uniform request/response contract the call
// layer (C7) drives regardless of which wire protocol a connection speaks
// (SPEC_FULL §4.5). H2Codec (h2codec.go) and H1Codec (h1codec.go) each implement Codec once,
// the way the teacher's top-level Sender already auto-detects a protocol and
// dispatches between client.Client and http2.Client, but behind a single
// shared interface instead of two separately-typed call sites.
package exchange

import (
	"io"
	"net/url"
)

// Header is one request or response header field. Unlike hpack.HeaderField,
// it carries no HTTP/2-specific encoding concerns (Sensitive, Huffman) - it
// is the protocol-agnostic shape both codec implementations translate to
// and from.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered header list with case-insensitive lookup, mirroring
// the wire order a raw HTTP library needs to preserve (the teacher's
// client.go readHeaders keeps insertion order in its map's value slices for
// the same reason: a raw client must be able to show what the server
// actually sent, not a normalized view of it).
type Headers []Header

// Get returns the first value for name (case-insensitive), and whether one
// was found.
func (h Headers) Get(name string) (string, bool) {
	for _, f := range h {
		if strEqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Values returns every value for name (case-insensitive), in wire order.
func (h Headers) Values(name string) []string {
	var out []string
	for _, f := range h {
		if strEqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

func strEqualFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// connectionSpecificHeaders lists header names a client must strip before
// handing a request to an HTTP/2 codec (RFC 7540 §8.1.2.2); the HTTP/1.1
// codec passes these through verbatim since it is a raw wire-level client.
var connectionSpecificHeaders = map[string]bool{
	"connection":        true,
	"host":              true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"transfer-encoding": true,
	"encoding":          true,
	"upgrade":           true,
}

// stripConnectionSpecific removes headers HTTP/2 forbids as regular fields,
// per SPEC_FULL §4.5. "te" survives only when its value is exactly
// "trailers" (the one case RFC 7540 still allows).
func stripConnectionSpecific(h Headers) Headers {
	out := make(Headers, 0, len(h))
	for _, f := range h {
		lname := toLower(f.Name)
		if lname == "te" {
			if toLower(f.Value) == "trailers" {
				out = append(out, f)
			}
			continue
		}
		if connectionSpecificHeaders[lname] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

// Request is everything a Codec needs to write a request out: the
// request-line equivalent plus headers. Body bytes travel separately
// through the writer CreateRequestBody returns.
type Request struct {
	Method        string
	URL           *url.URL
	Headers       Headers
	ContentLength int64 // -1 means unknown/chunked, 0 means no body

	// ExpectContinue mirrors an Expect: 100-continue request header: the
	// caller wants ReadResponseHeaders to return early with a nil
	// ResponseHeaders on a 100 (Continue) status so it can then decide
	// whether to send the body.
	ExpectContinue bool
}

// ResponseHeaders is the status line plus headers a Codec hands back from
// ReadResponseHeaders.
type ResponseHeaders struct {
	StatusCode int
	Proto      string // "HTTP/2" or the HTTP/1.x version line the server sent
	Headers    Headers
}

// Codec is the uniform contract SPEC_FULL §4.5 describes: write request
// headers, stream a request body, read response headers, stream a response
// body, and peek trailers - all without the call layer (C7) knowing or
// caring whether the underlying connection speaks HTTP/2 or HTTP/1.1.
type Codec interface {
	// WriteRequestHeaders sends (or, for HTTP/2, encodes and opens a stream
	// for) the request line and headers. endStream, derived from
	// req.ContentLength, tells the implementation whether any body follows.
	WriteRequestHeaders(req *Request) error

	// CreateRequestBody returns a sink for the request body, bound to this
	// exchange. contentLength of 0 still returns a usable (no-op) writer;
	// callers that know there is no body may skip calling this entirely.
	CreateRequestBody(contentLength int64) (io.WriteCloser, error)

	// FlushRequest pushes any buffered request bytes to the wire without
	// ending the request.
	FlushRequest() error

	// FinishRequest marks the request body complete (HTTP/2: END_STREAM or
	// a trailers HEADERS frame; HTTP/1.1: the final chunk/trailer CRLF).
	FinishRequest() error

	// ReadResponseHeaders blocks for the next response headers block. If
	// req.ExpectContinue was set and the peer sends a 100 (Continue)
	// informational response, this returns (nil, nil) once, letting the
	// caller send the request body before calling it again for the final
	// response.
	ReadResponseHeaders() (*ResponseHeaders, error)

	// OpenResponseBodyReader returns a source for the response body.
	OpenResponseBodyReader() (io.ReadCloser, error)

	// PeekTrailers returns trailers if they have already arrived, without
	// blocking; ok is false if none have been delivered yet (which may
	// simply mean none are coming).
	PeekTrailers() (Headers, bool)

	// Cancel aborts the exchange (HTTP/2: RST_STREAM with CANCEL; HTTP/1.1:
	// closes the underlying connection, since HTTP/1.1 has no mid-stream
	// cancellation primitive).
	Cancel(reason error) error
}
