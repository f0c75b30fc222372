package exchange

import (
	"io"
	"strconv"

	"github.com/nexthttp/h2engine/pkg/errors"
	"github.com/nexthttp/h2engine/pkg/h2conn"
	"github.com/nexthttp/h2engine/pkg/h2frame"
	"github.com/nexthttp/h2engine/pkg/h2stream"
	"github.com/nexthttp/h2engine/pkg/hpack"
)

// H2Codec implements Codec over a single HTTP/2 stream, translating between
// exchange.Headers and hpack.HeaderField and driving pkg/h2stream's blocking
// Read/Write surface. Grounded in the teacher's client.go sendFrame (pseudo-
// header construction and ordering) generalized from a one-shot HPACK encode
// into the persistent stream this codec wraps.
type H2Codec struct {
	conn   *h2conn.Connection
	stream *h2stream.Stream

	expectContinue bool
	sawFinal       bool
}

// NewH2Codec opens a new client-initiated stream on conn.
func NewH2Codec(conn *h2conn.Connection) (*H2Codec, error) {
	s, err := conn.OpenStream()
	if err != nil {
		return nil, err
	}
	return &H2Codec{conn: conn, stream: s}, nil
}

// WriteRequestHeaders builds the pseudo-header block in the wire order RFC
// 7540 §8.1.2.3 prescribes (:method, :path, :scheme, :authority), strips
// connection-specific headers, and opens the stream's HEADERS frame.
func (c *H2Codec) WriteRequestHeaders(req *Request) error {
	c.expectContinue = req.ExpectContinue

	scheme := req.URL.Scheme
	if scheme == "" {
		scheme = "https"
	}
	path := req.URL.RequestURI()
	if path == "" {
		path = "/"
	}
	authority := req.URL.Host

	pseudo := []hpack.HeaderField{
		{Name: ":method", Value: req.Method},
		{Name: ":path", Value: path},
		{Name: ":scheme", Value: scheme},
		{Name: ":authority", Value: authority},
	}

	fields := make([]hpack.HeaderField, 0, len(req.Headers))
	for _, h := range stripConnectionSpecific(req.Headers) {
		fields = append(fields, hpack.HeaderField{Name: toLower(h.Name), Value: h.Value})
	}

	endStream := req.ContentLength == 0
	return c.conn.WriteRequestHeaders(c.stream.ID, pseudo, fields, endStream)
}

// requestBodyWriter adapts Stream's Write/CloseWrite to io.WriteCloser.
type requestBodyWriter struct {
	stream *h2stream.Stream
}

func (w *requestBodyWriter) Write(p []byte) (int, error) { return w.stream.Write(p) }
func (w *requestBodyWriter) Close() error                { return w.stream.CloseWrite() }

// CreateRequestBody returns a writer bound to the stream's send side.
func (c *H2Codec) CreateRequestBody(contentLength int64) (io.WriteCloser, error) {
	return &requestBodyWriter{stream: c.stream}, nil
}

// FlushRequest is a no-op for HTTP/2: Stream.Write already pushes whole
// batches to the wire as the send window allows, there is no separate
// buffered-writer flush step the way a bufio-backed HTTP/1.1 codec needs.
func (c *H2Codec) FlushRequest() error { return nil }

// FinishRequest closes the stream's send side (END_STREAM, or a trailers
// HEADERS frame if SetTrailers was used).
func (c *H2Codec) FinishRequest() error { return c.stream.CloseWrite() }

// ReadResponseHeaders pops the next queued HEADERS block. A 100 (Continue)
// informational response is surfaced as (nil, nil) exactly once when the
// request declared ExpectContinue, so the caller can send the body and then
// call this again for the final response; any other 1xx is skipped over
// since RFC 7540 gives it no other meaning to a generic client.
func (c *H2Codec) ReadResponseHeaders() (*ResponseHeaders, error) {
	for {
		fields, err := c.stream.NextHeaderBlock()
		if err != nil {
			return nil, err
		}
		rh := toResponseHeaders(fields)
		if rh.StatusCode >= 100 && rh.StatusCode < 200 {
			if c.expectContinue && rh.StatusCode == 100 && !c.sawFinal {
				return nil, nil
			}
			continue
		}
		c.sawFinal = true
		return rh, nil
	}
}

func toResponseHeaders(fields []hpack.HeaderField) *ResponseHeaders {
	rh := &ResponseHeaders{Proto: "HTTP/2", Headers: make(Headers, 0, len(fields))}
	for _, f := range fields {
		if f.Name == ":status" {
			if code, err := strconv.Atoi(f.Value); err == nil {
				rh.StatusCode = code
			}
			continue
		}
		rh.Headers = append(rh.Headers, Header{Name: f.Name, Value: f.Value})
	}
	return rh
}

// responseBodyReader adapts Stream's ReadAtMost to io.ReadCloser; Close
// resets the stream, releasing its flow-control windows if the caller
// abandons the body before reading it to EOF.
type responseBodyReader struct {
	stream *h2stream.Stream
}

func (r *responseBodyReader) Read(p []byte) (int, error) { return r.stream.ReadAtMost(p) }
func (r *responseBodyReader) Close() error {
	return r.stream.Close(uint32(h2frame.ErrCodeNo), nil)
}

// OpenResponseBodyReader returns a reader bound to the stream's receive side.
func (c *H2Codec) OpenResponseBodyReader() (io.ReadCloser, error) {
	return &responseBodyReader{stream: c.stream}, nil
}

// PeekTrailers returns trailers if the final HEADERS-with-trailers frame
// has already been delivered.
func (c *H2Codec) PeekTrailers() (Headers, bool) {
	fields, ok := c.stream.Trailers()
	if !ok {
		return nil, false
	}
	out := make(Headers, 0, len(fields))
	for _, f := range fields {
		out = append(out, Header{Name: f.Name, Value: f.Value})
	}
	return out, true
}

// Cancel resets the stream with CANCEL.
func (c *H2Codec) Cancel(reason error) error {
	if reason == nil {
		reason = errors.NewCanceledError("exchange canceled")
	}
	return c.stream.Close(uint32(h2frame.ErrCodeCancel), reason)
}
