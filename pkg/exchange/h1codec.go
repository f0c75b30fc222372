package exchange

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/nexthttp/h2engine/pkg/errors"
)

const maxHeaderBytes = 64 * 1024

// H1Codec implements Codec over a raw HTTP/1.1 socket. Grounded directly in
// the teacher's pkg/client/client.go: sendRequest's write-until-exhausted
// loop, readResponse/readLine/parseStatusLine/readHeaders (RFC 7230 §3.2.4
// continuation handling), and the chunked/fixed-length/until-close body
// dispatch in readBody. Where the teacher captures a whole response into a
// buffer.Buffer, this codec streams incrementally through io.Reader so the
// call layer (C7) can drive it the same way it drives the HTTP/2 codec.
type H1Codec struct {
	conn         net.Conn
	reader       *bufio.Reader
	writeTimeout time.Duration
	readTimeout  time.Duration

	req         *Request
	respHeaders *ResponseHeaders
	sawFinal    bool
	trailers    Headers
}

// NewH1Codec wraps an already-connected socket.
func NewH1Codec(conn net.Conn, writeTimeout, readTimeout time.Duration) *H1Codec {
	return &H1Codec{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writeTimeout: writeTimeout,
		readTimeout:  readTimeout,
	}
}

func (c *H1Codec) writeAll(p []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return errors.NewIOError("setting write deadline", err)
		}
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	written := 0
	for written < len(p) {
		n, err := c.conn.Write(p[written:])
		if err != nil {
			return errors.NewIOError("writing request", err)
		}
		written += n
	}
	return nil
}

// WriteRequestHeaders writes the request line and headers verbatim; unlike
// the HTTP/2 codec this one does not strip connection-specific headers,
// since a raw HTTP/1.1 client's whole point is to put exactly what the
// caller asked for on the wire.
func (c *H1Codec) WriteRequestHeaders(req *Request) error {
	c.req = req

	path := req.URL.RequestURI()
	if path == "" {
		path = "/"
	}

	var buf bytes.Buffer
	buf.WriteString(req.Method)
	buf.WriteByte(' ')
	buf.WriteString(path)
	buf.WriteString(" HTTP/1.1\r\n")
	for _, h := range req.Headers {
		buf.WriteString(h.Name)
		buf.WriteString(": ")
		buf.WriteString(h.Value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")

	return c.writeAll(buf.Bytes())
}

// h1RawBodyWriter writes a Content-Length-delimited body straight through.
type h1RawBodyWriter struct{ c *H1Codec }

func (w *h1RawBodyWriter) Write(p []byte) (int, error) {
	if err := w.c.writeAll(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
func (w *h1RawBodyWriter) Close() error { return nil }

// h1ChunkedBodyWriter wraps each Write in a chunk-size header and trailing
// CRLF, and emits the terminating zero-length chunk on Close.
type h1ChunkedBodyWriter struct{ c *H1Codec }

func (w *h1ChunkedBodyWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := w.c.writeAll([]byte(fmt.Sprintf("%x\r\n", len(p)))); err != nil {
		return 0, err
	}
	if err := w.c.writeAll(p); err != nil {
		return 0, err
	}
	if err := w.c.writeAll([]byte("\r\n")); err != nil {
		return 0, err
	}
	return len(p), nil
}
func (w *h1ChunkedBodyWriter) Close() error {
	return w.c.writeAll([]byte("0\r\n\r\n"))
}

// CreateRequestBody returns a chunked writer when contentLength is unknown
// (negative), else a plain passthrough writer.
func (c *H1Codec) CreateRequestBody(contentLength int64) (io.WriteCloser, error) {
	if contentLength < 0 {
		return &h1ChunkedBodyWriter{c: c}, nil
	}
	return &h1RawBodyWriter{c: c}, nil
}

// FlushRequest is a no-op: writeAll already pushes every write straight to
// the socket, there is no intermediate buffered writer to drain.
func (c *H1Codec) FlushRequest() error { return nil }

// FinishRequest is a no-op beyond what the body writer's Close already did.
func (c *H1Codec) FinishRequest() error { return nil }

func (c *H1Codec) readLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) >= 2 && line[len(line)-2:] == "\r\n" {
		return line[:len(line)-2], nil
	}
	return strings.TrimRight(line, "\n"), nil
}

// readHeaderFields reads header lines up to the blank line, honoring RFC
// 7230 §3.2.4 obs-fold continuation, preserving wire order.
func (c *H1Codec) readHeaderFields() (Headers, error) {
	var headers Headers
	total := 0
	lastIdx := -1

	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, errors.NewProtocolError("reading headers", err)
		}
		total += len(line)
		if total > maxHeaderBytes {
			return nil, errors.NewProtocolError("headers exceed maximum size", nil)
		}
		if line == "\r\n" || line == "\n" {
			break
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(trimmed, " ") || strings.HasPrefix(trimmed, "\t") {
			if lastIdx < 0 {
				continue
			}
			headers[lastIdx].Value += " " + strings.TrimSpace(trimmed)
			continue
		}

		parts := strings.SplitN(trimmed, ":", 2)
		if len(parts) != 2 {
			continue
		}
		headers = append(headers, Header{Name: strings.TrimSpace(parts[0]), Value: strings.TrimSpace(parts[1])})
		lastIdx = len(headers) - 1
	}
	return headers, nil
}

// ReadResponseHeaders reads the status line and headers. Interim 1xx
// responses loop back for the next status line (RFC 9110 §15.2 permits a
// server to send more than one); a 100 under ExpectContinue returns early so
// the caller can send the body first.
func (c *H1Codec) ReadResponseHeaders() (*ResponseHeaders, error) {
	if c.readTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return nil, errors.NewIOError("setting read deadline", err)
		}
	}

	for {
		statusLine, err := c.readLine()
		if err != nil {
			return nil, errors.NewProtocolError("reading status line", err)
		}
		parts := strings.SplitN(statusLine, " ", 3)
		if len(parts) < 2 {
			return nil, errors.NewProtocolError("invalid status line format", nil)
		}
		code, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, errors.NewProtocolError("invalid status code", err)
		}

		headers, err := c.readHeaderFields()
		if err != nil {
			return nil, err
		}

		rh := &ResponseHeaders{StatusCode: code, Proto: parts[0], Headers: headers}

		if code >= 100 && code < 200 {
			if c.req.ExpectContinue && code == 100 && !c.sawFinal {
				return nil, nil
			}
			continue
		}
		c.sawFinal = true
		c.respHeaders = rh
		return rh, nil
	}
}

// h1ChunkedBodyReader de-chunks the response body one Read call at a time,
// recording trailers once the terminating zero-length chunk arrives.
// Grounded in the teacher's readChunkedBody, restructured from a bulk
// io.CopyN-into-buffer loop into an incremental io.Reader.
type h1ChunkedBodyReader struct {
	tp        *textproto.Reader
	remaining int64
	done      bool
	trailers  *Headers
}

func (r *h1ChunkedBodyReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, io.EOF
	}
	if r.remaining == 0 {
		line, err := r.tp.ReadLine()
		if err != nil {
			return 0, errors.NewProtocolError("reading chunk size", err)
		}
		size, err := strconv.ParseInt(strings.TrimSpace(strings.Split(line, ";")[0]), 16, 64)
		if err != nil {
			return 0, errors.NewProtocolError("invalid chunk size", err)
		}
		if size == 0 {
			var trailers Headers
			for {
				tline, err := r.tp.ReadLine()
				if err != nil {
					return 0, errors.NewProtocolError("reading chunk trailer", err)
				}
				if tline == "" {
					break
				}
				if parts := strings.SplitN(tline, ":", 2); len(parts) == 2 {
					trailers = append(trailers, Header{Name: strings.TrimSpace(parts[0]), Value: strings.TrimSpace(parts[1])})
				}
			}
			if r.trailers != nil {
				*r.trailers = trailers
			}
			r.done = true
			return 0, io.EOF
		}
		r.remaining = size
	}

	n := len(p)
	if int64(n) > r.remaining {
		n = int(r.remaining)
	}
	read, err := io.ReadFull(r.tp.R, p[:n])
	r.remaining -= int64(read)
	if err != nil {
		return read, errors.NewIOError("reading chunk body", err)
	}
	if r.remaining == 0 {
		var crlf [2]byte
		if _, err := io.ReadFull(r.tp.R, crlf[:]); err != nil {
			return read, errors.NewIOError("reading chunk CRLF", err)
		}
	}
	return read, nil
}
func (r *h1ChunkedBodyReader) Close() error { return nil }

// OpenResponseBodyReader dispatches on Transfer-Encoding/Content-Length/
// until-close exactly as the teacher's readBody does, including the RFC
// 9110 §6.4.1 no-body statuses (1xx/204/304/HEAD) with the same
// peek-before-skipping tolerance for RFC-violating servers that send a body
// anyway.
func (c *H1Codec) OpenResponseBodyReader() (io.ReadCloser, error) {
	rh := c.respHeaders
	if rh == nil {
		return nil, errors.NewProtocolError("read response headers before opening body", nil)
	}

	noBodyExpected := c.req.Method == "HEAD" ||
		(rh.StatusCode >= 100 && rh.StatusCode < 200) ||
		rh.StatusCode == 204 || rh.StatusCode == 304
	if noBodyExpected && c.reader.Buffered() == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}

	te, _ := rh.Headers.Get("Transfer-Encoding")
	cl, hasCL := rh.Headers.Get("Content-Length")

	switch {
	case strings.Contains(strings.ToLower(te), "chunked"):
		return &h1ChunkedBodyReader{tp: textproto.NewReader(c.reader), trailers: &c.trailers}, nil
	case hasCL:
		length, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil {
			return nil, errors.NewProtocolError("invalid content-length", err)
		}
		if length < 0 {
			return nil, errors.NewProtocolError("negative content-length not allowed", nil)
		}
		return io.NopCloser(io.LimitReader(c.reader, length)), nil
	default:
		return io.NopCloser(c.reader), nil
	}
}

// PeekTrailers returns chunked-transfer trailers once the terminating chunk
// has been read; HTTP/1.1 has no other trailer mechanism.
func (c *H1Codec) PeekTrailers() (Headers, bool) {
	if len(c.trailers) == 0 {
		return nil, false
	}
	return c.trailers, true
}

// Cancel closes the underlying socket: HTTP/1.1 has no mid-exchange
// cancellation primitive, so abandoning the connection is the only option
// (the connection pool must not reuse it afterward).
func (c *H1Codec) Cancel(reason error) error {
	return c.conn.Close()
}
