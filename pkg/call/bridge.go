package call

import (
	"compress/gzip"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const defaultUserAgent = "h2engine/1.0"

// BridgeInterceptor fills in the headers a real client always supplies but a
// raw caller often omits: Host, Content-Length/Transfer-Encoding,
// Accept-Encoding, User-Agent. Grounded in the teacher's examples, which
// always hand-write these same fields onto a raw request line (see
// examples/http2_basic.go, advanced_usage.go) - this interceptor automates
// exactly what those examples do by hand.
type BridgeInterceptor struct{}

func NewBridgeInterceptor() *BridgeInterceptor { return &BridgeInterceptor{} }

func (b *BridgeInterceptor) Intercept(chain *Chain) (*http.Response, error) {
	req := chain.Request()
	bridged := req.Clone(req.Context())

	if bridged.Header.Get("Host") == "" && bridged.Host == "" && req.URL != nil {
		bridged.Host = req.URL.Host
	}

	if bridged.Body != nil {
		if bridged.ContentLength >= 0 {
			bridged.Header.Set("Content-Length", strconv.FormatInt(bridged.ContentLength, 10))
		} else if bridged.Header.Get("Transfer-Encoding") == "" {
			bridged.Header.Set("Transfer-Encoding", "chunked")
		}
	}

	addedGzip := false
	if bridged.Header.Get("Accept-Encoding") == "" && bridged.Header.Get("Range") == "" {
		bridged.Header.Set("Accept-Encoding", "gzip")
		addedGzip = true
	}

	if bridged.Header.Get("User-Agent") == "" {
		bridged.Header.Set("User-Agent", defaultUserAgent)
	}

	resp, err := chain.Proceed(bridged)
	if err != nil {
		return nil, err
	}

	if addedGzip && resp != nil && strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
		resp.Uncompressed = true
		resp.Body = &gzipDecodingBody{underlying: resp.Body}
	}
	return resp, nil
}

// gzipDecodingBody lazily wraps the response body in a gzip reader on first
// Read, so an empty body (a 204/304, say) reads as io.EOF without ever
// constructing the gzip reader.
type gzipDecodingBody struct {
	underlying io.ReadCloser
	gz         *gzip.Reader
	err        error
}

func (g *gzipDecodingBody) Read(p []byte) (int, error) {
	if g.err != nil {
		return 0, g.err
	}
	if g.gz == nil {
		gz, err := gzip.NewReader(g.underlying)
		if err != nil {
			if err == io.EOF {
				g.err = io.EOF
				return 0, io.EOF
			}
			g.err = err
			return 0, err
		}
		g.gz = gz
	}
	return g.gz.Read(p)
}

func (g *gzipDecodingBody) Close() error { return g.underlying.Close() }
