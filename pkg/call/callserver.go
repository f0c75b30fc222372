package call

import (
	"io"
	"net/http"

	"github.com/nexthttp/h2engine/pkg/errors"
	"github.com/nexthttp/h2engine/pkg/exchange"
	"github.com/nexthttp/h2engine/pkg/pool"
	"github.com/nexthttp/h2engine/pkg/timing"
)

// CallServerInterceptor is the terminal stage: it drives the exchange the
// connection interceptor opened, writing the request and reading the
// response, and must not call chain.Proceed. Grounded in the teacher's
// client.go sendRequest/readResponse pair, generalized to the Codec
// interface so the same stage drives either wire protocol.
type CallServerInterceptor struct{}

func NewCallServerInterceptor() *CallServerInterceptor { return &CallServerInterceptor{} }

func (CallServerInterceptor) Intercept(chain *Chain) (*http.Response, error) {
	req := chain.Request()
	oe, _ := req.Context().Value(exchangeCtxKey{}).(*openExchange)
	if oe == nil {
		return nil, errors.NewValidationError("call server interceptor ran without an open exchange")
	}
	codec, lease := oe.codec, oe.lease
	timer := timing.NewTimer()

	ereq := &exchange.Request{
		Method:         req.Method,
		URL:            req.URL,
		Headers:        toExchangeHeaders(req.Header),
		ContentLength:  req.ContentLength,
		ExpectContinue: req.Header.Get("Expect") == "100-continue",
	}
	if req.Body == nil || req.Body == http.NoBody {
		ereq.ContentLength = 0
	}

	if err := codec.WriteRequestHeaders(ereq); err != nil {
		lease.Release(false)
		return nil, err
	}

	if ereq.ContentLength != 0 && req.Body != nil && req.Body != http.NoBody {
		bw, err := codec.CreateRequestBody(ereq.ContentLength)
		if err != nil {
			lease.Release(false)
			return nil, err
		}
		if _, err := io.Copy(bw, req.Body); err != nil {
			lease.Release(false)
			return nil, errors.NewIOError("writing request body", err)
		}
		req.Body.Close()
		if err := bw.Close(); err != nil {
			lease.Release(false)
			return nil, err
		}
	}
	if err := codec.FinishRequest(); err != nil {
		lease.Release(false)
		return nil, err
	}

	timer.StartTTFB()
	rh, err := codec.ReadResponseHeaders()
	timer.EndTTFB()
	if err != nil {
		lease.Release(false)
		return nil, err
	}
	if rh == nil {
		// a bare 100-continue with no follow-up final status is a protocol
		// error this far into the pipeline: the bridge/caller never re-drove
		// the codec for the final response.
		lease.Release(false)
		return nil, errors.NewProtocolError("no final response status received", nil)
	}

	body, err := codec.OpenResponseBodyReader()
	if err != nil {
		lease.Release(false)
		return nil, err
	}

	resp := &http.Response{
		Status:     rh.Proto + " " + http.StatusText(rh.StatusCode),
		StatusCode: rh.StatusCode,
		Proto:      rh.Proto,
		Header:     toHTTPHeader(rh.Headers),
		Request:    req,
		Body:       &releasingBody{ReadCloser: body, lease: lease},
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		resp.ContentLength = parseContentLength(cl)
	} else {
		resp.ContentLength = -1
	}
	chain.Call().recordMetrics(timer.GetMetrics())
	return resp, nil
}

// releasingBody returns the leased connection to the pool once the caller
// finishes reading the response body, the only point at which an HTTP/1.1
// socket is safe to reuse.
type releasingBody struct {
	io.ReadCloser
	lease    *pool.Lease
	released bool
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	if !b.released {
		b.released = true
		b.lease.Release(err == nil)
	}
	return err
}

func parseContentLength(s string) int64 {
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int64(c-'0')
	}
	return n
}
