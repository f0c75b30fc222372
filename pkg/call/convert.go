package call

import (
	"net/http"

	"github.com/nexthttp/h2engine/pkg/exchange"
)

func toExchangeHeaders(h http.Header) exchange.Headers {
	out := make(exchange.Headers, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, exchange.Header{Name: name, Value: v})
		}
	}
	return out
}

func toHTTPHeader(h exchange.Headers) http.Header {
	out := http.Header{}
	for _, f := range h {
		out.Add(f.Name, f.Value)
	}
	return out
}
