package call

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nexthttp/h2engine/pkg/errors"
	"github.com/nexthttp/h2engine/pkg/exchange"
	"github.com/nexthttp/h2engine/pkg/pool"
)

type exchangeCtxKey struct{}

type openExchange struct {
	codec exchange.Codec
	lease *pool.Lease
}

// ConnectionInterceptor allocates a connection from the pool (C6) and opens
// a protocol-appropriate exchange (C5), stashing both on the request context
// for the terminal call-server stage to drive. Grounded in the teacher's
// Sender.Do, which resolves a target and dials/reuses a pooled connection
// before ever touching a frame; here that step becomes a chain stage instead
// of an inline branch.
type ConnectionInterceptor struct {
	Pool               *pool.Pool
	H1WriteTimeout     time.Duration
	H1ReadTimeout      time.Duration
}

func NewConnectionInterceptor(p *pool.Pool) *ConnectionInterceptor {
	return &ConnectionInterceptor{Pool: p, H1WriteTimeout: 30 * time.Second, H1ReadTimeout: 30 * time.Second}
}

func (ci *ConnectionInterceptor) Intercept(chain *Chain) (*http.Response, error) {
	req := chain.Request()
	target, err := targetFromRequest(req)
	if err != nil {
		return nil, err
	}

	lease, err := ci.Pool.Acquire(req.Context(), target)
	if err != nil {
		return nil, err
	}

	var codec exchange.Codec
	switch lease.Protocol {
	case "h2":
		codec, err = exchange.NewH2Codec(lease.H2)
	default:
		codec = exchange.NewH1Codec(lease.Raw, ci.H1WriteTimeout, ci.H1ReadTimeout)
	}
	if err != nil {
		lease.Release(false)
		return nil, err
	}

	call := chain.Call()
	call.setOnCancel(func() { codec.Cancel(errors.NewCanceledError("call canceled")) })

	ctx := context.WithValue(req.Context(), exchangeCtxKey{}, &openExchange{codec: codec, lease: lease})
	resp, err := chain.Proceed(req.WithContext(ctx))
	if err != nil {
		lease.Release(false)
		return nil, err
	}
	return resp, nil
}

func targetFromRequest(req *http.Request) (pool.Target, error) {
	if req.URL == nil {
		return pool.Target{}, errors.NewValidationError("request has no URL")
	}
	scheme := req.URL.Scheme
	if scheme == "" {
		scheme = "https"
	}
	host := req.URL.Hostname()
	if host == "" {
		return pool.Target{}, errors.NewValidationError("request URL has no host")
	}
	port := 443
	if scheme == "http" {
		port = 80
	}
	if p := req.URL.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return pool.Target{}, errors.NewValidationError(fmt.Sprintf("invalid port %q", p))
		}
		port = n
	}
	return pool.Target{Scheme: scheme, Host: host, Port: port}, nil
}
