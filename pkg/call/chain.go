package call

import (
	"context"
	"net/http"

	"github.com/nexthttp/h2engine/pkg/cache"
	"github.com/nexthttp/h2engine/pkg/pool"
)

// Config wires the built-in stages SPEC_FULL §4.7 describes around a
// caller-supplied set of application and network interceptors. Mirrors
// OkHttp's fixed interceptor ordering (retry/follow-up outermost, so a
// redirect or auth challenge re-runs bridging and cache lookup against the
// new request; then bridge; then cache; then connection; then network
// interceptors; then the terminal call-server stage) - there is no teacher
// precedent for this layering since the teacher has no interceptor chain at
// all, so the ordering is grounded in SPEC_FULL §4.7's own stage list.
type Config struct {
	Pool  *pool.Pool
	Cache *cache.Cache // nil disables the cache stage entirely

	ApplicationInterceptors []Interceptor
	NetworkInterceptors     []Interceptor

	Retry RetryFollowUpInterceptor
}

// BuildInterceptors assembles the full ordered chain for one call.
func (cfg Config) BuildInterceptors() []Interceptor {
	retryStage := cfg.Retry
	if retryStage.Pool == nil {
		retryStage.Pool = cfg.Pool
	}

	var chain []Interceptor
	chain = append(chain, cfg.ApplicationInterceptors...)
	chain = append(chain, &retryStage)
	chain = append(chain, NewBridgeInterceptor())
	if cfg.Cache != nil {
		chain = append(chain, NewCacheInterceptor(cfg.Cache))
	}
	chain = append(chain, NewConnectionInterceptor(cfg.Pool))
	chain = append(chain, cfg.NetworkInterceptors...)
	chain = append(chain, NewCallServerInterceptor())
	return chain
}

// NewCall builds a one-shot Call for req using cfg's assembled chain.
func NewCall(ctx context.Context, req *http.Request, cfg Config, tags map[string]interface{}) *Call {
	return New(ctx, req, cfg.BuildInterceptors(), tags)
}
