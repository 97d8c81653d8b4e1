package http_middleware

import (
	"net/http"

	"github.com/fllarpy/callprobe/config"
	"github.com/fllarpy/callprobe/domain"
	"github.com/fllarpy/callprobe/internal/adapters/apmhttp"
	"github.com/fllarpy/callprobe/profiling"
)

// APMMiddleware creates a new HTTP middleware that records call trees. It
// returns a function that takes an http.Handler and returns an
// http.Handler, suitable for use with frameworks like chi.
//
// When profiling is disabled in cfg, or there is no profiler or sink, the
// returned middleware is a no-op.
func APMMiddleware(cfg config.Config, profiler *profiling.Profiler, sink domain.RecordSink) func(http.Handler) http.Handler {
	if !cfg.Profiling.Enabled || !profiler.Enabled() || sink == nil {
		// If disabled, return a no-op middleware.
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return apmhttp.Middleware(profiler, sink, next)
	}
}
