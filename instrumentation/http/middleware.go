// Package http composes OpenTelemetry HTTP instrumentation with the call-tree
// session middleware.
package http

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fllarpy/callprobe/domain"
	"github.com/fllarpy/callprobe/internal/adapters/apmhttp"
	"github.com/fllarpy/callprobe/profiling"
)

// NewMiddleware traces handler as operation and records a call tree per
// request, submitted to sink.
func NewMiddleware(handler http.Handler, operation string, profiler *profiling.Profiler, sink domain.RecordSink, opts ...otelhttp.Option) http.Handler {
	return otelhttp.NewHandler(apmhttp.Middleware(profiler, sink, handler), operation, opts...)
}

// NewTransport traces outgoing requests and records them as IO calls.
func NewTransport(base http.RoundTripper, opts ...otelhttp.Option) http.RoundTripper {
	return otelhttp.NewTransport(apmhttp.NewAPMTransport(base), opts...)
}
