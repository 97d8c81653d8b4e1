// Package http_middleware provides chi-style HTTP middleware that records a
// call tree for every request and detects N+1 query issues in it. It wraps
// the session middleware from apmhttp and is switched on and off by the
// profiling section of the configuration.
//
// The middleware is designed to be used with the standard library's
// net/http package and integrates with the application's call-tree store.
package http_middleware
