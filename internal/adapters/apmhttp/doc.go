// Package apmhttp provides adapters that connect net/http to the call-tree
// profiler. Middleware opens a profiling session for every incoming request
// and hands the finished tree to a sink; Transport records outgoing client
// requests as IO calls of the call that issued them.
//
// The package is designed to work with the standard library's net/http
// package and follows Go's idiomatic patterns for HTTP middleware.
package apmhttp
