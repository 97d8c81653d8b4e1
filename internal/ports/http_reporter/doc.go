// Package http_reporter provides HTTP handlers exposing the call trees kept
// in the store. The listing returns a JSON snapshot with one summary per
// tree plus the N+1 events. A single tree is served as JSON or, with
// ?format=text, as the ASCII table.
//
// The handler is an httprouter.Router and can be mounted on any HTTP mux.
// Responses are gzip, brotli or zstd encoded following Accept-Encoding.
package http_reporter
