package apmhttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fllarpy/callprobe/profiling"
)

// Transport is an http.RoundTripper that records every request as an IO call
// of the call open in the request's profiling session.
type Transport struct {
	// Base is the underlying RoundTripper to execute the request.
	// If nil, http.DefaultTransport is used.
	Base http.RoundTripper
}

// RoundTrip executes a single HTTP transaction, returning a Response for the request `req`.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Use the base RoundTripper, or the default if not provided.
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	ctx := req.Context()
	if !profiling.IsActive(ctx) {
		return base.RoundTrip(req)
	}

	start := time.Now()
	resp, err := base.RoundTrip(req)
	duration := time.Since(start)

	profiling.AddIOCall(ctx, describe(req, resp, err), duration)
	return resp, err
}

// describe renders a request as "GET example.com/path 200".
func describe(req *http.Request, resp *http.Response, err error) string {
	d := req.Method + " " + req.URL.Host + req.URL.Path
	switch {
	case err != nil:
		return d + " error"
	case resp != nil:
		return d + " " + strconv.Itoa(resp.StatusCode)
	}
	return d
}

// NewAPMTransport creates a new Transport wrapping base.
func NewAPMTransport(base http.RoundTripper) *Transport {
	return &Transport{
		Base: base,
	}
}
