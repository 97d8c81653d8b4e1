package apmhttp

import (
	"net/http"

	"github.com/fllarpy/callprobe/domain"
	"github.com/fllarpy/callprobe/domain/calls"
	"github.com/fllarpy/callprobe/profiling"
)

// Label names the root call of a request's tree.
func Label(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

// Middleware is an HTTP middleware that records a call tree for every
// request. The session is closed when the handler returns or panics; calls
// the handler left open are closed and flagged incomplete. The finished tree
// is submitted to sink. A handler that panics before writing a header is
// recorded with status 500.
//
// A request whose context already carries an active session, because the
// middleware is applied twice for instance, is passed through untouched.
func Middleware(profiler *profiling.Profiler, sink domain.RecordSink, next http.Handler) http.Handler {
	if !profiler.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if profiling.IsActive(r.Context()) {
			next.ServeHTTP(w, r)
			return
		}

		ctx, session := profiler.Activate(r.Context(), Label(r))
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		returned := false
		defer func() {
			if !returned && !rw.wroteHeader {
				rw.statusCode = http.StatusInternalServerError
			}
			finish(session, rw, sink)
		}()

		next.ServeHTTP(rw, r.WithContext(ctx))
		returned = true
	})
}

// responseWriter is a wrapper around http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func finish(s *profiling.Session, rw *responseWriter, sink domain.RecordSink) {
	s.Deactivate()
	record := calls.Record{
		Timestamp: s.StartedAt(),
		Label:     s.Label(),
		Status:    rw.statusCode,
		Corrupted: s.Corrupted(),
		Root:      s.Export(),
	}
	s.Close()
	if sink != nil {
		sink.Submit(record)
	}
}
