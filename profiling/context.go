package profiling

import (
	"context"
	"time"
)

type sessionKey struct{}

type sessionRef struct {
	s   *Session
	gen uint64
}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, sessionRef{s: s, gen: s.gen.Load()})
}

// FromContext returns the session carried by ctx, or nil when there is none
// or it has been closed since.
func FromContext(ctx context.Context) *Session {
	if ctx == nil {
		return nil
	}
	ref, ok := ctx.Value(sessionKey{}).(sessionRef)
	if !ok || ref.s.gen.Load() != ref.gen {
		return nil
	}
	return ref.s
}

// Start opens a child call in the session carried by ctx.
func Start(ctx context.Context, signature string) {
	FromContext(ctx).StartSignature(signature)
}

// Stop closes the current call in the session carried by ctx.
func Stop(ctx context.Context, signature string) {
	FromContext(ctx).Stop(signature)
}

// AddIOCall attributes an IO call to the current call in the session
// carried by ctx.
func AddIOCall(ctx context.Context, description string, d time.Duration) {
	FromContext(ctx).AddIOCall(description, d)
}

// IsActive reports whether ctx carries a session with an open call.
func IsActive(ctx context.Context) bool {
	return FromContext(ctx).IsActive()
}
