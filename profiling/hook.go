package profiling

import (
	"context"
	"runtime"
)

// Hook is the interface instrumentation calls around each monitored call.
// OnExit must run even when the call panics.
type Hook interface {
	OnEnter(ctx context.Context, signature string)
	OnExit(ctx context.Context, signature string)
}

var _ Hook = (*Profiler)(nil)

// Span is an open call returned by Enter. The zero Span does nothing.
type Span struct {
	s *Session
}

// Enter opens a call in the session carried by ctx. It is meant to be
// deferred together with Exit:
//
//	defer profiling.Enter(ctx, "").Exit("store.(*DB).Query")
func Enter(ctx context.Context, signature string) Span {
	s := FromContext(ctx)
	if !s.IsActive() {
		return Span{}
	}
	s.StartSignature(signature)
	return Span{s: s}
}

// EnterFunc is Enter with the signature taken from the calling function's
// symbol name, e.g. "example.com/app/store.(*DB).Query".
func EnterFunc(ctx context.Context) Span {
	s := FromContext(ctx)
	if !s.IsActive() {
		return Span{}
	}
	s.StartSignature(callerName(2))
	return Span{s: s}
}

// Exit closes the call opened by Enter. An empty signature keeps the one
// given to Enter.
func (sp Span) Exit(signature string) {
	sp.s.Stop(signature)
}

// Trace runs fn as a call named signature. The call is closed even if fn
// panics.
func Trace(ctx context.Context, h Hook, signature string, fn func(context.Context) error) error {
	h.OnEnter(ctx, signature)
	defer h.OnExit(ctx, signature)
	return fn(ctx)
}

func callerName(skip int) string {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	f := runtime.FuncForPC(pc)
	if f == nil {
		return "unknown"
	}
	return f.Name()
}
