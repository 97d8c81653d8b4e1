// Package profiling records a call tree per monitored execution, for example
// one HTTP request.
//
// A session is opened with Profiler.Activate and travels with the
// context.Context of the execution. Instrumented code brackets its work with
// Start and Stop (or Enter(...).Exit in a defer); both are no-ops on a
// context without an active session, so uninstrumented paths pay nothing.
// A Session belongs to the goroutine that activated it and must not be used
// from any other.
package profiling

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fllarpy/callprobe/calltree"
	"github.com/fllarpy/callprobe/pool"
)

type Profiler struct {
	config Config
	minNs  int64
	clock  Clock
	logger zerolog.Logger

	registry *pool.Registry
	sessions sync.Pool

	activated       atomic.Uint64
	recovered       atomic.Uint64
	ownerViolations atomic.Uint64
}

type Option func(*Profiler)

func WithClock(c Clock) Option {
	return func(p *Profiler) {
		p.clock = c
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Profiler) {
		p.logger = l
	}
}

// NewProfiler returns nil, and no error, when profiling is disabled. A nil
// *Profiler is valid and never activates a session.
func NewProfiler(config Config, opts ...Option) (*Profiler, error) {
	if !config.Enabled {
		return nil, nil
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	p := &Profiler{
		config:   config,
		minNs:    int64(config.MinExecutionTime),
		clock:    SystemClock(),
		logger:   log.Logger,
		registry: pool.NewRegistry(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := calltree.RegisterPools(p.registry, config.PoolCapacity); err != nil {
		return nil, fmt.Errorf("registering call tree pools: %w", err)
	}
	p.sessions.New = func() any {
		return p.newSession()
	}

	p.logger.Info().
		Dur("min_execution_time", config.MinExecutionTime).
		Bool("short_signatures", config.ShortSignatures).
		Bool("check_owner", config.CheckOwner).
		Msg("call tree profiler initialized")
	return p, nil
}

func (p *Profiler) newSession() *Session {
	local := p.registry.NewLocal()
	// both types were registered in NewProfiler
	nodes, _ := pool.For[*calltree.Node](local)
	trees, _ := pool.For[*calltree.Tree](local)
	return &Session{
		p:       p,
		local:   local,
		nodes:   nodes,
		trees:   trees,
		current: calltree.NoNode,
		closed:  true,
	}
}

// Activate opens a session whose root call is labelled label and returns a
// context carrying it. A session already present in ctx is left untouched;
// the new one shadows it until its context goes out of scope.
func (p *Profiler) Activate(ctx context.Context, label string) (context.Context, *Session) {
	if p == nil {
		return ctx, nil
	}
	s := p.sessions.Get().(*Session)
	s.open(label)
	p.activated.Add(1)
	return NewContext(ctx, s), s
}

// Config returns the configuration p was created with.
func (p *Profiler) Config() Config {
	if p == nil {
		return Config{}
	}
	return p.config
}

// Enabled reports whether p records anything.
func (p *Profiler) Enabled() bool {
	return p != nil
}

// Stats are counters kept since the profiler was created.
type Stats struct {
	// Activated counts sessions opened.
	Activated uint64
	// Recovered counts sessions that still had open calls when deactivated.
	Recovered uint64
	// OwnerViolations counts calls rejected by the owner check.
	OwnerViolations uint64
}

func (p *Profiler) Stats() Stats {
	if p == nil {
		return Stats{}
	}
	return Stats{
		Activated:       p.activated.Load(),
		Recovered:       p.recovered.Load(),
		OwnerViolations: p.ownerViolations.Load(),
	}
}

// OnEnter opens a child call in the session carried by ctx.
func (p *Profiler) OnEnter(ctx context.Context, signature string) {
	Start(ctx, signature)
}

// OnExit closes the current call in the session carried by ctx.
func (p *Profiler) OnExit(ctx context.Context, signature string) {
	Stop(ctx, signature)
}
