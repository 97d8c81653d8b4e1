package profiling

import (
	"sync/atomic"
	"time"

	"github.com/fllarpy/callprobe/calltree"
	"github.com/fllarpy/callprobe/pool"
)

// Session is the call-tree cursor of one monitored execution. All methods
// are no-ops on a nil *Session.
type Session struct {
	p     *Profiler
	local *pool.Local
	nodes pool.Handle[*calltree.Node]
	trees pool.Handle[*calltree.Tree]

	tree      *calltree.Tree
	current   calltree.NodeID
	label     string
	startedAt time.Time
	owner     int64
	closed    bool

	// gen changes on every Close so contexts holding a recycled session
	// stop resolving to it.
	gen       atomic.Uint64
	corrupted atomic.Bool
}

func (s *Session) open(label string) {
	s.tree = s.trees.Get()
	s.tree.Init(s.nodes, s.p.config.ShortSignatures)
	s.current = s.tree.CreateRoot(label, s.p.clock.Nanotime())
	s.label = label
	s.startedAt = time.Now()
	s.closed = false
	s.corrupted.Store(false)
	if s.p.config.CheckOwner {
		s.owner = goroutineID()
	}
}

// owns applies the owner check, if enabled, to a call about to mutate the
// tree.
func (s *Session) owns(op string) bool {
	if !s.p.config.CheckOwner {
		return true
	}
	id := goroutineID()
	if id == s.owner {
		return true
	}
	s.corrupted.Store(true)
	s.p.ownerViolations.Add(1)
	s.p.logger.Warn().
		Str("label", s.label).
		Str("op", op).
		Int64("owner", s.owner).
		Int64("goroutine", id).
		Msg("profiling: session used from a foreign goroutine, call ignored")
	return false
}

// Start opens an unnamed child of the current call. The signature is
// supplied when the call stops.
func (s *Session) Start() {
	s.StartSignature("")
}

// StartSignature opens a child of the current call and makes it current.
func (s *Session) StartSignature(signature string) {
	if s == nil || s.current == calltree.NoNode || !s.owns("start") {
		return
	}
	if id := s.tree.Start(s.current, signature, s.p.clock.Nanotime()); id != calltree.NoNode {
		s.current = id
	}
}

// Stop closes the current call, naming it signature unless signature is
// empty, and makes its parent current. Stopping the root ends the session's
// recording; the tree stays available until Close.
func (s *Session) Stop(signature string) {
	if s == nil || s.current == calltree.NoNode || !s.owns("stop") {
		return
	}
	s.current = s.tree.ExecutionStopped(s.current, signature, s.p.clock.Nanotime(), s.p.minNs)
}

// IsActive reports whether the session still has an open call.
func (s *Session) IsActive() bool {
	return s != nil && s.current != calltree.NoNode
}

// Depth is the number of open calls below the root, or -1 when the session
// is inactive.
func (s *Session) Depth() int {
	if !s.IsActive() {
		return -1
	}
	d := 0
	for n := s.tree.Node(s.current); n != nil && n.Parent() != calltree.NoNode; n = s.tree.Node(n.Parent()) {
		d++
	}
	return d
}

// AddIOCall attributes an out-of-process operation to the current call
// without opening a child for it.
func (s *Session) AddIOCall(description string, d time.Duration) {
	if s == nil || s.current == calltree.NoNode || !s.owns("io") {
		return
	}
	s.tree.AddIOCall(s.current, description, int64(d))
}

// Deactivate ends recording. Calls still open, left behind by a Start whose
// Stop never ran, are closed and flagged incomplete; the root is closed if
// it still is open.
func (s *Session) Deactivate() {
	if s == nil || s.current == calltree.NoNode {
		return
	}
	now := s.p.clock.Nanotime()
	root := s.tree.Root()
	if s.current != root {
		s.p.recovered.Add(1)
		if e := s.p.logger.Debug(); e.Enabled() {
			e.Str("label", s.label).
				Int("open_calls", s.Depth()).
				Msg("profiling: closing unbalanced calls")
		}
		s.tree.Unwind(s.current, now)
	}
	s.tree.ExecutionStopped(root, "", now, s.p.minNs)
	s.current = calltree.NoNode
}

// Tree returns the recorded tree. It is recycled by Close.
func (s *Session) Tree() *calltree.Tree {
	if s == nil {
		return nil
	}
	return s.tree
}

// Export copies the recorded tree so it can outlive the session.
func (s *Session) Export() *calltree.Call {
	if s == nil || s.tree == nil {
		return nil
	}
	return s.tree.Export()
}

func (s *Session) Label() string {
	if s == nil {
		return ""
	}
	return s.label
}

// StartedAt is the wall-clock time the session was activated.
func (s *Session) StartedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.startedAt
}

// Corrupted reports whether the owner check rejected a call on s.
func (s *Session) Corrupted() bool {
	return s != nil && s.corrupted.Load()
}

// Close deactivates s and recycles it together with its tree. Neither s nor
// anything obtained from Tree may be used afterwards; contexts carrying s
// no longer resolve to it.
func (s *Session) Close() {
	if s == nil || s.closed {
		return
	}
	s.Deactivate()
	s.closed = true
	s.gen.Add(1)
	s.trees.Put(s.tree)
	s.tree = nil
	s.owner = 0
	s.p.sessions.Put(s)
}
