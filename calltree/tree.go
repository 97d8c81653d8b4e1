package calltree

import (
	"github.com/fllarpy/callprobe/pool"
)

// Tree is the arena holding one call tree. It is mutated by exactly one
// goroutine, the one that opened its root.
type Tree struct {
	nodes []*Node
	free  []NodeID
	root  NodeID
	live  int

	shortSignatures bool
	pool            pool.Handle[*Node]
}

// NewTree returns an empty tree that allocates nodes on the heap until Init
// binds it to a pool.
func NewTree() *Tree {
	return &Tree{root: NoNode, shortSignatures: true}
}

// RegisterPools declares Node and Tree as poolable on r. nodeCapacity bounds
// the idle nodes each Local keeps.
func RegisterPools(r *pool.Registry, nodeCapacity int) error {
	if err := pool.Register(r, NewNode, nodeCapacity); err != nil {
		return err
	}
	// a Local serves one session at a time, so a couple of idle trees suffice
	return pool.Register(r, NewTree, 2)
}

// Init binds t to a node pool and sets whether short signatures are derived.
func (t *Tree) Init(nodes pool.Handle[*Node], shortSignatures bool) {
	t.pool = nodes
	t.shortSignatures = shortSignatures
}

// Reset returns every node to the pool and empties t.
func (t *Tree) Reset() {
	t.Release()
	t.pool = pool.Handle[*Node]{}
	t.shortSignatures = true
}

// Release returns every node to the pool. The tree is empty afterwards and
// all previously issued NodeIDs are invalid.
func (t *Tree) Release() {
	for i, n := range t.nodes {
		if n != nil {
			t.put(n)
			t.nodes[i] = nil
		}
	}
	t.nodes = t.nodes[:0]
	t.free = t.free[:0]
	t.root = NoNode
	t.live = 0
}

func (t *Tree) get() *Node {
	if t.pool.Valid() {
		return t.pool.Get()
	}
	return NewNode()
}

func (t *Tree) put(n *Node) {
	if t.pool.Valid() {
		t.pool.Put(n)
	}
}

func (t *Tree) alloc() (NodeID, *Node) {
	n := t.get()
	t.live++
	if k := len(t.free); k > 0 {
		id := t.free[k-1]
		t.free = t.free[:k-1]
		t.nodes[id] = n
		return id, n
	}
	t.nodes = append(t.nodes, n)
	return NodeID(len(t.nodes) - 1), n
}

func (t *Tree) discard(id NodeID) {
	n := t.nodes[id]
	t.nodes[id] = nil
	t.free = append(t.free, id)
	t.live--
	t.put(n)
}

// Node returns the node for id, or nil when id does not address a live node.
func (t *Tree) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}

// Root returns the root NodeID, or NoNode for an empty tree.
func (t *Tree) Root() NodeID { return t.root }

// Len returns the number of live nodes.
func (t *Tree) Len() int { return t.live }

// CreateRoot opens a new top-level node labelled label. Any previous content
// of t is released first.
func (t *Tree) CreateRoot(label string, nowNs int64) NodeID {
	if t.root != NoNode || len(t.nodes) > 0 {
		t.Release()
	}
	id, n := t.alloc()
	n.signature = label
	n.startNs = nowNs
	t.root = id
	return id
}

// Start opens a child of current and returns it as the new current node.
// signature may be empty and set later by ExecutionStopped. Start returns
// NoNode when current is not an open node.
func (t *Tree) Start(current NodeID, signature string, nowNs int64) NodeID {
	p := t.Node(current)
	if p == nil || p.stopped {
		return NoNode
	}
	if nowNs < p.startNs {
		nowNs = p.startNs
	}
	id, n := t.alloc()
	n.signature = signature
	n.parent = current
	n.startNs = nowNs
	p.children = append(p.children, id)
	return id
}

// ExecutionStopped closes id and returns its parent, which becomes the new
// current node, or NoNode when id was the root.
//
// A leaf that ran for less than minDurationNs is pruned: it is removed from
// its parent and recycled, its duration is credited back to the parent's
// self time and its IO calls move to the parent. A zero minDurationNs keeps
// every node.
func (t *Tree) ExecutionStopped(id NodeID, signature string, nowNs, minDurationNs int64) NodeID {
	n := t.Node(id)
	if n == nil || n.stopped {
		return NoNode
	}
	if signature != "" && signature != n.signature {
		n.signature = signature
		n.short, n.shortSt = "", shortUnknown
	}
	exec := nowNs - n.startNs
	n.execNs = exec
	n.netNs += exec
	n.stopped = true

	parentID := n.parent
	p := t.Node(parentID)
	if p == nil {
		return NoNode
	}
	p.netNs -= exec

	if minDurationNs > 0 && exec < minDurationNs && len(n.children) == 0 {
		p.netNs += exec
		p.ioCalls = append(p.ioCalls, n.ioCalls...)
		p.removeChild(id)
		t.discard(id)
	}
	return parentID
}

// Unwind closes every open node from id up to, but excluding, the root and
// flags them incomplete. It returns the root. Nodes closed this way are never
// pruned.
func (t *Tree) Unwind(id NodeID, nowNs int64) NodeID {
	for id != NoNode && id != t.root {
		n := t.Node(id)
		if n == nil {
			break
		}
		n.incomplete = true
		id = t.ExecutionStopped(id, "", nowNs, 0)
	}
	return t.root
}

// AddIOCall attributes an IO call to id. The duration and count are also
// added to every ancestor; self times are left unchanged.
func (t *Tree) AddIOCall(id NodeID, description string, durationNs int64) {
	n := t.Node(id)
	if n == nil {
		return
	}
	n.ioCalls = append(n.ioCalls, IOCall{Description: description, DurationNs: durationNs})
	for n != nil {
		n.ioNs += durationNs
		n.ioCallCount++
		n = t.Node(n.parent)
	}
}

// ShortSignature returns the cached short form of the node's signature,
// deriving it on first use. ok is false when no short form exists or
// derivation is disabled; callers then fall back to the full signature.
func (t *Tree) ShortSignature(id NodeID) (short string, ok bool) {
	n := t.Node(id)
	if n == nil || !t.shortSignatures {
		return "", false
	}
	switch n.shortSt {
	case shortPresent:
		return n.short, true
	case shortAbsent:
		return "", false
	}
	if s, ok := ShortSignature(n.signature); ok {
		n.short, n.shortSt = s, shortPresent
		return s, true
	}
	n.shortSt = shortAbsent
	return "", false
}

// Walk visits the live nodes below and including id in pre-order. Returning
// false from fn stops the walk.
func (t *Tree) Walk(id NodeID, fn func(id NodeID, n *Node, depth int) bool) {
	t.walk(id, 0, fn)
}

func (t *Tree) walk(id NodeID, depth int, fn func(NodeID, *Node, int) bool) bool {
	n := t.Node(id)
	if n == nil {
		return true
	}
	if !fn(id, n, depth) {
		return false
	}
	for _, c := range n.children {
		if !t.walk(c, depth+1, fn) {
			return false
		}
	}
	return true
}

// String renders the whole tree with box-drawing glyphs.
func (t *Tree) String() string {
	return t.Format(true)
}

// Format renders the whole tree, see Call.Format.
func (t *Tree) Format(asciiArt bool) string {
	c := t.Export()
	if c == nil {
		return ""
	}
	return c.Format(asciiArt)
}
