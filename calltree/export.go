package calltree

// Call is a detached, immutable copy of a (sub)tree. Reporters work on Calls
// so the arena can be recycled as soon as a session ends.
type Call struct {
	Signature          string   `json:"signature"`
	ShortSignature     string   `json:"short_signature,omitempty"`
	StartOffsetNs      int64    `json:"start_offset_ns"`
	ExecutionTimeNs    int64    `json:"execution_time_ns"`
	NetExecutionTimeNs int64    `json:"net_execution_time_ns"`
	IOTimeNs           int64    `json:"io_time_ns,omitempty"`
	IOCallCount        int      `json:"io_call_count,omitempty"`
	IOCalls            []IOCall `json:"io_calls,omitempty"`
	Incomplete         bool     `json:"incomplete,omitempty"`
	Children           []*Call  `json:"children,omitempty"`
}

// Export copies the tree below the root. It returns nil for an empty tree.
func (t *Tree) Export() *Call {
	if t.root == NoNode {
		return nil
	}
	return t.ExportNode(t.root)
}

// ExportNode copies the subtree rooted at id. Start offsets are relative to
// the tree's root.
func (t *Tree) ExportNode(id NodeID) *Call {
	n := t.Node(id)
	if n == nil {
		return nil
	}
	var base int64
	if r := t.Node(t.root); r != nil {
		base = r.startNs
	}
	return t.export(id, n, base)
}

func (t *Tree) export(id NodeID, n *Node, base int64) *Call {
	c := &Call{
		Signature:          n.signature,
		StartOffsetNs:      n.startNs - base,
		ExecutionTimeNs:    n.execNs,
		NetExecutionTimeNs: n.netNs,
		IOTimeNs:           n.ioNs,
		IOCallCount:        n.ioCallCount,
		Incomplete:         n.incomplete || !n.stopped,
	}
	if s, ok := t.ShortSignature(id); ok {
		c.ShortSignature = s
	}
	if len(n.ioCalls) > 0 {
		c.IOCalls = append([]IOCall(nil), n.ioCalls...)
	}
	if len(n.children) > 0 {
		c.Children = make([]*Call, 0, len(n.children))
		for _, cid := range n.children {
			if child := t.Node(cid); child != nil {
				c.Children = append(c.Children, t.export(cid, child, base))
			}
		}
	}
	return c
}

// Label returns the short signature when there is one and the full
// signature otherwise.
func (c *Call) Label() string {
	if c.ShortSignature != "" {
		return c.ShortSignature
	}
	return c.Signature
}

// Walk visits c and its descendants in pre-order. Returning false from fn
// stops the walk, as with Tree.Walk.
func (c *Call) Walk(fn func(c *Call, depth int) bool) {
	c.walk(0, fn)
}

func (c *Call) walk(depth int, fn func(*Call, int) bool) bool {
	if !fn(c, depth) {
		return false
	}
	for _, child := range c.Children {
		if !child.walk(depth+1, fn) {
			return false
		}
	}
	return true
}

// String renders c with box-drawing glyphs.
func (c *Call) String() string {
	return c.Format(true)
}
