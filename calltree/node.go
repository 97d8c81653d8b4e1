// Package calltree records the hierarchical timing of nested calls made by a
// single goroutine.
//
// Nodes live in an arena owned by a Tree and refer to each other by NodeID,
// never by pointer, so pruning a node or recycling a whole tree cannot leave
// a dangling reference behind. Node instances themselves are recycled through
// the pool package.
package calltree

import "slices"

// NodeID addresses a node inside the arena of one Tree.
type NodeID int32

// NoNode is the NodeID of a missing node: the parent of a root, or the cursor
// of an inactive session.
const NoNode NodeID = -1

// IOCall is an out-of-process operation attributed to a node without
// creating a child for it.
type IOCall struct {
	Description string `json:"description"`
	DurationNs  int64  `json:"duration_ns"`
}

type shortState uint8

const (
	shortUnknown shortState = iota
	shortPresent
	shortAbsent
)

// Node is one recorded invocation.
type Node struct {
	signature string
	short     string
	shortSt   shortState

	parent   NodeID
	children []NodeID

	startNs     int64
	execNs      int64
	netNs       int64
	ioNs        int64
	ioCallCount int
	ioCalls     []IOCall

	stopped    bool
	incomplete bool
}

// NewNode returns an empty, detached node.
func NewNode() *Node {
	return &Node{parent: NoNode}
}

// Reset clears n for reuse. Backing arrays are kept.
func (n *Node) Reset() {
	clear(n.ioCalls)
	*n = Node{
		parent:   NoNode,
		children: n.children[:0],
		ioCalls:  n.ioCalls[:0],
	}
}

// Signature is empty until the call stops, unless it was given at start.
func (n *Node) Signature() string { return n.signature }

// Parent is NoNode for a root.
func (n *Node) Parent() NodeID { return n.parent }

// Children returns the direct children in call order. The slice is owned by
// the node and must not be modified.
func (n *Node) Children() []NodeID { return n.children }

// StartTimestamp is the monotonic clock reading taken when the call started.
func (n *Node) StartTimestamp() int64 { return n.startNs }

// ExecutionTimeNs is the inclusive duration, set once when the call stops.
func (n *Node) ExecutionTimeNs() int64 { return n.execNs }

// NetExecutionTimeNs is the self time: the inclusive duration minus the
// inclusive durations of all direct children.
func (n *Node) NetExecutionTimeNs() int64 { return n.netNs }

// IOTimeNs is the time spent in IO calls made by this call or its callees.
func (n *Node) IOTimeNs() int64 { return n.ioNs }

// IOCallCount counts the IO calls made by this call or its callees.
func (n *Node) IOCallCount() int { return n.ioCallCount }

// IOCalls lists the IO calls recorded directly on this node.
func (n *Node) IOCalls() []IOCall { return n.ioCalls }

// Stopped reports whether the call has finished.
func (n *Node) Stopped() bool { return n.stopped }

// Incomplete reports whether the call was closed by session recovery rather
// than by a matching stop.
func (n *Node) Incomplete() bool { return n.incomplete }

func (n *Node) removeChild(id NodeID) bool {
	// the pruned child is almost always the last one appended
	for i := len(n.children) - 1; i >= 0; i-- {
		if n.children[i] == id {
			n.children = slices.Delete(n.children, i, i+1)
			return true
		}
	}
	return false
}
