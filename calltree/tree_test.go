package calltree

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fllarpy/callprobe/pool"
)

func TestTree_Nesting(t *testing.T) {
	tree := buildExampleTree(t)

	got := tree.Export()
	want := &Call{
		Signature:       "method1()",
		ExecutionTimeNs: 10_000_000,
		Children: []*Call{
			{
				Signature:          "method1_1()",
				ExecutionTimeNs:    5_000_000,
				NetExecutionTimeNs: 500_000,
				Children: []*Call{
					{Signature: "method1_1_1()", ExecutionTimeNs: 2_000_000, NetExecutionTimeNs: 2_000_000},
					{Signature: "method1_1_2()", StartOffsetNs: 2_000_000, ExecutionTimeNs: 2_500_000, NetExecutionTimeNs: 2_500_000},
				},
			},
			{
				Signature:          "method1_2()",
				StartOffsetNs:      5_000_000,
				ExecutionTimeNs:    5_000_000,
				NetExecutionTimeNs: 2_500_000,
				Children: []*Call{
					{Signature: "method1_2_1()", StartOffsetNs: 5_000_000, ExecutionTimeNs: 2_500_000, NetExecutionTimeNs: 2_500_000},
				},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected tree (-want +got):\n%s", diff)
	}
	assert.Equal(t, 6, tree.Len())
}

func TestTree_NetTimeInvariant(t *testing.T) {
	tree := buildExampleTree(t)

	tree.Walk(tree.Root(), func(_ NodeID, n *Node, _ int) bool {
		sum := int64(0)
		for _, c := range n.Children() {
			sum += tree.Node(c).ExecutionTimeNs()
		}
		assert.Equal(t, n.ExecutionTimeNs()-sum, n.NetExecutionTimeNs(), n.Signature())
		assert.True(t, n.Stopped())
		return true
	})
}

func TestTree_WalkDepthAndStop(t *testing.T) {
	tree := buildExampleTree(t)

	var visited []string
	var depths []int
	tree.Walk(tree.Root(), func(_ NodeID, n *Node, depth int) bool {
		visited = append(visited, n.Signature())
		depths = append(depths, depth)
		return true
	})
	assert.Equal(t, []string{"method1()", "method1_1()", "method1_1_1()", "method1_1_2()", "method1_2()", "method1_2_1()"}, visited)
	assert.Equal(t, []int{0, 1, 2, 2, 1, 2}, depths)

	count := 0
	tree.Walk(tree.Root(), func(NodeID, *Node, int) bool {
		count++
		return count < 3
	})
	assert.Equal(t, 3, count)
}

func TestTree_Pruning(t *testing.T) {
	const minNs = 1_000_000

	t.Run("short leaf is removed and credited to parent", func(t *testing.T) {
		tree := NewTree()
		root := tree.CreateRoot("root", 0)
		a := tree.Start(root, "", 100)
		require.Equal(t, root, tree.ExecutionStopped(a, "fast()", 200, minNs))
		tree.ExecutionStopped(root, "", 5_000_000, minNs)

		r := tree.Node(root)
		assert.Empty(t, r.Children())
		assert.Equal(t, int64(5_000_000), r.ExecutionTimeNs())
		assert.Equal(t, int64(5_000_000), r.NetExecutionTimeNs())
		assert.Equal(t, 1, tree.Len())
	})

	t.Run("long leaf is kept", func(t *testing.T) {
		tree := NewTree()
		root := tree.CreateRoot("root", 0)
		a := tree.Start(root, "", 0)
		tree.ExecutionStopped(a, "slow()", minNs, minNs)
		tree.ExecutionStopped(root, "", 3*minNs, minNs)

		require.Len(t, tree.Node(root).Children(), 1)
		assert.Equal(t, int64(2*minNs), tree.Node(root).NetExecutionTimeNs())
	})

	t.Run("short node with children is kept", func(t *testing.T) {
		tree := NewTree()
		root := tree.CreateRoot("root", 0)
		a := tree.Start(root, "", 0)
		b := tree.Start(a, "", 0)
		require.Equal(t, a, tree.ExecutionStopped(b, "b()", 10, 1))
		require.Equal(t, root, tree.ExecutionStopped(a, "a()", 20, minNs))
		tree.ExecutionStopped(root, "", 30, minNs)

		require.Len(t, tree.Node(root).Children(), 1)
		assert.Equal(t, "a()", tree.Node(tree.Node(root).Children()[0]).Signature())
		assert.Equal(t, 3, tree.Len())
	})

	t.Run("zero minimum keeps everything", func(t *testing.T) {
		tree := NewTree()
		root := tree.CreateRoot("root", 0)
		a := tree.Start(root, "", 0)
		tree.ExecutionStopped(a, "instant()", 0, 0)
		assert.Len(t, tree.Node(root).Children(), 1)
	})

	t.Run("root is never pruned", func(t *testing.T) {
		tree := NewTree()
		root := tree.CreateRoot("root", 0)
		assert.Equal(t, NoNode, tree.ExecutionStopped(root, "", 1, minNs))
		assert.NotNil(t, tree.Node(root))
		assert.Equal(t, int64(1), tree.Node(root).ExecutionTimeNs())
	})

	t.Run("pruned slots are reused", func(t *testing.T) {
		tree := NewTree()
		root := tree.CreateRoot("root", 0)
		a := tree.Start(root, "", 0)
		tree.ExecutionStopped(a, "", 1, minNs)
		b := tree.Start(root, "", 2)
		assert.Equal(t, a, b)
		assert.False(t, tree.Node(b).Stopped())
	})

	t.Run("io calls of a pruned leaf move to the parent", func(t *testing.T) {
		tree := NewTree()
		root := tree.CreateRoot("root", 0)
		a := tree.Start(root, "", 0)
		tree.AddIOCall(a, "SELECT 1", 50)
		tree.ExecutionStopped(a, "fast()", 100, minNs)

		r := tree.Node(root)
		assert.Equal(t, []IOCall{{Description: "SELECT 1", DurationNs: 50}}, r.IOCalls())
		assert.Equal(t, int64(50), r.IOTimeNs())
		assert.Equal(t, 1, r.IOCallCount())
	})
}

func TestTree_StartRejectsClosedParent(t *testing.T) {
	tree := NewTree()
	assert.Equal(t, NoNode, tree.Start(NoNode, "x", 0))
	assert.Equal(t, NoNode, tree.Start(7, "x", 0))

	root := tree.CreateRoot("root", 0)
	tree.ExecutionStopped(root, "", 10, 0)
	assert.Equal(t, NoNode, tree.Start(root, "x", 20))
	assert.Equal(t, NoNode, tree.ExecutionStopped(root, "", 30, 0), "a node stops once")
	assert.Equal(t, int64(10), tree.Node(root).ExecutionTimeNs())
}

func TestTree_StartClampsToParent(t *testing.T) {
	tree := NewTree()
	root := tree.CreateRoot("root", 1_000)
	a := tree.Start(root, "", 500)
	assert.Equal(t, int64(1_000), tree.Node(a).StartTimestamp())
}

func TestTree_ClockSkew(t *testing.T) {
	t.Run("negative durations are kept", func(t *testing.T) {
		tree := NewTree()
		root := tree.CreateRoot("root", 1_000)
		a := tree.Start(root, "", 1_000)
		b := tree.Start(a, "", 1_000)

		assert.NotPanics(t, func() {
			require.Equal(t, a, tree.ExecutionStopped(b, "b()", 400, 0))
			require.Equal(t, root, tree.ExecutionStopped(a, "a()", 700, 0))
			require.Equal(t, NoNode, tree.ExecutionStopped(root, "", 900, 0))
		})

		assert.Equal(t, int64(-600), tree.Node(b).ExecutionTimeNs())
		assert.Equal(t, int64(-600), tree.Node(b).NetExecutionTimeNs())
		assert.Equal(t, int64(-300), tree.Node(a).ExecutionTimeNs())
		assert.Equal(t, int64(300), tree.Node(a).NetExecutionTimeNs())
		assert.Equal(t, int64(-100), tree.Node(root).ExecutionTimeNs())
		assert.Equal(t, int64(200), tree.Node(root).NetExecutionTimeNs())

		tree.Walk(root, func(_ NodeID, n *Node, _ int) bool {
			sum := int64(0)
			for _, c := range n.Children() {
				sum += tree.Node(c).ExecutionTimeNs()
			}
			assert.Equal(t, n.ExecutionTimeNs()-sum, n.NetExecutionTimeNs(), n.Signature())
			return true
		})

		rows := splitRows(tree.Format(false))
		assert.Equal(t, []string{
			"      0.00    0%       0.00    0%  root",
			"      0.00    0%       0.00    0%    a()",
			"      0.00    0%       0.00    0%      b()",
		}, rows)
	})

	t.Run("negative leaf is pruned and credited back", func(t *testing.T) {
		const minNs = 1_000_000
		tree := NewTree()
		root := tree.CreateRoot("root", 1_000)
		a := tree.Start(root, "", 1_000)

		assert.NotPanics(t, func() {
			require.Equal(t, root, tree.ExecutionStopped(a, "a()", 400, minNs))
		})
		tree.ExecutionStopped(root, "", 2_001_000, minNs)

		r := tree.Node(root)
		assert.Empty(t, r.Children())
		assert.Equal(t, int64(2_000_000), r.ExecutionTimeNs())
		assert.Equal(t, int64(2_000_000), r.NetExecutionTimeNs())
		assert.Equal(t, 1, tree.Len())
	})
}

func TestTree_SignatureGivenAtStart(t *testing.T) {
	tree := NewTree()
	root := tree.CreateRoot("root", 0)
	a := tree.Start(root, "start()", 0)
	tree.ExecutionStopped(a, "", 5, 0)
	assert.Equal(t, "start()", tree.Node(a).Signature())

	b := tree.Start(root, "before()", 5)
	tree.ExecutionStopped(b, "after()", 6, 0)
	assert.Equal(t, "after()", tree.Node(b).Signature())
}

func TestTree_CreateRootReplacesContent(t *testing.T) {
	tree := buildExampleTree(t)
	root := tree.CreateRoot("again", 42)

	assert.Equal(t, 1, tree.Len())
	assert.Equal(t, root, tree.Root())
	assert.Equal(t, "again", tree.Node(root).Signature())
	assert.Equal(t, NoNode, tree.Node(root).Parent())
}

func TestTree_AddIOCall(t *testing.T) {
	tree := NewTree()
	root := tree.CreateRoot("root", 0)
	a := tree.Start(root, "", 0)
	b := tree.Start(a, "", 0)

	tree.AddIOCall(b, "GET http://svc/items", 300)
	tree.AddIOCall(a, "SELECT * FROM items", 200)
	tree.AddIOCall(NoNode, "ignored", 1)

	tree.ExecutionStopped(b, "b()", 400, 0)
	tree.ExecutionStopped(a, "a()", 1_000, 0)
	tree.ExecutionStopped(root, "", 1_000, 0)

	nb, na, nr := tree.Node(b), tree.Node(a), tree.Node(root)
	assert.Equal(t, []IOCall{{Description: "GET http://svc/items", DurationNs: 300}}, nb.IOCalls())
	assert.Equal(t, []IOCall{{Description: "SELECT * FROM items", DurationNs: 200}}, na.IOCalls())
	assert.Empty(t, nr.IOCalls())

	assert.Equal(t, int64(300), nb.IOTimeNs())
	assert.Equal(t, int64(500), na.IOTimeNs())
	assert.Equal(t, int64(500), nr.IOTimeNs())
	assert.Equal(t, 1, nb.IOCallCount())
	assert.Equal(t, 2, na.IOCallCount())
	assert.Equal(t, 2, nr.IOCallCount())

	// self time is not reduced by IO
	assert.Equal(t, int64(600), na.NetExecutionTimeNs())
}

func TestTree_Unwind(t *testing.T) {
	tree := NewTree()
	root := tree.CreateRoot("root", 0)
	a := tree.Start(root, "a()", 10)
	b := tree.Start(a, "b()", 20)

	assert.Equal(t, root, tree.Unwind(b, 100))
	assert.False(t, tree.Node(root).Stopped())
	tree.ExecutionStopped(root, "", 100, 0)

	for _, id := range []NodeID{a, b} {
		n := tree.Node(id)
		require.NotNil(t, n)
		assert.True(t, n.Stopped())
		assert.True(t, n.Incomplete())
	}
	assert.False(t, tree.Node(root).Incomplete())
	assert.Equal(t, int64(80), tree.Node(b).ExecutionTimeNs())
	assert.Equal(t, int64(90), tree.Node(a).ExecutionTimeNs())
	assert.Equal(t, int64(10), tree.Node(root).NetExecutionTimeNs())

	exported := tree.Export()
	assert.False(t, exported.Incomplete)
	assert.True(t, exported.Children[0].Incomplete)
}

func TestTree_UnwindAtRootIsNoop(t *testing.T) {
	tree := NewTree()
	root := tree.CreateRoot("root", 0)
	assert.Equal(t, root, tree.Unwind(root, 10))
	assert.False(t, tree.Node(root).Stopped())
}

func TestTree_ExportMarksOpenNodes(t *testing.T) {
	tree := NewTree()
	root := tree.CreateRoot("root", 0)
	tree.Start(root, "open()", 5)

	c := tree.Export()
	assert.True(t, c.Incomplete)
	assert.True(t, c.Children[0].Incomplete)
	assert.Nil(t, NewTree().Export())
	assert.Nil(t, tree.ExportNode(NoNode))
}

func TestTree_ShortSignatureCache(t *testing.T) {
	tree := NewTree()
	root := tree.CreateRoot("root", 0)
	a := tree.Start(root, "", 0)
	tree.ExecutionStopped(a, "public void com.example.Foo.bar()", 5, 0)

	s, ok := tree.ShortSignature(a)
	require.True(t, ok)
	assert.Equal(t, "Foo#bar", s)
	s, ok = tree.ShortSignature(a)
	assert.True(t, ok)
	assert.Equal(t, "Foo#bar", s)

	_, ok = tree.ShortSignature(root)
	assert.False(t, ok)
	_, ok = tree.ShortSignature(NoNode)
	assert.False(t, ok)

	assert.Equal(t, "Foo#bar", tree.Export().Children[0].Label())
	assert.Equal(t, "root", tree.Export().Label())
}

func TestTree_ShortSignaturesDisabled(t *testing.T) {
	tree := NewTree()
	tree.Init(pool.Handle[*Node]{}, false)
	root := tree.CreateRoot("root", 0)
	a := tree.Start(root, "", 0)
	tree.ExecutionStopped(a, "public void com.example.Foo.bar()", 5, 0)

	_, ok := tree.ShortSignature(a)
	assert.False(t, ok)
	assert.Empty(t, tree.Export().Children[0].ShortSignature)
}

func TestTree_Pooled(t *testing.T) {
	r := pool.NewRegistry()
	require.NoError(t, RegisterPools(r, 8))
	local := r.NewLocal()

	nodes, err := pool.For[*Node](local)
	require.NoError(t, err)
	tree, err := pool.Acquire[*Tree](local)
	require.NoError(t, err)
	tree.Init(nodes, true)

	root := tree.CreateRoot("root", 0)
	for i := 0; i < 4; i++ {
		id := tree.Start(root, "", int64(i))
		tree.AddIOCall(id, "q", 1)
		tree.ExecutionStopped(id, "child()", int64(i+1), 0)
	}
	tree.ExecutionStopped(root, "", 10, 0)
	assert.Equal(t, 0, nodes.Len())

	tree.Release()
	assert.Equal(t, 5, nodes.Len())
	assert.Equal(t, NoNode, tree.Root())
	assert.Equal(t, 0, tree.Len())

	n := nodes.Get()
	assert.Empty(t, n.Children())
	assert.Empty(t, n.IOCalls())
	assert.Equal(t, NoNode, n.Parent())
	assert.False(t, n.Stopped())

	ok, err := pool.Release(local, tree)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNode_Reset(t *testing.T) {
	n := NewNode()
	n.signature = "x()"
	n.parent = 3
	n.children = append(n.children, 4, 5)
	n.startNs, n.execNs, n.netNs = 1, 2, 3
	n.ioNs, n.ioCallCount = 4, 1
	n.ioCalls = append(n.ioCalls, IOCall{Description: "q", DurationNs: 4})
	n.stopped, n.incomplete = true, true
	n.short, n.shortSt = "X#x", shortPresent

	n.Reset()

	assert.Equal(t, "", n.Signature())
	assert.Equal(t, NoNode, n.Parent())
	assert.Empty(t, n.Children())
	assert.Zero(t, n.StartTimestamp())
	assert.Zero(t, n.ExecutionTimeNs())
	assert.Zero(t, n.NetExecutionTimeNs())
	assert.Zero(t, n.IOTimeNs())
	assert.Zero(t, n.IOCallCount())
	assert.Empty(t, n.IOCalls())
	assert.False(t, n.Stopped())
	assert.False(t, n.Incomplete())
	assert.Equal(t, shortUnknown, n.shortSt)
	assert.GreaterOrEqual(t, cap(n.children), 2)
}

func TestCall_Walk(t *testing.T) {
	c := buildExampleTree(t).Export()

	var labels []string
	c.Walk(func(c *Call, depth int) bool {
		labels = append(labels, c.Signature)
		return c.Signature != "method1_1()"
	})
	assert.Equal(t, []string{"method1()", "method1_1()"}, labels)

	labels = labels[:0]
	var depths []int
	c.Walk(func(c *Call, depth int) bool {
		labels = append(labels, c.Signature)
		depths = append(depths, depth)
		return true
	})
	assert.Equal(t, []string{"method1()", "method1_1()", "method1_1_1()", "method1_1_2()", "method1_2()", "method1_2_1()"}, labels)
	assert.Equal(t, []int{0, 1, 2, 2, 1, 2}, depths)
}

func TestWalk_StopsLikeTreeWalk(t *testing.T) {
	tree := buildExampleTree(t)
	stopAt := "method1_1_1()"

	var fromTree []string
	tree.Walk(tree.Root(), func(_ NodeID, n *Node, _ int) bool {
		fromTree = append(fromTree, n.Signature())
		return n.Signature() != stopAt
	})
	var fromCall []string
	tree.Export().Walk(func(c *Call, _ int) bool {
		fromCall = append(fromCall, c.Signature)
		return c.Signature != stopAt
	})
	assert.Equal(t, []string{"method1()", "method1_1()", "method1_1_1()"}, fromCall)
	assert.Equal(t, fromTree, fromCall)
}
