// Package dom computes dominator and post-dominator trees
// with the Cooper, Harvey, Kennedy iteration over reverse postorder.
package dom

import (
	"slices"

	"tlog.app/go/errors"
	"tlog.app/go/loc"

	"github.com/slowlang/arc/compiler/ir"
	"github.com/slowlang/arc/compiler/set"
)

type (
	Tree struct {
		n    int // nodes including the virtual exit of a post tree
		root int
		post bool

		idom     []int
		rpo      []int
		order    []int // rpo index, -1 if unreachable
		children [][]int
		depth    []int
	}

	graph struct {
		n     int
		root  int
		succs [][]int
		preds [][]int
	}
)

// Build computes the dominator tree of f.
func Build(f *ir.Func) *Tree {
	g := graph{
		n:     len(f.Blocks),
		root:  int(f.Entry),
		succs: make([][]int, len(f.Blocks)),
		preds: make([][]int, len(f.Blocks)),
	}

	var buf []ir.BlockID

	for _, b := range f.Blocks {
		buf = ir.AppendSuccs(buf[:0], b.Term)

		for _, s := range buf {
			g.edge(int(b.ID), int(s))
		}
	}

	return solve(g, false)
}

// BuildPost computes the post-dominator tree of f.
// Exit blocks are children of a virtual exit node.
// Blocks that never reach an exit are not in the tree.
func BuildPost(f *ir.Func) *Tree {
	n := len(f.Blocks)

	g := graph{
		n:     n + 1,
		root:  n,
		succs: make([][]int, n+1),
		preds: make([][]int, n+1),
	}

	var buf []ir.BlockID

	for _, b := range f.Blocks {
		buf = ir.AppendSuccs(buf[:0], b.Term)

		if len(buf) == 0 {
			g.edge(n, int(b.ID))
		}

		for _, s := range buf {
			g.edge(int(s), int(b.ID))
		}
	}

	return solve(g, true)
}

func (g *graph) edge(from, to int) {
	if slices.Contains(g.succs[from], to) {
		return
	}

	g.succs[from] = append(g.succs[from], to)
	g.preds[to] = append(g.preds[to], from)
}

func solve(g graph, post bool) *Tree {
	t := &Tree{
		n:     g.n,
		root:  g.root,
		post:  post,
		idom:  make([]int, g.n),
		order: make([]int, g.n),
		depth: make([]int, g.n),
	}

	t.rpo = postorder(g)
	slices.Reverse(t.rpo)

	for i := range t.order {
		t.order[i] = -1
		t.idom[i] = -1
	}

	for i, b := range t.rpo {
		t.order[b] = i
	}

	t.idom[g.root] = g.root

	for changed := true; changed; {
		changed = false

		for _, b := range t.rpo[1:] {
			nidom := -1

			for _, p := range g.preds[b] {
				if t.idom[p] == -1 {
					continue
				}

				if nidom == -1 {
					nidom = p
				} else {
					nidom = t.intersect(p, nidom)
				}
			}

			if nidom != t.idom[b] {
				t.idom[b] = nidom
				changed = true
			}
		}
	}

	t.idom[g.root] = -1

	t.children = make([][]int, g.n)

	for _, b := range t.rpo[1:] {
		p := t.idom[b]
		t.children[p] = append(t.children[p], b)
		t.depth[b] = t.depth[p] + 1
	}

	for _, ch := range t.children {
		slices.Sort(ch)
	}

	return t
}

func (t *Tree) intersect(a, b int) int {
	for a != b {
		for t.order[a] > t.order[b] {
			a = t.idom[a]
		}

		for t.order[b] > t.order[a] {
			b = t.idom[b]
		}
	}

	return a
}

func postorder(g graph) []int {
	type frame struct {
		b, i int
	}

	visited := set.MakeBitmap(g.n)
	visited.Set(g.root)

	var order []int
	stack := []frame{{b: g.root}}

	for len(stack) != 0 {
		top := &stack[len(stack)-1]

		if top.i < len(g.succs[top.b]) {
			s := g.succs[top.b][top.i]
			top.i++

			if visited.TrySet(s) {
				stack = append(stack, frame{b: s})
			}

			continue
		}

		order = append(order, top.b)
		stack = stack[:len(stack)-1]
	}

	return order
}

// IDom returns the immediate dominator of b or NoBlock for the root,
// unreachable blocks and blocks immediately post-dominated by the virtual exit.
func (t *Tree) IDom(b ir.BlockID) ir.BlockID {
	d := t.idom[b]

	if d == -1 || t.post && d == t.root {
		return ir.NoBlock
	}

	return ir.BlockID(d)
}

func (t *Tree) Reachable(b ir.BlockID) bool {
	return t.order[b] >= 0
}

// Dominates reports whether a dominates b. Every block dominates itself.
// Querying an unreachable b is an invariant violation in a dominator tree;
// in a post-dominator tree blocks that never exit are post-dominated by nothing.
func (t *Tree) Dominates(a, b ir.BlockID) bool {
	if !t.Reachable(b) {
		if t.post {
			return false
		}

		panic(errors.New("dominance query on unreachable block %d (from %v)", b, loc.Caller(1)))
	}

	x := int(b)

	for t.depth[x] > t.depth[a] {
		x = t.idom[x]
	}

	return x == int(a)
}

func (t *Tree) StrictlyDominates(a, b ir.BlockID) bool {
	return a != b && t.Dominates(a, b)
}

func (t *Tree) Depth(b ir.BlockID) int {
	return t.depth[b]
}

// RPO returns reachable blocks in reverse postorder.
func (t *Tree) RPO() []ir.BlockID {
	r := make([]ir.BlockID, 0, len(t.rpo))

	for _, b := range t.rpo {
		if t.post && b == t.root {
			continue
		}

		r = append(r, ir.BlockID(b))
	}

	return r
}

// Order returns the reverse postorder index of b or -1.
func (t *Tree) Order(b ir.BlockID) int {
	return t.order[b]
}

func (t *Tree) Children(b ir.BlockID) []ir.BlockID {
	r := make([]ir.BlockID, len(t.children[b]))

	for i, c := range t.children[b] {
		r[i] = ir.BlockID(c)
	}

	return r
}

// Preorder returns the tree in depth-first preorder from the root.
func (t *Tree) Preorder() []ir.BlockID {
	r := t.preorder(t.root, nil)

	if t.post {
		r = r[1:]
	}

	return r
}

// DominatedPreorder returns blocks dominated by b, b first.
func (t *Tree) DominatedPreorder(b ir.BlockID) []ir.BlockID {
	if !t.Reachable(b) {
		return nil
	}

	return t.preorder(int(b), nil)
}

func (t *Tree) preorder(b int, r []ir.BlockID) []ir.BlockID {
	stack := []int{b}

	for len(stack) != 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		r = append(r, ir.BlockID(x))

		ch := t.children[x]

		for i := len(ch) - 1; i >= 0; i-- {
			stack = append(stack, ch[i])
		}
	}

	return r
}
