// Package df drives dataflow problems over function blocks to a fixpoint.
package df

import (
	"context"
	"slices"

	"nikand.dev/go/heap"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/arc/compiler/ir"
	"github.com/slowlang/arc/compiler/set"
)

type (
	// Worklist pops pending blocks in rank order. A block is queued at most once.
	Worklist struct {
		heap.Heap[ir.BlockID]

		queued set.Bitmap
	}

	// Transfer recomputes block state and reports whether it changed.
	Transfer func(b ir.BlockID) (changed bool)
)

// NewWorklist orders blocks by their position in order.
// Blocks missing from order go last.
func NewWorklist(n int, order []ir.BlockID) *Worklist {
	rank := make([]int, n)

	for i := range rank {
		rank[i] = n + i
	}

	for i, b := range order {
		rank[b] = i
	}

	return &Worklist{
		Heap: heap.Heap[ir.BlockID]{
			Less: func(d []ir.BlockID, i, j int) bool {
				return rank[d[i]] < rank[d[j]]
			},
		},
		queued: set.MakeBitmap(n),
	}
}

func (w *Worklist) Push(b ir.BlockID) {
	if !w.queued.TrySet(int(b)) {
		return
	}

	tlog.V("df_push").Printw("block queued", "block", b, "pending", w.Len(), "from", loc.Caller(1))

	w.Heap.Push(b)
}

func (w *Worklist) Pop() ir.BlockID {
	b := w.Heap.Pop()
	w.queued.Clear(int(b))

	return b
}

// Solve runs transfer over blocks until no state changes.
// Changed blocks requeue their deps. It returns the number of transfers made.
func Solve(ctx context.Context, n int, order []ir.BlockID, deps [][]ir.BlockID, transfer Transfer) (steps int) {
	w := NewWorklist(n, order)

	for _, b := range order {
		w.Push(b)
	}

	for w.Len() != 0 {
		b := w.Pop()
		steps++

		if !transfer(b) {
			continue
		}

		for _, d := range deps[b] {
			w.Push(d)
		}
	}

	tlog.SpanFromContext(ctx).V("df").Printw("fixpoint", "blocks", n, "steps", steps)

	return steps
}

// Postorder returns all blocks of f: reachable ones in postorder followed by unreachable ones.
func Postorder(f *ir.Func) []ir.BlockID {
	type frame struct {
		b     ir.BlockID
		succs []ir.BlockID
	}

	visited := set.MakeBitmap(len(f.Blocks))
	order := make([]ir.BlockID, 0, len(f.Blocks))

	visit := func(root ir.BlockID) {
		visited.Set(int(root))
		stack := []frame{{b: root, succs: ir.Succs(f.Blocks[root].Term)}}

		for len(stack) != 0 {
			top := &stack[len(stack)-1]

			if len(top.succs) != 0 {
				s := top.succs[0]
				top.succs = top.succs[1:]

				if visited.TrySet(int(s)) {
					stack = append(stack, frame{b: s, succs: ir.Succs(f.Blocks[s].Term)})
				}

				continue
			}

			order = append(order, top.b)
			stack = stack[:len(stack)-1]
		}
	}

	visit(f.Entry)

	for _, b := range f.Blocks {
		if !visited.IsSet(int(b.ID)) {
			visit(b.ID)
		}
	}

	return order
}

// Succs returns deduplicated successors of every block.
func Succs(f *ir.Func) [][]ir.BlockID {
	r := make([][]ir.BlockID, len(f.Blocks))

	for _, b := range f.Blocks {
		for _, s := range ir.Succs(b.Term) {
			if !slices.Contains(r[b.ID], s) {
				r[b.ID] = append(r[b.ID], s)
			}
		}
	}

	return r
}
