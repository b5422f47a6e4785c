package borrow

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/arc/compiler/ir"
)

// Captures marks closure captures that may stay borrowed.
// A capture stays borrowed when the captured value is borrowed,
// the callee borrows that param, and the closure is only called
// within its defining block. Other captures are owned by the closure.
func Captures(ctx context.Context, f *ir.Func, sigs Sigs, tags *Tags) (n int) {
	tr := tlog.SpanFromContext(ctx)

	local := localClosures(f)

	for _, b := range f.Blocks {
		for i, x := range b.Code {
			pa, ok := x.(ir.PartialApply)
			if !ok || !local[pa.Dst] {
				continue
			}

			var marked []bool

			for j, a := range pa.Args {
				if !tags.Borrowed(a) {
					continue
				}

				if sig, ok := sigs[pa.Func]; !ok || j >= len(sig) || sig[j] != ir.Borrowed {
					continue
				}

				if marked == nil {
					marked = make([]bool, len(pa.Args))
					copy(marked, pa.Borrowed)
				}

				marked[j] = true
				n++

				tr.V("captures").Printw("borrowed capture", "func", f.Name, "closure", pa.Dst, "arg", a)
			}

			if marked != nil {
				pa.Borrowed = marked
				b.Code[i] = pa
			}
		}
	}

	return n
}

// localClosures finds closures used only as the callee of indirect
// applications in their own block.
func localClosures(f *ir.Func) map[ir.Var]bool {
	home := map[ir.Var]ir.BlockID{}
	ok := map[ir.Var]bool{}

	for _, b := range f.Blocks {
		for _, x := range b.Code {
			if pa, isPA := x.(ir.PartialApply); isPA {
				home[pa.Dst] = b.ID
				ok[pa.Dst] = true
			}
		}
	}

	spoil := func(v ir.Var) {
		if ok[v] {
			ok[v] = false
		}
	}

	var uses []ir.Var

	for _, b := range f.Blocks {
		for _, x := range b.Code {
			if ai, isAI := x.(ir.ApplyIndirect); isAI {
				if h, known := home[ai.Closure]; known && h != b.ID {
					spoil(ai.Closure)
				}

				for _, a := range ai.Args {
					spoil(a)
				}

				continue
			}

			uses = ir.AppendUses(uses[:0], x)

			for _, v := range uses {
				spoil(v)
			}
		}

		uses = ir.AppendTermUses(uses[:0], b.Term)

		for _, v := range uses {
			spoil(v)
		}
	}

	return ok
}
