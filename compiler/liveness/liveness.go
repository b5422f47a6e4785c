// Package liveness computes live variables at block boundaries.
package liveness

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/arc/compiler/df"
	"github.com/slowlang/arc/compiler/ir"
	"github.com/slowlang/arc/compiler/set"
)

type (
	Vars = set.Bits[ir.Var]

	Result struct {
		In  []Vars
		Out []Vars
	}

	// Refined splits live variables into those that may still be read
	// and those only waiting for their release.
	Refined struct {
		UseIn   []Vars
		DropIn  []Vars
		UseOut  []Vars
		DropOut []Vars
	}

	blockInfo struct {
		gen  Vars
		kill Vars
	}
)

// Compute solves liveness of tracked variables.
func Compute(ctx context.Context, f *ir.Func, track func(ir.Var) bool) *Result {
	return compute(ctx, f, track, false)
}

// Refine splits live sets of r into use and drop parts.
// A variable is live for use at a point if some path reads it before it dies.
// Refcount decrements are not reads.
func Refine(ctx context.Context, f *ir.Func, r *Result, track func(ir.Var) bool) *Refined {
	reads := compute(ctx, f, track, true)

	x := &Refined{
		UseIn:   make([]Vars, len(f.Blocks)),
		DropIn:  make([]Vars, len(f.Blocks)),
		UseOut:  make([]Vars, len(f.Blocks)),
		DropOut: make([]Vars, len(f.Blocks)),
	}

	for i := range f.Blocks {
		x.UseIn[i] = reads.In[i].Copy()
		x.UseIn[i].Intersect(r.In[i])

		x.DropIn[i] = r.In[i].Copy()
		x.DropIn[i].Substract(reads.In[i])

		x.UseOut[i] = reads.Out[i].Copy()
		x.UseOut[i].Intersect(r.Out[i])

		x.DropOut[i] = r.Out[i].Copy()
		x.DropOut[i].Substract(reads.Out[i])
	}

	if tr := tlog.SpanFromContext(ctx); tr.If("dump_refined") {
		for i := range f.Blocks {
			tr.Printw("refined liveness", "func", f.Name, "block", i, "use_in", x.UseIn[i], "drop_in", x.DropIn[i], "use_out", x.UseOut[i], "drop_out", x.DropOut[i])
		}
	}

	return x
}

func compute(ctx context.Context, f *ir.Func, track func(ir.Var) bool, readsOnly bool) *Result {
	preds := ir.Preds(f)
	succs := df.Succs(f)

	info := make([]blockInfo, len(f.Blocks))

	var uses, defs []ir.Var

	for _, b := range f.Blocks {
		var gen, kill Vars

		add := func(vs []ir.Var) {
			for _, v := range vs {
				if track(v) {
					gen.Set(v)
				}
			}
		}

		uses = ir.AppendTermUses(uses[:0], b.Term)
		add(uses)

		for i := len(b.Code) - 1; i >= 0; i-- {
			x := b.Code[i]

			if d, ok := ir.Def(x); ok {
				gen.Clear(d)
				kill.Set(d)
			}

			if _, ok := x.(ir.RcDec); ok && readsOnly {
				continue
			}

			uses = ir.AppendUses(uses[:0], x)
			add(uses)
		}

		defs = ir.EntryDefs(defs[:0], f, b, preds[b.ID])

		for _, d := range defs {
			gen.Clear(d)
			kill.Set(d)
		}

		info[b.ID] = blockInfo{gen: gen, kill: kill}
	}

	r := &Result{
		In:  make([]Vars, len(f.Blocks)),
		Out: make([]Vars, len(f.Blocks)),
	}

	df.Solve(ctx, len(f.Blocks), df.Postorder(f), preds, func(b ir.BlockID) bool {
		var out Vars

		for _, s := range succs[b] {
			out.Merge(r.In[s])
		}

		in := out.Copy()
		in.Substract(info[b].kill)
		in.Merge(info[b].gen)

		r.Out[b] = out

		if in.Equal(r.In[b]) {
			return false
		}

		r.In[b] = in

		return true
	})

	if tr := tlog.SpanFromContext(ctx); tr.If("dump_liveness") {
		for i := range f.Blocks {
			tr.Printw("liveness", "func", f.Name, "block", i, "reads_only", readsOnly, "in", r.In[i], "out", r.Out[i])
		}
	}

	return r
}

// Any reports whether v is live at either boundary of b.
func (r *Result) Any(b ir.BlockID, v ir.Var) bool {
	return r.In[b].IsSet(v) || r.Out[b].IsSet(v)
}
