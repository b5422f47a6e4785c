// Package rcinsert makes reference ownership explicit
// by inserting increments and decrements.
package rcinsert

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/arc/compiler/borrow"
	"github.com/slowlang/arc/compiler/ir"
	"github.com/slowlang/arc/compiler/liveness"
)

type (
	Classifier interface {
		NeedsRC(ir.TypeID) bool
	}

	inserter struct {
		f  *ir.Func
		e  borrow.Env
		cl Classifier

		live  *liveness.Result
		preds [][]ir.BlockID

		head [][]ir.Instr
		tail [][]ir.Instr
		dead []liveness.Vars

		uses  []ir.Var
		modes []ir.Ownership
		defs  []ir.Var
		occ   []occurrence

		incs, decs, tramps int
	}

	occurrence struct {
		v        ir.Var
		consume  int
		borrowed int
	}
)

// Insert adds RcInc and RcDec instructions to f so that every owned
// reference is released exactly once on every path.
// Variables tagged borrowed are never released.
func Insert(ctx context.Context, f *ir.Func, e borrow.Env, live *liveness.Result, cl Classifier) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "rc insert", "func", f.Name)
	defer tr.Finish("err", &err)

	if e.Tags == nil {
		return errors.New("no ownership tags")
	}

	if len(live.In) != len(f.Blocks) {
		return errors.New("liveness of %d blocks for %d blocks func", len(live.In), len(f.Blocks))
	}

	e.F = f

	w := &inserter{
		f:     f,
		e:     e,
		cl:    cl,
		live:  live,
		preds: ir.Preds(f),
		head:  make([][]ir.Instr, len(f.Blocks)),
		tail:  make([][]ir.Instr, len(f.Blocks)),
		dead:  make([]liveness.Vars, len(f.Blocks)),
	}

	n := len(f.Blocks)

	for _, b := range f.Blocks[:n] {
		w.block(b)
	}

	w.edges(n)

	for id, b := range f.Blocks[:n] {
		if len(w.head[id]) == 0 && len(w.tail[id]) == 0 {
			continue
		}

		code := make([]ir.Instr, 0, len(w.head[id])+len(b.Code)+len(w.tail[id]))
		code = append(code, w.head[id]...)
		code = append(code, b.Code...)
		code = append(code, w.tail[id]...)

		b.Code = code
	}

	tr.Printw("rc inserted", "func", f.Name, "incs", w.incs, "decs", w.decs, "trampolines", w.tramps)

	return nil
}

func (w *inserter) tracked(v ir.Var) bool {
	return w.cl.NeedsRC(w.f.Type(v))
}

func (w *inserter) owned(v ir.Var) bool {
	return w.tracked(v) && !w.e.Tags.Borrowed(v)
}

// block rewrites b code walking backward from its live out set.
// Releases due after the terminator are left in w.dead for edges.
func (w *inserter) block(b *ir.Block) {
	live := w.live.Out[b.ID].Copy()

	w.uses = ir.AppendTermUses(w.uses[:0], b.Term)
	w.modes = w.e.AppendTermModes(w.modes[:0], b.Term)

	before, after := w.step(&live, w.uses, w.modes)

	var dead liveness.Vars

	for _, v := range after {
		dead.Set(v)
	}

	w.dead[b.ID] = dead

	code := make([]ir.Instr, 0, len(b.Code)+len(before))
	rev := make([]ir.Instr, 0, 4)

	// code is built reversed
	for i := len(before) - 1; i >= 0; i-- {
		code = append(code, before[i])
	}

	for i := len(b.Code) - 1; i >= 0; i-- {
		x := b.Code[i]
		rev = rev[:0]

		if d, ok := ir.Def(x); ok && w.tracked(d) {
			_, proj := x.(ir.Project)

			switch {
			case w.e.Tags.Borrowed(d):
			case proj && live.IsSet(d):
				rev = append(rev, ir.RcInc{Var: d, Count: 1})
				w.incs++
			case !live.IsSet(d) && !proj:
				rev = append(rev, ir.RcDec{Var: d})
				w.decs++
			}

			live.Clear(d)
		}

		w.uses = ir.AppendUses(w.uses[:0], x)
		w.modes = w.e.AppendModes(w.modes[:0], x)

		before, after := w.step(&live, w.uses, w.modes)

		for _, v := range after {
			rev = append(rev, ir.RcDec{Var: v})
		}

		for j := len(rev) - 1; j >= 0; j-- {
			code = append(code, rev[j])
		}

		code = append(code, x)

		for j := len(before) - 1; j >= 0; j-- {
			code = append(code, before[j])
		}
	}

	w.defs = ir.EntryDefs(w.defs[:0], w.f, b, w.preds[b.ID])

	for _, d := range w.defs {
		if w.owned(d) && !live.IsSet(d) {
			w.head[b.ID] = append(w.head[b.ID], ir.RcDec{Var: d})
			w.decs++
		}
	}

	for i, j := 0, len(code)-1; i < j; i, j = i+1, j-1 {
		code[i], code[j] = code[j], code[i]
	}

	b.Code = code

	tlog.V("rc_insert_block").Printw("block", "block", b.ID, "live_in", live, "live_out", w.live.Out[b.ID])
}

// step handles operands of one instruction. live is the set after it,
// on return it is the set before it.
// It returns increments to put before the instruction and variables to release after it.
func (w *inserter) step(live *liveness.Vars, uses []ir.Var, modes []ir.Ownership) (before []ir.Instr, after []ir.Var) {
	w.occ = w.occ[:0]

outer:
	for i, v := range uses {
		if !w.tracked(v) {
			continue
		}

		for j := range w.occ {
			if w.occ[j].v == v {
				w.count(&w.occ[j], modes[i])
				continue outer
			}
		}

		w.occ = append(w.occ, occurrence{v: v})
		w.count(&w.occ[len(w.occ)-1], modes[i])
	}

	for _, o := range w.occ {
		liveAfter := live.IsSet(o.v)
		live.Set(o.v)

		if w.e.Tags.Borrowed(o.v) {
			if o.consume > 0 {
				before = append(before, ir.RcInc{Var: o.v, Count: o.consume})
				w.incs += o.consume
			}

			continue
		}

		n := o.consume
		if n > 0 && !liveAfter && o.borrowed == 0 {
			n--
		}

		if n > 0 {
			before = append(before, ir.RcInc{Var: o.v, Count: n})
			w.incs += n
		}

		if !liveAfter && (o.consume == 0 || o.borrowed > 0) {
			after = append(after, o.v)
			w.decs++
		}
	}

	return before, after
}

func (w *inserter) count(o *occurrence, m ir.Ownership) {
	if m == ir.Owned {
		o.consume++
	} else {
		o.borrowed++
	}
}

// edges releases variables dying on control flow edges.
func (w *inserter) edges(n int) {
	f := w.f

	gaps := make(map[[2]ir.BlockID]liveness.Vars)

	gap := func(p, s ir.BlockID) liveness.Vars {
		k := [2]ir.BlockID{p, s}
		if g, ok := gaps[k]; ok {
			return g
		}

		g := w.live.Out[p].Copy()
		g.Merge(w.dead[p])
		g.Substract(w.live.In[s])

		g.Range(func(v ir.Var) bool {
			if !w.owned(v) {
				g.Clear(v)
			}

			return true
		})

		gaps[k] = g

		return g
	}

	for s := ir.BlockID(0); int(s) < n; s++ {
		preds := w.preds[s]
		if len(preds) == 0 {
			continue
		}

		same := true
		first := gap(preds[0], s)

		for _, p := range preds[1:] {
			if !gap(p, s).Equal(first) {
				same = false
				break
			}
		}

		if same {
			w.head[s] = append(w.head[s], w.release(first)...)
			continue
		}

		for _, p := range preds {
			g := gap(p, s)
			if g.Empty() {
				continue
			}

			if single(f.Blocks[p].Term) {
				w.tail[p] = append(w.tail[p], w.release(g)...)
				continue
			}

			t := f.NewBlock()
			t.Code = w.release(g)
			t.Term = ir.Jump{Target: s}

			f.Blocks[p].Term = ir.RedirectEdge(f.Blocks[p].Term, s, t.ID)
			w.tramps++

			tlog.V("rc_insert_edge").Printw("trampoline", "from", p, "to", s, "via", t.ID, "decs", g)
		}
	}
}

func (w *inserter) release(g liveness.Vars) (r []ir.Instr) {
	g.Range(func(v ir.Var) bool {
		r = append(r, ir.RcDec{Var: v})
		w.decs++

		return true
	})

	return r
}

// single reports whether t has one distinct successor.
func single(t ir.Term) bool {
	succs := ir.Succs(t)
	if len(succs) == 0 {
		return false
	}

	for _, s := range succs[1:] {
		if s != succs[0] {
			return false
		}
	}

	return true
}
