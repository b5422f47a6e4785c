// Package rcelim removes increments cancelled by decrements of the same variable.
package rcelim

import (
	"context"
	"slices"

	"tlog.app/go/tlog"

	"github.com/slowlang/arc/compiler/df"
	"github.com/slowlang/arc/compiler/ir"
	"github.com/slowlang/arc/compiler/liveness"
	"github.com/slowlang/arc/compiler/set"
)

type (
	Vars = liveness.Vars

	// flow is the per block summary the lattices are built from.
	flow struct {
		touched Vars // used or defined anywhere in the block
		incTail Vars // last touch in the block is an increment
		decHead Vars // first touch in the block is a decrement
	}

	elim struct {
		f     *ir.Func
		preds [][]ir.BlockID
		succs [][]ir.BlockID

		flow []flow

		availIn  []Vars // increments available on every path into the block
		availOut []Vars
		antIn    []Vars // decrements anticipated on every path out of the block
		antOut   []Vars
	}

	// web is a set of trailing increments and leading decrements of one variable
	// such that every path leaving an increment meets a decrement and nothing else.
	web struct {
		v    ir.Var
		incs set.Bitmap
		decs set.Bitmap
		thru set.Bitmap
	}
)

// DefaultRounds limits the number of intra and cross block rounds.
const DefaultRounds = 64

// Eliminate cancels increments against later decrements of the same variable
// with no use in between. It runs to a fixpoint, so a second call returns 0.
// n is the number of cancelled pairs.
func Eliminate(ctx context.Context, f *ir.Func) (n int, err error) {
	return EliminateRounds(ctx, f, DefaultRounds)
}

// EliminateRounds is Eliminate stopping after maxRounds rounds.
// Stopping early leaves redundant pairs but the code stays balanced.
func EliminateRounds(ctx context.Context, f *ir.Func, maxRounds int) (n int, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "rc elim", "func", f.Name)
	defer tr.Finish("err", &err)

	for round := 0; ; round++ {
		if round == maxRounds {
			tr.Printw("round limit reached", "func", f.Name, "rounds", round, "pairs", n)
			break
		}

		k := Local(f)
		k += crossBlock(ctx, f)

		tr.V("rc_elim").Printw("round", "func", f.Name, "round", round, "pairs", k)

		if k == 0 {
			break
		}

		n += k
	}

	return n, nil
}

// Local cancels increment and decrement pairs inside blocks.
// A decrement cancels the nearest preceding increment if nothing touches the variable in between.
// A decrement never cancels a later increment.
func Local(f *ir.Func) (n int) {
	for _, b := range f.Blocks {
		for j := 0; j < len(b.Code); j++ {
			dec, ok := b.Code[j].(ir.RcDec)
			if !ok {
				continue
			}

			i := lastTouch(b.Code[:j], dec.Var)
			if i < 0 {
				continue
			}

			inc, ok := b.Code[i].(ir.RcInc)
			if !ok {
				continue
			}

			b.Code = slices.Delete(b.Code, j, j+1)
			j--

			if dropInc(b, i, inc) {
				j--
			}

			n++
		}
	}

	return n
}

func crossBlock(ctx context.Context, f *ir.Func) (n int) {
	w := &elim{
		f:     f,
		preds: ir.Preds(f),
		succs: df.Succs(f),
		flow:  make([]flow, len(f.Blocks)),
	}

	w.summarize()
	w.solve(ctx)

	done := make([]Vars, len(f.Blocks))

	for _, b := range f.Blocks {
		cand := w.flow[b.ID].incTail.Copy()
		cand.Intersect(w.antOut[b.ID])
		cand.Substract(done[b.ID])

		cand.Range(func(v ir.Var) bool {
			wb, ok := w.web(b.ID, v)

			mark := func(i int) bool {
				done[i].Set(v)
				return true
			}

			wb.incs.Range(mark)

			if !ok {
				return true
			}

			w.commit(wb)
			n += wb.incs.Size()

			tlog.SpanFromContext(ctx).V("rc_elim_web").Printw("web", "func", f.Name, "var", v, "incs", wb.incs.Size(), "decs", wb.decs.Size(), "through", wb.thru.Size())

			return true
		})
	}

	return n
}

func (w *elim) summarize() {
	f := w.f

	var uses, defs []ir.Var

	for _, b := range f.Blocks {
		fl := &w.flow[b.ID]

		touch := func(v ir.Var) {
			fl.touched.Set(v)
		}

		defs = ir.EntryDefs(defs[:0], f, b, w.preds[b.ID])

		for _, d := range defs {
			touch(d)
		}

		for _, x := range b.Code {
			uses = ir.AppendUses(uses[:0], x)

			if dec, ok := x.(ir.RcDec); ok && !fl.touched.IsSet(dec.Var) {
				fl.decHead.Set(dec.Var)
			}

			for _, u := range uses {
				touch(u)
			}

			if d, ok := ir.Def(x); ok {
				touch(d)
			}
		}

		uses = ir.AppendTermUses(uses[:0], b.Term)

		for _, u := range uses {
			touch(u)
		}

		for i := len(b.Code) - 1; i >= 0; i-- {
			inc, ok := b.Code[i].(ir.RcInc)
			if !ok || ir.TermUses(b.Term, inc.Var) || lastTouch(b.Code, inc.Var) != i {
				continue
			}

			fl.incTail.Set(inc.Var)
		}
	}
}

// solve runs forward available increments and backward anticipated decrements.
// Both meet by intersection and start from the empty set.
func (w *elim) solve(ctx context.Context) {
	n := len(w.f.Blocks)

	w.availIn = make([]Vars, n)
	w.availOut = make([]Vars, n)
	w.antIn = make([]Vars, n)
	w.antOut = make([]Vars, n)

	post := df.Postorder(w.f)
	rpo := slices.Clone(post)
	slices.Reverse(rpo)

	meet := func(dst *Vars, from []ir.BlockID, state []Vars) {
		dst.Reset()

		for i, p := range from {
			if i == 0 {
				dst.Merge(state[p])
				continue
			}

			dst.Intersect(state[p])
		}
	}

	transfer := func(b ir.BlockID, in Vars, gen Vars, out *Vars) bool {
		x := in.Copy()
		x.Substract(w.flow[b].touched)
		x.Merge(gen)

		if x.Equal(*out) {
			return false
		}

		*out = x

		return true
	}

	df.Solve(ctx, n, rpo, w.succs, func(b ir.BlockID) bool {
		if b == w.f.Entry {
			w.availIn[b].Reset()
		} else {
			meet(&w.availIn[b], w.preds[b], w.availOut)
		}

		return transfer(b, w.availIn[b], w.flow[b].incTail, &w.availOut[b])
	})

	df.Solve(ctx, n, post, w.preds, func(b ir.BlockID) bool {
		meet(&w.antOut[b], w.succs[b], w.antIn)

		return transfer(b, w.antOut[b], w.flow[b].decHead, &w.antIn[b])
	})
}

// web grows the web of v from the trailing increment in block p.
// It fails if some path from an increment reaches anything but a decrement of the web,
// if some path into a decrement bypasses the increments,
// or if a path enters the web at the function entry.
func (w *elim) web(p ir.BlockID, v ir.Var) (wb web, ok bool) {
	n := len(w.f.Blocks)

	wb = web{
		v:    v,
		incs: set.MakeBitmap(n),
		decs: set.MakeBitmap(n),
		thru: set.MakeBitmap(n),
	}

	type step struct {
		b   ir.BlockID
		fwd bool
	}

	var queue []step

	wb.incs.Set(int(p))
	queue = append(queue, step{b: p, fwd: true})

	for len(queue) != 0 {
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		if !s.fwd && s.b == w.f.Entry {
			return wb, false
		}

		if s.fwd && len(w.succs[s.b]) == 0 {
			return wb, false
		}

		next := w.succs[s.b]
		if !s.fwd {
			next = w.preds[s.b]
		}

		for _, x := range next {
			fl := &w.flow[x]

			switch {
			case s.fwd && fl.decHead.IsSet(v) && w.availIn[x].IsSet(v):
				if wb.decs.TrySet(int(x)) {
					queue = append(queue, step{b: x, fwd: false})
				}
			case !s.fwd && fl.incTail.IsSet(v) && w.antOut[x].IsSet(v):
				if wb.incs.TrySet(int(x)) {
					queue = append(queue, step{b: x, fwd: true})
				}
			case !fl.touched.IsSet(v) && w.availIn[x].IsSet(v) && w.antOut[x].IsSet(v):
				if wb.thru.TrySet(int(x)) {
					queue = append(queue, step{b: x, fwd: true}, step{b: x, fwd: false})
				}
			default:
				return wb, false
			}
		}
	}

	return wb, true
}

func (w *elim) commit(wb web) {
	v := wb.v

	wb.incs.Range(func(i int) bool {
		b := w.f.Blocks[i]
		j := lastTouch(b.Code, v)

		dropInc(b, j, b.Code[j].(ir.RcInc))

		return true
	})

	wb.decs.Range(func(i int) bool {
		b := w.f.Blocks[i]
		j := firstTouch(b.Code, v)

		if _, ok := b.Code[j].(ir.RcDec); !ok {
			panic(b.Code[j])
		}

		b.Code = slices.Delete(b.Code, j, j+1)

		return true
	})
}

// dropInc removes one count of inc at b.Code[i] and reports whether the instruction is gone.
func dropInc(b *ir.Block, i int, inc ir.RcInc) bool {
	if inc.Count > 1 {
		inc.Count--
		b.Code[i] = inc

		return false
	}

	b.Code = slices.Delete(b.Code, i, i+1)

	return true
}

func lastTouch(code []ir.Instr, v ir.Var) int {
	for i := len(code) - 1; i >= 0; i-- {
		if touches(code[i], v) {
			return i
		}
	}

	return -1
}

func firstTouch(code []ir.Instr, v ir.Var) int {
	for i, x := range code {
		if touches(x, v) {
			return i
		}
	}

	return -1
}

func touches(x ir.Instr, v ir.Var) bool {
	if d, ok := ir.Def(x); ok && d == v {
		return true
	}

	return ir.Uses(x, v)
}
