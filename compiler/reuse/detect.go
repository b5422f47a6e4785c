// Package reuse pairs releases with constructions of the same shape
// and rewrites them to construct in place when the released value is unique.
package reuse

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/arc/compiler/dom"
	"github.com/slowlang/arc/compiler/ir"
	"github.com/slowlang/arc/compiler/liveness"
	"github.com/slowlang/arc/compiler/set"
)

type (
	Classifier interface {
		NeedsRC(ir.TypeID) bool
		Types() *ir.Types
	}

	Reason int

	// Pair is a matched release and construction.
	Pair struct {
		Var   ir.Var // released value
		Token ir.Var
		Dst   ir.Var // constructed value
		Type  ir.TypeID

		Release   ir.BlockID
		Construct ir.BlockID
	}

	// Missed is a release that found no construction to reuse.
	Missed struct {
		Var    ir.Var
		Type   ir.TypeID
		Block  ir.BlockID
		Reason Reason
	}

	Detection struct {
		Pairs  []Pair
		Missed []Missed
	}

	detector struct {
		f     *ir.Func
		cl    Classifier
		types *ir.Types

		dom     *dom.Tree
		post    *dom.Tree
		refined *liveness.Refined

		succs [][]ir.BlockID
		preds [][]ir.BlockID
		defs  map[ir.Var]ir.Instr
	}
)

const (
	NoMatchingConstruct Reason = iota
	TypeMismatch
	IntermediateUse
	NoDominance
	PossiblyShared
)

var reasonNames = []string{
	NoMatchingConstruct: "no_matching_construct",
	TypeMismatch:        "type_mismatch",
	IntermediateUse:     "intermediate_use",
	NoDominance:         "no_dominance",
	PossiblyShared:      "possibly_shared",
}

// Detect pairs every release of a reusable value with a later
// construction of the same type and rewrites the pair to Reset and Reuse.
// Releases left unpaired are reported with the reason.
//
// A pair is taken when the construction block is dominated by the release block,
// post-dominates it, and is not re-entered without passing the release again.
// The released value must not be used in between.
func Detect(ctx context.Context, f *ir.Func, cl Classifier, d, pd *dom.Tree, refined *liveness.Refined) *Detection {
	tr := tlog.SpanFromContext(ctx)

	w := &detector{
		f:       f,
		cl:      cl,
		types:   cl.Types(),
		dom:     d,
		post:    pd,
		refined: refined,
		preds:   ir.Preds(f),
		succs:   make([][]ir.BlockID, len(f.Blocks)),
		defs:    map[ir.Var]ir.Instr{},
	}

	for _, b := range f.Blocks {
		w.succs[b.ID] = ir.Succs(b.Term)

		for _, x := range b.Code {
			if v, ok := ir.Def(x); ok {
				w.defs[v] = x
			}
		}
	}

	det := &Detection{}

	for _, id := range d.Preorder() {
		b := f.Blocks[id]

		for i := 0; i < len(b.Code); i++ {
			dec, ok := b.Code[i].(ir.RcDec)
			if !ok || !w.reusable(f.Type(dec.Var)) {
				continue
			}

			x := dec.Var

			if _, ok := w.defs[x].(ir.Project); ok {
				det.Missed = append(det.Missed, Missed{Var: x, Type: f.Type(x), Block: id, Reason: PossiblyShared})
				continue
			}

			t, j, reason := w.match(id, i, x)
			if t == ir.NoBlock {
				det.Missed = append(det.Missed, Missed{Var: x, Type: f.Type(x), Block: id, Reason: reason})

				tr.V("reuse_missed").Printw("missed reuse", "func", f.Name, "var", x, "block", id, "reason", reason)

				continue
			}

			c := f.Blocks[t].Code[j].(ir.Construct)

			tok := f.NewVarLike(x)

			b.Code[i] = ir.Reset{Var: x, Token: tok}
			f.Blocks[t].Code[j] = ir.Reuse{Token: tok, Dst: c.Dst, Type: c.Type, Ctor: c.Ctor, Args: c.Args}

			det.Pairs = append(det.Pairs, Pair{Var: x, Token: tok, Dst: c.Dst, Type: c.Type, Release: id, Construct: t})

			tr.V("reuse_pair").Printw("reuse pair", "func", f.Name, "var", x, "dst", c.Dst, "release", id, "construct", t)
		}
	}

	tr.V("reuse").Printw("reuse detected", "func", f.Name, "pairs", len(det.Pairs), "missed", len(det.Missed))

	return det
}

// match finds the construction reusing x released at b.Code[i].
func (w *detector) match(b ir.BlockID, i int, x ir.Var) (t ir.BlockID, j int, reason Reason) {
	tp := w.f.Type(x)
	reason = NoMatchingConstruct

	note := func(r Reason) {
		if r > reason {
			reason = r
		}
	}

	code := w.f.Blocks[b].Code

	for j := i + 1; j < len(code); j++ {
		if c, ok := code[j].(ir.Construct); ok {
			if w.types.Same(c.Type, tp) {
				return b, j, 0
			}

			note(TypeMismatch)
		}

		if ir.Uses(code[j], x) {
			return ir.NoBlock, 0, IntermediateUse
		}
	}

	if ir.TermUses(w.f.Blocks[b].Term, x) {
		return ir.NoBlock, 0, IntermediateUse
	}

	fwd := w.reach(w.succs, b, b)

	for _, t := range w.dom.DominatedPreorder(b)[1:] {
		if !fwd.IsSet(int(t)) {
			continue
		}

		j, found, mismatch := w.construct(t, tp, x)
		if mismatch {
			note(TypeMismatch)
		}

		if !found {
			continue
		}

		if !w.post.Dominates(t, b) {
			note(NoDominance)
			continue
		}

		// t must run exactly once per release
		if again := w.reach(w.succs, t, b); again.IsSet(int(t)) {
			note(NoDominance)
			continue
		}

		if again := w.reach(w.succs, b, t); again.IsSet(int(b)) {
			note(NoDominance)
			continue
		}

		if j < 0 || w.usedBetween(b, t, x) {
			note(IntermediateUse)
			continue
		}

		return t, j, 0
	}

	fwd.Range(func(i int) bool {
		t := ir.BlockID(i)

		if t == b || w.dom.Dominates(b, t) {
			return true
		}

		_, found, mismatch := w.construct(t, tp, x)
		if mismatch {
			note(TypeMismatch)
		}

		if found {
			note(NoDominance)
		}

		return true
	})

	return ir.NoBlock, 0, reason
}

// construct finds the first construction of type tp in block t.
// j is -1 if x is used before it.
func (w *detector) construct(t ir.BlockID, tp ir.TypeID, x ir.Var) (j int, found, mismatch bool) {
	used := false

	for j, c := range w.f.Blocks[t].Code {
		if c, ok := c.(ir.Construct); ok {
			if w.types.Same(c.Type, tp) {
				if used {
					return -1, true, mismatch
				}

				return j, true, mismatch
			}

			mismatch = true
		}

		if ir.Uses(c, x) {
			used = true
		}
	}

	return -1, false, mismatch
}

// usedBetween reports whether x may be used on a path from the release block b
// to the construction block t, excluding b and t code.
func (w *detector) usedBetween(b, t ir.BlockID, x ir.Var) bool {
	fwd := w.reach(w.succs, b, b)
	bwd := w.reach(w.preds, t, b)

	if w.refined != nil && w.refined.UseIn[t].IsSet(x) {
		return true
	}

	between := false

	fwd.Range(func(i int) bool {
		id := ir.BlockID(i)

		if id == t || id == b || !bwd.IsSet(i) {
			return true
		}

		if w.refined != nil && w.refined.UseIn[id].IsSet(x) {
			between = true
			return false
		}

		blk := w.f.Blocks[id]

		for _, c := range blk.Code {
			if ir.Uses(c, x) {
				between = true
				return false
			}
		}

		if ir.TermUses(blk.Term, x) {
			between = true
			return false
		}

		return true
	})

	return between
}

// reach returns blocks reachable from the neighbours of from
// without passing through stop.
func (w *detector) reach(next [][]ir.BlockID, from, stop ir.BlockID) set.Bitmap {
	seen := set.MakeBitmap(len(w.f.Blocks))
	stack := append([]ir.BlockID{}, next[from]...)

	for len(stack) != 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !seen.TrySet(int(x)) || x == stop {
			continue
		}

		stack = append(stack, next[x]...)
	}

	return seen
}

func (w *detector) reusable(tp ir.TypeID) bool {
	if !w.cl.NeedsRC(tp) {
		return false
	}

	switch w.types.Underlying(tp).Kind {
	case ir.KindStruct, ir.KindTuple, ir.KindEnum, ir.KindOption, ir.KindResult:
		return true
	}

	return false
}

func (r Reason) String() string {
	if r >= 0 && int(r) < len(reasonNames) {
		return reasonNames[r]
	}

	return "reason?"
}

func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Reason) UnmarshalText(b []byte) error {
	for i, n := range reasonNames {
		if n == string(b) {
			*r = Reason(i)
			return nil
		}
	}

	return errors.New("unknown reason: %q", b)
}

func (r Reason) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	return e.AppendString(b, r.String())
}
