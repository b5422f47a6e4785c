// Package borrow infers parameter borrowing across a unit
// and derives per-variable ownership tags within a function.
package borrow

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/arc/compiler/ir"
)

type (
	// Sigs maps a function name to the ownership of its params.
	// A function missing from Sigs owns all its arguments.
	Sigs map[string][]ir.Ownership

	Classifier interface {
		NeedsRC(ir.TypeID) bool
	}
)

// SigsOf collects declared param ownership of fs.
func SigsOf(fs ...*ir.Func) Sigs {
	s := make(Sigs, len(fs))

	for _, f := range fs {
		sig := make([]ir.Ownership, len(f.Params))

		for i, p := range f.Params {
			sig[i] = p.Own
		}

		s[f.Name] = sig
	}

	return s
}

// Param returns the mode of i-th argument of a call to fn.
func (s Sigs) Param(fn string, i int) ir.Ownership {
	sig, ok := s[fn]
	if !ok || i >= len(sig) {
		return ir.Owned
	}

	return sig[i]
}

// Apply writes inferred ownership into unit functions params.
func (s Sigs) Apply(p *ir.Package) {
	for _, f := range p.Funcs {
		sig, ok := s[f.Name]
		if !ok {
			continue
		}

		for i := range f.Params {
			f.Params[i].Own = sig[i]
		}
	}
}

// InferUnit computes param ownership for every function of p.
// Refcounted params start borrowed and become owned once the function
// gives their reference away. Iterates until no param changes.
func InferUnit(ctx context.Context, p *ir.Package, cl Classifier) Sigs {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "infer borrows", "funcs", len(p.Funcs))
	defer tr.Finish()

	s := make(Sigs, len(p.Funcs))

	for _, f := range p.Funcs {
		sig := make([]ir.Ownership, len(f.Params))

		for i, pr := range f.Params {
			if cl.NeedsRC(f.Type(pr.Var)) {
				sig[i] = ir.Borrowed
			}
		}

		s[f.Name] = sig
	}

	rounds := 0

	for changed := true; changed; {
		changed = false
		rounds++

		for _, f := range p.Funcs {
			own := mustOwn(f, p.Types, s)
			sig := s[f.Name]

			for i, pr := range f.Params {
				if sig[i] == ir.Borrowed && own[pr.Var] {
					sig[i] = ir.Owned
					changed = true

					tr.V("borrow_infer").Printw("param owned", "func", f.Name, "param", i, "round", rounds)
				}
			}
		}
	}

	tr.Printw("borrows inferred", "rounds", rounds)

	return s
}

// mustOwn returns params whose reference f gives away.
func mustOwn(f *ir.Func, types *ir.Types, s Sigs) map[ir.Var]bool {
	root := make(map[ir.Var]ir.Var, len(f.Params))

	for _, p := range f.Params {
		root[p.Var] = p.Var
	}

	own := map[ir.Var]bool{}
	destructured := map[ir.Var]bool{}
	constructed := map[ir.TypeID]bool{}

	consume := func(v ir.Var) {
		if r, ok := root[v]; ok {
			own[r] = true
		}
	}

	e := Env{F: f, Sigs: s}

	var uses []ir.Var
	var modes []ir.Ownership

	for _, b := range f.Blocks {
		for _, x := range b.Code {
			switch x := x.(type) {
			case ir.Let:
				if c, ok := x.Value.(ir.Copy); ok {
					if r, ok := root[c.Var]; ok {
						root[x.Dst] = r
					}
				}

				if t, ok := x.Value.(ir.Tag); ok && root[t.Var] == t.Var {
					destructured[t.Var] = true
				}
			case ir.Project:
				if r, ok := root[x.Value]; ok {
					root[x.Dst] = r

					if r == x.Value {
						destructured[r] = true
					}
				}
			case ir.Construct:
				constructed[types.Canonical(x.Type)] = true
			}

			uses = ir.AppendUses(uses[:0], x)
			modes = e.AppendModes(modes[:0], x)

			for i, v := range uses {
				if modes[i] == ir.Owned {
					consume(v)
				}
			}
		}

		uses = ir.AppendTermUses(uses[:0], b.Term)
		modes = e.AppendTermModes(modes[:0], b.Term)

		for i, v := range uses {
			if modes[i] == ir.Owned {
				consume(v)
			}
		}
	}

	for p := range destructured {
		if constructed[types.Canonical(f.Type(p))] {
			own[p] = true
		}
	}

	return own
}
