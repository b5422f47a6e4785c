package drop

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/arc/compiler/ir"
)

// Annotate marks decrements of values with a non-trivial finalizer.
// Closures are described by their captures rather than by their type.
// It returns the number of marked decrements.
func Annotate(ctx context.Context, f *ir.Func, cl Classifier) (n int) {
	tr := tlog.SpanFromContext(ctx)

	envs := map[ir.Var]ir.PartialApply{}

	for _, b := range f.Blocks {
		for _, x := range b.Code {
			if pa, ok := x.(ir.PartialApply); ok {
				envs[pa.Dst] = pa
			}
		}
	}

	for _, b := range f.Blocks {
		for i, x := range b.Code {
			dec, ok := x.(ir.RcDec)
			if !ok {
				continue
			}

			var info Info

			if pa, ok := envs[dec.Var]; ok {
				caps := make([]ir.TypeID, len(pa.Args))

				for j, a := range pa.Args {
					caps[j] = f.Type(a)
				}

				info = ClosureEnvOf(cl, f.Type(dec.Var), caps, pa.Borrowed)
			} else {
				info, _ = Compute(cl, f.Type(dec.Var))
			}

			dec.Drop = info.NonTrivial()
			b.Code[i] = dec

			if dec.Drop {
				n++
			}
		}
	}

	tr.V("drop").Printw("drop annotated", "func", f.Name, "marked", n)

	return n
}

// Table collects descriptors of every type released in p.
// Types are listed once in the order of first release.
func Table(p *ir.Package, cl Classifier) (r []Info) {
	types := cl.Types()
	seen := map[ir.TypeID]bool{}

	for _, f := range p.Funcs {
		for _, b := range f.Blocks {
			for _, x := range b.Code {
				dec, ok := x.(ir.RcDec)
				if !ok {
					continue
				}

				tp := types.Canonical(f.Type(dec.Var))
				if seen[tp] || types.Underlying(tp).Kind == ir.KindFunc {
					continue
				}

				seen[tp] = true

				if info, ok := Compute(cl, tp); ok {
					r = append(r, info)
				}
			}
		}
	}

	return r
}
