package reuse

import (
	"context"
	"slices"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/arc/compiler/ir"
)

type (
	// claim is a field projected out of the released value
	// whose increment at pos moves to the slow path.
	claim struct {
		v     ir.Var
		field int
		pos   int
	}
)

// Expand lowers every Reset and Reuse pair into a uniqueness check.
//
//	prefix
//	s = is_shared x
//	branch s slow fast
//
//	fast: reset x keeping claimed fields, reuse into the token, jump merge
//	slow: restore claimed increments, release x, construct, jump merge
//	merge(dst): suffix and the original terminator
func Expand(ctx context.Context, f *ir.Func) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "reuse expand", "func", f.Name)
	defer tr.Finish("err", &err)

	done := map[ir.Var]bool{}
	n := 0

	for {
		d, i := nextReset(f, done)
		if d == ir.NoBlock {
			break
		}

		rs := f.Blocks[d].Code[i].(ir.Reset)
		done[rs.Token] = true

		t, j := findReuse(f, rs.Token)
		if t == ir.NoBlock {
			return errors.New("reset of %v: token %v is never reused", rs.Var, rs.Token)
		}

		k := sink(f, d, i, t, j)

		expand(ctx, f, t, k)
		n++
	}

	tr.Printw("reuse expanded", "func", f.Name, "pairs", n)

	return nil
}

// sink moves the reset at d.Code[i] right before the reuse at t.Code[j]
// and returns the new reset index in t.
func sink(f *ir.Func, d ir.BlockID, i int, t ir.BlockID, j int) int {
	db := f.Blocks[d]
	rs := db.Code[i]

	db.Code = slices.Delete(db.Code, i, i+1)

	if d == t && j > i {
		j--
	}

	tb := f.Blocks[t]
	tb.Code = slices.Insert(tb.Code, j, rs)

	return j
}

func expand(ctx context.Context, f *ir.Func, t ir.BlockID, k int) {
	tr := tlog.SpanFromContext(ctx)

	b := f.Blocks[t]
	rs := b.Code[k].(ir.Reset)
	ru := b.Code[k+1].(ir.Reuse)
	x := rs.Var

	prefix := b.Code[:k]
	suffix := append([]ir.Instr{}, b.Code[k+2:]...)

	claims := findClaims(prefix, x, k)

	prefix = append([]ir.Instr{}, prefix...)

	var restore []ir.Instr
	var keep []int
	skip := make([]bool, len(ru.Args))
	skipped := false

	for _, c := range claims {
		inc := prefix[c.pos].(ir.RcInc)
		if inc.Count > 1 {
			inc.Count--
			prefix[c.pos] = inc
		} else {
			prefix[c.pos] = nil
		}

		restore = append(restore, ir.RcInc{Var: c.v, Count: 1})
		keep = append(keep, c.field)

		if c.field < len(ru.Args) && ru.Args[c.field] == c.v {
			skip[c.field] = true
			skipped = true
		}
	}

	prefix = slices.DeleteFunc(prefix, func(x ir.Instr) bool { return x == nil })

	if !skipped {
		skip = nil
	}

	dst := ru.Dst
	dstF := f.NewVarLike(dst)
	dstS := f.NewVarLike(dst)
	shared := f.NewVar(ir.Bool)

	fast := f.NewBlock()
	slow := f.NewBlock()
	merge := f.NewBlock()

	fast.Code = []ir.Instr{
		ir.Reset{Var: x, Token: rs.Token, Keep: keep},
		ir.Reuse{Token: rs.Token, Dst: dstF, Type: ru.Type, Ctor: ru.Ctor, Args: ru.Args, Skip: skip},
	}
	fast.Term = ir.Jump{Target: merge.ID, Args: []ir.Var{dstF}}

	slow.Code = append(restore,
		ir.RcDec{Var: x},
		ir.Construct{Dst: dstS, Type: ru.Type, Ctor: ru.Ctor, Args: ru.Args},
	)
	slow.Term = ir.Jump{Target: merge.ID, Args: []ir.Var{dstS}}

	merge.Params = []ir.Var{dst}
	merge.Code = suffix
	merge.Term = b.Term

	b.Code = append(prefix, ir.IsShared{Dst: shared, Var: x})
	b.Term = ir.Branch{Cond: shared, Then: slow.ID, Else: fast.ID}

	tr.V("reuse_expand").Printw("expanded", "func", f.Name, "var", x, "block", t, "fast", fast.ID, "slow", slow.ID, "merge", merge.ID, "claims", len(claims))
}

// findClaims finds fields of x projected and incremented in code
// with no use of the projection after the increment.
func findClaims(code []ir.Instr, x ir.Var, end int) (r []claim) {
	proj := map[ir.Var]int{}
	fields := map[int]bool{}

	for i, c := range code {
		switch c := c.(type) {
		case ir.Project:
			if c.Value == x {
				proj[c.Dst] = c.Field
			}
		case ir.RcInc:
			field, ok := proj[c.Var]
			if !ok || fields[field] || usedAfter(code[i+1:end], c.Var) {
				continue
			}

			fields[field] = true
			delete(proj, c.Var)

			r = append(r, claim{v: c.Var, field: field, pos: i})
		}
	}

	return r
}

func usedAfter(code []ir.Instr, v ir.Var) bool {
	for _, c := range code {
		if ir.Uses(c, v) {
			return true
		}
	}

	return false
}

func nextReset(f *ir.Func, done map[ir.Var]bool) (ir.BlockID, int) {
	for _, b := range f.Blocks {
		for i, x := range b.Code {
			if rs, ok := x.(ir.Reset); ok && !done[rs.Token] {
				return b.ID, i
			}
		}
	}

	return ir.NoBlock, 0
}

func findReuse(f *ir.Func, tok ir.Var) (ir.BlockID, int) {
	for _, b := range f.Blocks {
		for i, x := range b.Code {
			if ru, ok := x.(ir.Reuse); ok && ru.Token == tok {
				return b.ID, i
			}
		}
	}

	return ir.NoBlock, 0
}
