// Package irtest builds IR fixtures and simulates refcounts for tests.
package irtest

import (
	"github.com/slowlang/arc/compiler/ir"
)

type (
	Builder struct {
		F *ir.Func
		T *ir.Types

		cur *ir.Block
		pos ir.Span
	}
)

func New(types *ir.Types, name string, result ir.TypeID) *Builder {
	f := &ir.Func{
		Name:   name,
		Result: result,
	}

	b := &Builder{F: f, T: types}

	b.cur = f.NewBlock()
	f.Entry = b.cur.ID

	return b
}

func (b *Builder) Param(tp ir.TypeID, own ir.Ownership) ir.Var {
	v := b.F.NewVar(tp)
	b.F.Params = append(b.F.Params, ir.Param{Var: v, Own: own})

	return v
}

// At sets the span recorded for the next definitions.
func (b *Builder) At(line int) *Builder {
	b.pos = ir.Span{File: b.F.Name, Line: line}
	return b
}

// Block creates a block with params of the given types. Current block is not changed.
func (b *Builder) Block(params ...ir.TypeID) *ir.Block {
	blk := b.F.NewBlock()

	for _, tp := range params {
		blk.Params = append(blk.Params, b.newVar(tp))
	}

	return blk
}

func (b *Builder) In(blk *ir.Block) *Builder {
	b.cur = blk
	return b
}

func (b *Builder) Cur() *ir.Block { return b.cur }

func (b *Builder) Lit(tp ir.TypeID, text string) ir.Var {
	v := b.newVar(tp)
	b.add(ir.Let{Dst: v, Value: ir.Lit{Text: text}})

	return v
}

func (b *Builder) Copy(x ir.Var) ir.Var {
	v := b.newVar(b.F.Type(x))
	b.add(ir.Let{Dst: v, Value: ir.Copy{Var: x}})

	return v
}

func (b *Builder) Prim(tp ir.TypeID, op string, args ...ir.Var) ir.Var {
	v := b.newVar(tp)
	b.add(ir.Let{Dst: v, Value: ir.PrimOp{Op: op, Args: args}})

	return v
}

func (b *Builder) Tag(x ir.Var) ir.Var {
	v := b.newVar(ir.Int)
	b.add(ir.Let{Dst: v, Value: ir.Tag{Var: x}})

	return v
}

func (b *Builder) Apply(tp ir.TypeID, fn string, args ...ir.Var) ir.Var {
	v := b.newVar(tp)
	b.add(ir.Apply{Dst: v, Func: fn, Args: args})

	return v
}

func (b *Builder) ApplyIndirect(tp ir.TypeID, closure ir.Var, args ...ir.Var) ir.Var {
	v := b.newVar(tp)
	b.add(ir.ApplyIndirect{Dst: v, Closure: closure, Args: args})

	return v
}

func (b *Builder) PartialApply(tp ir.TypeID, fn string, args ...ir.Var) ir.Var {
	v := b.newVar(tp)
	b.add(ir.PartialApply{Dst: v, Func: fn, Args: args})

	return v
}

func (b *Builder) Project(tp ir.TypeID, x ir.Var, field int) ir.Var {
	v := b.newVar(tp)
	b.add(ir.Project{Dst: v, Value: x, Field: field})

	return v
}

func (b *Builder) Construct(tp ir.TypeID, ctor ir.Ctor, args ...ir.Var) ir.Var {
	v := b.newVar(tp)
	b.add(ir.Construct{Dst: v, Type: tp, Ctor: ctor, Args: args})

	return v
}

func (b *Builder) Variant(tp ir.TypeID, variant int, args ...ir.Var) ir.Var {
	return b.Construct(tp, ir.Ctor{Kind: ir.CtorVariant, Variant: variant}, args...)
}

func (b *Builder) Tuple(tp ir.TypeID, args ...ir.Var) ir.Var {
	return b.Construct(tp, ir.Ctor{Kind: ir.CtorTuple}, args...)
}

func (b *Builder) Inc(x ir.Var) { b.add(ir.RcInc{Var: x, Count: 1}) }

func (b *Builder) Dec(x ir.Var) { b.add(ir.RcDec{Var: x}) }

func (b *Builder) Add(x ir.Instr) { b.add(x) }

func (b *Builder) Return(x ir.Var) { b.cur.Term = ir.Return{Value: x} }

func (b *Builder) Jump(to *ir.Block, args ...ir.Var) {
	b.cur.Term = ir.Jump{Target: to.ID, Args: args}
}

func (b *Builder) Branch(cond ir.Var, then, els *ir.Block) {
	b.cur.Term = ir.Branch{Cond: cond, Then: then.ID, Else: els.ID}
}

// Switch dispatches on x: case i goes to targets[i], the last target is the default.
func (b *Builder) Switch(x ir.Var, targets ...*ir.Block) {
	sw := ir.Switch{Value: x, Default: targets[len(targets)-1].ID}

	for i, t := range targets[:len(targets)-1] {
		sw.Cases = append(sw.Cases, ir.Case{Value: int64(i), Target: t.ID})
	}

	b.cur.Term = sw
}

// Invoke terminates the current block. The result is defined in normal.
func (b *Builder) Invoke(tp ir.TypeID, fn string, normal, unwind *ir.Block, args ...ir.Var) ir.Var {
	v := b.newVar(tp)
	b.cur.Term = ir.Invoke{Dst: v, Func: fn, Args: args, Normal: normal.ID, Unwind: unwind.ID}

	return v
}

func (b *Builder) Resume() { b.cur.Term = ir.Resume{} }

func (b *Builder) newVar(tp ir.TypeID) ir.Var {
	v := b.F.NewVar(tp)

	if b.pos != (ir.Span{}) {
		b.F.SetSpan(v, b.pos)
	}

	return v
}

func (b *Builder) add(x ir.Instr) {
	b.cur.Code = append(b.cur.Code, x)
}

// Count returns the number of instructions in f satisfying pred.
func Count(f *ir.Func, pred func(x ir.Instr) bool) (n int) {
	for _, b := range f.Blocks {
		for _, x := range b.Code {
			if pred(x) {
				n++
			}
		}
	}

	return n
}

func IsInc(x ir.Instr) bool { _, ok := x.(ir.RcInc); return ok }
func IsDec(x ir.Instr) bool { _, ok := x.(ir.RcDec); return ok }
func IsReset(x ir.Instr) bool { _, ok := x.(ir.Reset); return ok }
func IsReuse(x ir.Instr) bool { _, ok := x.(ir.Reuse); return ok }

func IsRC(x ir.Instr) bool {
	switch x.(type) {
	case ir.RcInc, ir.RcDec, ir.Reset, ir.Reuse, ir.IsShared:
		return true
	}

	return false
}

// Incs sums increment counts.
func Incs(f *ir.Func) (n int) {
	for _, b := range f.Blocks {
		for _, x := range b.Code {
			if x, ok := x.(ir.RcInc); ok {
				n += x.Count
			}
		}
	}

	return n
}
