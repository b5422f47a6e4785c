package borrow

import (
	"github.com/slowlang/arc/compiler/ir"
)

type (
	// Env tells which operand positions consume a reference.
	// Without Tags copies are aliases and block params are owned.
	Env struct {
		F    *ir.Func
		Sigs Sigs
		Tags *Tags
	}
)

// AppendModes appends the mode of each x operand in ir.AppendUses order.
// Owned positions take the reference over, Borrowed ones only read it.
func (e Env) AppendModes(m []ir.Ownership, x ir.Instr) []ir.Ownership {
	switch x := x.(type) {
	case ir.Let:
		switch v := x.Value.(type) {
		case ir.Copy:
			if e.Tags == nil || e.Tags.Borrowed(v.Var) {
				return append(m, ir.Borrowed)
			}

			return append(m, ir.Owned)
		case ir.Lit:
			return m
		case ir.PrimOp:
			return appendN(m, ir.Borrowed, len(v.Args))
		case ir.Tag:
			return append(m, ir.Borrowed)
		default:
			panic(v)
		}
	case ir.Apply:
		return e.appendCall(m, x.Func, len(x.Args))
	case ir.ApplyIndirect:
		return appendN(m, ir.Owned, 1+len(x.Args))
	case ir.PartialApply:
		for i := range x.Args {
			if i < len(x.Borrowed) && x.Borrowed[i] {
				m = append(m, ir.Borrowed)
			} else {
				m = append(m, ir.Owned)
			}
		}

		return m
	case ir.Project:
		return append(m, ir.Borrowed)
	case ir.Construct:
		return appendN(m, ir.Owned, len(x.Args))
	case ir.RcInc, ir.RcDec, ir.IsShared, ir.SetTag:
		return append(m, ir.Borrowed)
	case ir.Set:
		return append(m, ir.Borrowed, ir.Owned)
	case ir.Reset:
		return append(m, ir.Owned)
	case ir.Reuse:
		return appendN(m, ir.Owned, 1+len(x.Args))
	default:
		panic(x)
	}
}

// AppendTermModes is AppendModes for terminators.
func (e Env) AppendTermModes(m []ir.Ownership, t ir.Term) []ir.Ownership {
	switch t := t.(type) {
	case ir.Return:
		if t.Value != ir.NoVar {
			m = append(m, ir.Owned)
		}

		return m
	case ir.Jump:
		params := e.F.Blocks[t.Target].Params

		for i := range t.Args {
			if e.Tags != nil && i < len(params) && e.Tags.Borrowed(params[i]) {
				m = append(m, ir.Borrowed)
			} else {
				m = append(m, ir.Owned)
			}
		}

		return m
	case ir.Branch, ir.Switch:
		return append(m, ir.Borrowed)
	case ir.Invoke:
		return e.appendCall(m, t.Func, len(t.Args))
	case ir.Resume, ir.Unreachable:
		return m
	default:
		panic(t)
	}
}

func (e Env) appendCall(m []ir.Ownership, fn string, n int) []ir.Ownership {
	for i := 0; i < n; i++ {
		m = append(m, e.Sigs.Param(fn, i))
	}

	return m
}

func appendN(m []ir.Ownership, o ir.Ownership, n int) []ir.Ownership {
	for i := 0; i < n; i++ {
		m = append(m, o)
	}

	return m
}
