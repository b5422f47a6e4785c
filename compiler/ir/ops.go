package ir

import "slices"

// Def returns the variable defined by x.
func Def(x Instr) (Var, bool) {
	switch x := x.(type) {
	case Let:
		return x.Dst, true
	case Apply:
		return x.Dst, true
	case ApplyIndirect:
		return x.Dst, true
	case PartialApply:
		return x.Dst, true
	case Project:
		return x.Dst, true
	case Construct:
		return x.Dst, true
	case IsShared:
		return x.Dst, true
	case Reset:
		return x.Token, true
	case Reuse:
		return x.Dst, true
	case RcInc, RcDec, Set, SetTag:
		return NoVar, false
	default:
		panic(x)
	}
}

// AppendUses appends x operands in operand order.
// Duplicates are preserved.
func AppendUses(b []Var, x Instr) []Var {
	switch x := x.(type) {
	case Let:
		switch v := x.Value.(type) {
		case Copy:
			return append(b, v.Var)
		case Lit:
			return b
		case PrimOp:
			return append(b, v.Args...)
		case Tag:
			return append(b, v.Var)
		default:
			panic(v)
		}
	case Apply:
		return append(b, x.Args...)
	case ApplyIndirect:
		b = append(b, x.Closure)
		return append(b, x.Args...)
	case PartialApply:
		return append(b, x.Args...)
	case Project:
		return append(b, x.Value)
	case Construct:
		return append(b, x.Args...)
	case RcInc:
		return append(b, x.Var)
	case RcDec:
		return append(b, x.Var)
	case IsShared:
		return append(b, x.Var)
	case Set:
		return append(b, x.Base, x.Value)
	case SetTag:
		return append(b, x.Base)
	case Reset:
		return append(b, x.Var)
	case Reuse:
		b = append(b, x.Token)
		return append(b, x.Args...)
	default:
		panic(x)
	}
}

func Uses(x Instr, v Var) bool {
	var buf [8]Var

	return slices.Contains(AppendUses(buf[:0], x), v)
}

func AppendTermUses(b []Var, t Term) []Var {
	switch t := t.(type) {
	case Return:
		if t.Value != NoVar {
			b = append(b, t.Value)
		}

		return b
	case Jump:
		return append(b, t.Args...)
	case Branch:
		return append(b, t.Cond)
	case Switch:
		return append(b, t.Value)
	case Invoke:
		return append(b, t.Args...)
	case Resume, Unreachable:
		return b
	default:
		panic(t)
	}
}

func TermUses(t Term, v Var) bool {
	var buf [8]Var

	return slices.Contains(AppendTermUses(buf[:0], t), v)
}

// AppendSuccs appends successors in terminator order. Duplicates are preserved.
func AppendSuccs(b []BlockID, t Term) []BlockID {
	switch t := t.(type) {
	case Return, Resume, Unreachable:
		return b
	case Jump:
		return append(b, t.Target)
	case Branch:
		return append(b, t.Then, t.Else)
	case Switch:
		for _, c := range t.Cases {
			b = append(b, c.Target)
		}

		return append(b, t.Default)
	case Invoke:
		return append(b, t.Normal, t.Unwind)
	default:
		panic(t)
	}
}

func Succs(t Term) []BlockID {
	return AppendSuccs(nil, t)
}

// SubstUses replaces every use of from by to.
func SubstUses(x Instr, from, to Var) Instr {
	r := func(v Var) Var {
		if v == from {
			return to
		}

		return v
	}

	switch x := x.(type) {
	case Let:
		switch v := x.Value.(type) {
		case Copy:
			x.Value = Copy{Var: r(v.Var)}
		case Lit:
		case PrimOp:
			x.Value = PrimOp{Op: v.Op, Args: substAll(v.Args, from, to)}
		case Tag:
			x.Value = Tag{Var: r(v.Var)}
		default:
			panic(v)
		}
	case Apply:
		x.Args = substAll(x.Args, from, to)
	case ApplyIndirect:
		x.Closure = r(x.Closure)
		x.Args = substAll(x.Args, from, to)
	case PartialApply:
		x.Args = substAll(x.Args, from, to)
	case Project:
		x.Value = r(x.Value)
	case Construct:
		x.Args = substAll(x.Args, from, to)
	case RcInc:
		x.Var = r(x.Var)
	case RcDec:
		x.Var = r(x.Var)
	case IsShared:
		x.Var = r(x.Var)
	case Set:
		x.Base = r(x.Base)
		x.Value = r(x.Value)
	case SetTag:
		x.Base = r(x.Base)
	case Reset:
		x.Var = r(x.Var)
	case Reuse:
		x.Token = r(x.Token)
		x.Args = substAll(x.Args, from, to)
	default:
		panic(x)
	}

	return x
}

func SubstTermUses(t Term, from, to Var) Term {
	r := func(v Var) Var {
		if v == from {
			return to
		}

		return v
	}

	switch t := t.(type) {
	case Return:
		t.Value = r(t.Value)
		return t
	case Jump:
		t.Args = substAll(t.Args, from, to)
		return t
	case Branch:
		t.Cond = r(t.Cond)
		return t
	case Switch:
		t.Value = r(t.Value)
		return t
	case Invoke:
		t.Args = substAll(t.Args, from, to)
		return t
	case Resume, Unreachable:
		return t
	default:
		panic(t)
	}
}

// RedirectEdge replaces every from successor by to.
func RedirectEdge(t Term, from, to BlockID) Term {
	r := func(b BlockID) BlockID {
		if b == from {
			return to
		}

		return b
	}

	switch t := t.(type) {
	case Return, Resume, Unreachable:
		return t
	case Jump:
		t.Target = r(t.Target)
		return t
	case Branch:
		t.Then = r(t.Then)
		t.Else = r(t.Else)
		return t
	case Switch:
		cs := make([]Case, len(t.Cases))

		for i, c := range t.Cases {
			cs[i] = Case{Value: c.Value, Target: r(c.Target)}
		}

		t.Cases = cs
		t.Default = r(t.Default)

		return t
	case Invoke:
		t.Normal = r(t.Normal)
		t.Unwind = r(t.Unwind)
		return t
	default:
		panic(t)
	}
}

// Preds returns deduplicated predecessors of each block in block order.
func Preds(f *Func) [][]BlockID {
	preds := make([][]BlockID, len(f.Blocks))

	var buf []BlockID

	for _, b := range f.Blocks {
		buf = AppendSuccs(buf[:0], b.Term)

		for _, s := range buf {
			if !slices.Contains(preds[s], b.ID) {
				preds[s] = append(preds[s], b.ID)
			}
		}
	}

	return preds
}

// EntryDefs appends variables defined on entry to b: block params,
// function params for the entry block and invoke results of predecessors.
func EntryDefs(d []Var, f *Func, b *Block, preds []BlockID) []Var {
	d = append(d, b.Params...)

	if b.ID == f.Entry {
		for _, p := range f.Params {
			d = append(d, p.Var)
		}
	}

	for _, p := range preds {
		if inv, ok := f.Blocks[p].Term.(Invoke); ok && inv.Normal == b.ID && inv.Dst != NoVar {
			d = append(d, inv.Dst)
		}
	}

	return d
}

func substAll(vs []Var, from, to Var) []Var {
	r := make([]Var, len(vs))

	for i, v := range vs {
		if v == from {
			v = to
		}

		r[i] = v
	}

	return r
}
