package format

import (
	"context"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/slowlang/arc/compiler/ir"
)

// Package appends the textual form of every function of p.
func Package(ctx context.Context, b []byte, p *ir.Package) (_ []byte, err error) {
	for i, f := range p.Funcs {
		if i != 0 {
			b = append(b, '\n')
		}

		b, err = Func(ctx, b, p.Types, f)
		if err != nil {
			return nil, errors.Wrap(err, "func %v", f.Name)
		}
	}

	return b, nil
}

func Func(ctx context.Context, b []byte, types *ir.Types, f *ir.Func) (_ []byte, err error) {
	b = app(b, 0, "func %v(", f.Name)

	for i, p := range f.Params {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = app(b, 0, "v%d %v: ", p.Var, p.Own)
		b = Type(b, types, f.Type(p.Var))
	}

	b = append(b, ") -> "...)
	b = Type(b, types, f.Result)
	b = append(b, " {\n"...)

	for _, blk := range f.Blocks {
		b, err = Block(b, blk)
		if err != nil {
			return nil, errors.Wrap(err, "block %d", blk.ID)
		}
	}

	b = append(b, "}\n"...)

	return b, nil
}

func Block(b []byte, blk *ir.Block) (_ []byte, err error) {
	b = app(b, 0, "b%d", blk.ID)

	if len(blk.Params) != 0 {
		b = append(b, '(')
		b = vars(b, blk.Params)
		b = append(b, ')')
	}

	b = append(b, ":\n"...)

	for i, x := range blk.Code {
		b, err = Instr(b, 1, x)
		if err != nil {
			return nil, errors.Wrap(err, "instr %d", i)
		}
	}

	return Term(b, 1, blk.Term)
}

func Instr(b []byte, d int, x ir.Instr) ([]byte, error) {
	switch x := x.(type) {
	case ir.Let:
		switch v := x.Value.(type) {
		case ir.Copy:
			b = app(b, d, "v%d = v%d", x.Dst, v.Var)
		case ir.Lit:
			b = app(b, d, "v%d = %s", x.Dst, v.Text)
		case ir.PrimOp:
			b = app(b, d, "v%d = %s ", x.Dst, v.Op)
			b = vars(b, v.Args)
		case ir.Tag:
			b = app(b, d, "v%d = tag v%d", x.Dst, v.Var)
		default:
			return nil, errors.New("unsupported value: %T", v)
		}
	case ir.Apply:
		b = app(b, d, "v%d = %s(", x.Dst, x.Func)
		b = vars(b, x.Args)
		b = append(b, ')')
	case ir.ApplyIndirect:
		b = app(b, d, "v%d = v%d(", x.Dst, x.Closure)
		b = vars(b, x.Args)
		b = append(b, ')')
	case ir.PartialApply:
		b = app(b, d, "v%d = closure %s[", x.Dst, x.Func)

		for i, a := range x.Args {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = app(b, 0, "v%d", a)

			if i < len(x.Borrowed) && x.Borrowed[i] {
				b = append(b, " borrowed"...)
			}
		}

		b = append(b, ']')
	case ir.Project:
		b = app(b, d, "v%d = v%d.%d", x.Dst, x.Value, x.Field)
	case ir.Construct:
		b = app(b, d, "v%d = ", x.Dst)
		b = ctor(b, x.Ctor, x.Type)
		b = append(b, '(')
		b = vars(b, x.Args)
		b = append(b, ')')
	case ir.RcInc:
		b = app(b, d, "rc_inc v%d", x.Var)

		if x.Count > 1 {
			b = app(b, 0, " x%d", x.Count)
		}
	case ir.RcDec:
		b = app(b, d, "rc_dec v%d", x.Var)

		if x.Drop {
			b = append(b, " drop"...)
		}
	case ir.IsShared:
		b = app(b, d, "v%d = is_shared v%d", x.Dst, x.Var)
	case ir.Set:
		b = app(b, d, "v%d.%d = v%d", x.Base, x.Field, x.Value)
	case ir.SetTag:
		b = app(b, d, "v%d.tag = %d", x.Base, x.Tag)
	case ir.Reset:
		b = app(b, d, "v%d = reset v%d", x.Token, x.Var)

		if len(x.Keep) != 0 {
			b = app(b, 0, " keep %v", x.Keep)
		}
	case ir.Reuse:
		b = app(b, d, "v%d = reuse v%d ", x.Dst, x.Token)
		b = ctor(b, x.Ctor, x.Type)
		b = append(b, '(')

		for i, a := range x.Args {
			if i != 0 {
				b = append(b, ", "...)
			}

			if i < len(x.Skip) && x.Skip[i] {
				b = append(b, '_')
				continue
			}

			b = app(b, 0, "v%d", a)
		}

		b = append(b, ')')
	default:
		return nil, errors.New("unsupported instruction: %T", x)
	}

	b = append(b, '\n')

	return b, nil
}

func Term(b []byte, d int, t ir.Term) ([]byte, error) {
	switch t := t.(type) {
	case ir.Return:
		if t.Value == ir.NoVar {
			b = app(b, d, "return")
		} else {
			b = app(b, d, "return v%d", t.Value)
		}
	case ir.Jump:
		b = app(b, d, "jump b%d", t.Target)

		if len(t.Args) != 0 {
			b = append(b, '(')
			b = vars(b, t.Args)
			b = append(b, ')')
		}
	case ir.Branch:
		b = app(b, d, "branch v%d b%d b%d", t.Cond, t.Then, t.Else)
	case ir.Switch:
		b = app(b, d, "switch v%d [", t.Value)

		for i, c := range t.Cases {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = app(b, 0, "%d: b%d", c.Value, c.Target)
		}

		b = app(b, 0, "] default b%d", t.Default)
	case ir.Invoke:
		b = app(b, d, "v%d = invoke %s(", t.Dst, t.Func)
		b = vars(b, t.Args)
		b = app(b, 0, ") normal b%d unwind b%d", t.Normal, t.Unwind)
	case ir.Resume:
		b = app(b, d, "resume")
	case ir.Unreachable:
		b = app(b, d, "unreachable")
	default:
		return nil, errors.New("unsupported terminator: %T", t)
	}

	b = append(b, '\n')

	return b, nil
}

func Type(b []byte, types *ir.Types, id ir.TypeID) []byte {
	if types == nil || !types.Valid(id) {
		return app(b, 0, "t%d", id)
	}

	t := types.Get(id)

	if t.Name != "" {
		return append(b, t.Name...)
	}

	b = append(b, t.Kind.String()...)

	if len(t.Elems) != 0 {
		b = append(b, '[')

		for i, e := range t.Elems {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = Type(b, types, e)
		}

		b = append(b, ']')
	}

	return b
}

func vars(b []byte, vs []ir.Var) []byte {
	for i, v := range vs {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = app(b, 0, "v%d", v)
	}

	return b
}

func ctor(b []byte, c ir.Ctor, tp ir.TypeID) []byte {
	switch c.Kind {
	case ir.CtorVariant:
		return app(b, 0, "t%d#%d", tp, c.Variant)
	case ir.CtorStruct:
		if c.Name != "" {
			return append(b, c.Name...)
		}
	}

	return app(b, 0, "%v:t%d", c.Kind, tp)
}

func app(b []byte, d int, f string, args ...any) []byte {
	const tabs = "\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t"
	b = append(b, tabs[:d]...)
	b = hfmt.Appendf(b, f, args...)
	return b
}
