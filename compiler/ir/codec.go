package ir

import (
	"github.com/segmentio/encoding/json"
	"tlog.app/go/errors"
)

type (
	wireFunc struct {
		Name   string      `json:"name"`
		Params []wireParam `json:"params,omitempty"`
		Result TypeID      `json:"result"`
		Entry  BlockID     `json:"entry,omitempty"`
		Blocks []wireBlock `json:"blocks"`
		Vars   []TypeID    `json:"vars"`
		Spans  []Span      `json:"spans,omitempty"`
	}

	wireParam struct {
		Var Var       `json:"var"`
		Own Ownership `json:"own"`
	}

	wireBlock struct {
		Params []Var   `json:"params,omitempty"`
		Code   []wireX `json:"code,omitempty"`
		Term   wireX   `json:"term"`
	}

	// wireX is a flat tagged form of an instruction or terminator.
	wireX struct {
		Op string `json:"op"`

		Dst     Var    `json:"dst,omitempty"`
		Var     Var    `json:"var,omitempty"`
		Value   Var    `json:"value,omitempty"`
		Base    Var    `json:"base,omitempty"`
		Token   Var    `json:"token,omitempty"`
		Closure Var    `json:"closure,omitempty"`
		Cond    Var    `json:"cond,omitempty"`
		Func    string `json:"func,omitempty"`
		Args    []Var  `json:"args,omitempty"`
		Prim    string `json:"prim,omitempty"`
		Lit     string `json:"lit,omitempty"`

		Field int    `json:"field,omitempty"`
		Type  TypeID `json:"type,omitempty"`
		Ctor  *Ctor  `json:"ctor,omitempty"`
		Count int    `json:"count,omitempty"`
		Drop  bool   `json:"drop,omitempty"`
		Tag   int    `json:"tag,omitempty"`

		Borrowed []bool `json:"borrowed,omitempty"`
		Keep     []int  `json:"keep,omitempty"`
		Skip     []bool `json:"skip,omitempty"`

		Target  BlockID `json:"target,omitempty"`
		Then    BlockID `json:"then,omitempty"`
		Else    BlockID `json:"else,omitempty"`
		Cases   []Case  `json:"cases,omitempty"`
		Default BlockID `json:"default,omitempty"`
		Normal  BlockID `json:"normal,omitempty"`
		Unwind  BlockID `json:"unwind,omitempty"`
	}
)

func DecodePackage(data []byte) (*Package, error) {
	var p Package

	err := json.Unmarshal(data, &p)
	if err != nil {
		return nil, errors.Wrap(err, "decode package")
	}

	if p.Types == nil {
		p.Types = NewTypes()
	}

	return &p, nil
}

func EncodePackage(p *Package) ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode package")
	}

	return data, nil
}

func (f *Func) MarshalJSON() ([]byte, error) {
	w := wireFunc{
		Name:   f.Name,
		Result: f.Result,
		Entry:  f.Entry,
		Vars:   f.Vars,
		Spans:  f.Spans,
	}

	for _, p := range f.Params {
		w.Params = append(w.Params, wireParam(p))
	}

	for _, b := range f.Blocks {
		wb := wireBlock{Params: b.Params, Term: encodeTerm(b.Term)}

		for _, x := range b.Code {
			wb.Code = append(wb.Code, encodeInstr(x))
		}

		w.Blocks = append(w.Blocks, wb)
	}

	return json.Marshal(w)
}

func (f *Func) UnmarshalJSON(data []byte) (err error) {
	var w wireFunc

	err = json.Unmarshal(data, &w)
	if err != nil {
		return err
	}

	*f = Func{
		Name:   w.Name,
		Result: w.Result,
		Entry:  w.Entry,
		Vars:   w.Vars,
		Spans:  w.Spans,
	}

	for _, p := range w.Params {
		f.Params = append(f.Params, Param(p))
	}

	for i, wb := range w.Blocks {
		b := &Block{ID: BlockID(i), Params: wb.Params}

		for j, wx := range wb.Code {
			x, err := decodeInstr(wx)
			if err != nil {
				return errors.Wrap(err, "func %v: block %d: instr %d", w.Name, i, j)
			}

			b.Code = append(b.Code, x)
		}

		b.Term, err = decodeTerm(wb.Term)
		if err != nil {
			return errors.Wrap(err, "func %v: block %d: terminator", w.Name, i)
		}

		f.Blocks = append(f.Blocks, b)
	}

	return nil
}

func (o Ownership) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Ownership) UnmarshalText(b []byte) error {
	switch string(b) {
	case "owned", "":
		*o = Owned
	case "borrowed":
		*o = Borrowed
	default:
		return errors.New("unknown ownership: %q", b)
	}

	return nil
}

func encodeInstr(x Instr) wireX {
	switch x := x.(type) {
	case Let:
		switch v := x.Value.(type) {
		case Copy:
			return wireX{Op: "copy", Dst: x.Dst, Var: v.Var}
		case Lit:
			return wireX{Op: "lit", Dst: x.Dst, Lit: v.Text}
		case PrimOp:
			return wireX{Op: "prim", Dst: x.Dst, Prim: v.Op, Args: v.Args}
		case Tag:
			return wireX{Op: "tag", Dst: x.Dst, Var: v.Var}
		default:
			panic(v)
		}
	case Apply:
		return wireX{Op: "apply", Dst: x.Dst, Func: x.Func, Args: x.Args}
	case ApplyIndirect:
		return wireX{Op: "apply_indirect", Dst: x.Dst, Closure: x.Closure, Args: x.Args}
	case PartialApply:
		return wireX{Op: "partial_apply", Dst: x.Dst, Func: x.Func, Args: x.Args, Borrowed: x.Borrowed}
	case Project:
		return wireX{Op: "project", Dst: x.Dst, Value: x.Value, Field: x.Field}
	case Construct:
		return wireX{Op: "construct", Dst: x.Dst, Type: x.Type, Ctor: &x.Ctor, Args: x.Args}
	case RcInc:
		return wireX{Op: "rc_inc", Var: x.Var, Count: x.Count}
	case RcDec:
		return wireX{Op: "rc_dec", Var: x.Var, Drop: x.Drop}
	case IsShared:
		return wireX{Op: "is_shared", Dst: x.Dst, Var: x.Var}
	case Set:
		return wireX{Op: "set", Base: x.Base, Field: x.Field, Value: x.Value}
	case SetTag:
		return wireX{Op: "set_tag", Base: x.Base, Tag: x.Tag}
	case Reset:
		return wireX{Op: "reset", Var: x.Var, Token: x.Token, Keep: x.Keep}
	case Reuse:
		return wireX{Op: "reuse", Token: x.Token, Dst: x.Dst, Type: x.Type, Ctor: &x.Ctor, Args: x.Args, Skip: x.Skip}
	default:
		panic(x)
	}
}

func decodeInstr(w wireX) (Instr, error) {
	ctor := func() Ctor {
		if w.Ctor == nil {
			return Ctor{}
		}

		return *w.Ctor
	}

	switch w.Op {
	case "copy":
		return Let{Dst: w.Dst, Value: Copy{Var: w.Var}}, nil
	case "lit":
		return Let{Dst: w.Dst, Value: Lit{Text: w.Lit}}, nil
	case "prim":
		return Let{Dst: w.Dst, Value: PrimOp{Op: w.Prim, Args: w.Args}}, nil
	case "tag":
		return Let{Dst: w.Dst, Value: Tag{Var: w.Var}}, nil
	case "apply":
		return Apply{Dst: w.Dst, Func: w.Func, Args: w.Args}, nil
	case "apply_indirect":
		return ApplyIndirect{Dst: w.Dst, Closure: w.Closure, Args: w.Args}, nil
	case "partial_apply":
		return PartialApply{Dst: w.Dst, Func: w.Func, Args: w.Args, Borrowed: w.Borrowed}, nil
	case "project":
		return Project{Dst: w.Dst, Value: w.Value, Field: w.Field}, nil
	case "construct":
		return Construct{Dst: w.Dst, Type: w.Type, Ctor: ctor(), Args: w.Args}, nil
	case "rc_inc":
		return RcInc{Var: w.Var, Count: max(w.Count, 1)}, nil
	case "rc_dec":
		return RcDec{Var: w.Var, Drop: w.Drop}, nil
	case "is_shared":
		return IsShared{Dst: w.Dst, Var: w.Var}, nil
	case "set":
		return Set{Base: w.Base, Field: w.Field, Value: w.Value}, nil
	case "set_tag":
		return SetTag{Base: w.Base, Tag: w.Tag}, nil
	case "reset":
		return Reset{Var: w.Var, Token: w.Token, Keep: w.Keep}, nil
	case "reuse":
		return Reuse{Token: w.Token, Dst: w.Dst, Type: w.Type, Ctor: ctor(), Args: w.Args, Skip: w.Skip}, nil
	default:
		return nil, errors.New("unknown instruction: %q", w.Op)
	}
}

func encodeTerm(t Term) wireX {
	switch t := t.(type) {
	case Return:
		return wireX{Op: "return", Value: t.Value}
	case Jump:
		return wireX{Op: "jump", Target: t.Target, Args: t.Args}
	case Branch:
		return wireX{Op: "branch", Cond: t.Cond, Then: t.Then, Else: t.Else}
	case Switch:
		return wireX{Op: "switch", Value: t.Value, Cases: t.Cases, Default: t.Default}
	case Invoke:
		return wireX{Op: "invoke", Dst: t.Dst, Func: t.Func, Args: t.Args, Normal: t.Normal, Unwind: t.Unwind}
	case Resume:
		return wireX{Op: "resume"}
	case Unreachable:
		return wireX{Op: "unreachable"}
	case nil:
		return wireX{}
	default:
		panic(t)
	}
}

func decodeTerm(w wireX) (Term, error) {
	switch w.Op {
	case "return":
		return Return{Value: w.Value}, nil
	case "jump":
		return Jump{Target: w.Target, Args: w.Args}, nil
	case "branch":
		return Branch{Cond: w.Cond, Then: w.Then, Else: w.Else}, nil
	case "switch":
		return Switch{Value: w.Value, Cases: w.Cases, Default: w.Default}, nil
	case "invoke":
		return Invoke{Dst: w.Dst, Func: w.Func, Args: w.Args, Normal: w.Normal, Unwind: w.Unwind}, nil
	case "resume":
		return Resume{}, nil
	case "unreachable":
		return Unreachable{}, nil
	case "": // left for Verify to report
		return nil, nil
	default:
		return nil, errors.New("unknown terminator: %q", w.Op)
	}
}
