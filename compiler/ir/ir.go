package ir

type (
	Var     int
	BlockID int

	Ownership int

	Package struct {
		Path  string  `json:"path,omitempty"`
		Types *Types  `json:"types"`
		Funcs []*Func `json:"funcs"`
	}

	Func struct {
		Name   string
		Params []Param
		Result TypeID

		Entry  BlockID
		Blocks []*Block

		// Vars is the variable table: type of each variable.
		Vars []TypeID
		// Spans is the source span of each variable definition. May be shorter than Vars.
		Spans []Span
	}

	Param struct {
		Var Var
		Own Ownership
	}

	Block struct {
		ID     BlockID
		Params []Var
		Code   []Instr
		Term   Term
	}

	Span struct {
		File string `json:"file,omitempty"`
		Line int    `json:"line,omitempty"`
		Col  int    `json:"col,omitempty"`
	}

	Instr any
	Term  any
	Value any

	// Let values.

	Copy struct {
		Var Var
	}

	Lit struct {
		Text string
	}

	PrimOp struct {
		Op   string
		Args []Var
	}

	// Tag reads the variant ordinal of an enum value.
	Tag struct {
		Var Var
	}

	// Instructions.

	Let struct {
		Dst   Var
		Value Value
	}

	Apply struct {
		Dst  Var
		Func string
		Args []Var
	}

	ApplyIndirect struct {
		Dst     Var
		Closure Var
		Args    []Var
	}

	PartialApply struct {
		Dst  Var
		Func string
		Args []Var

		// Borrowed captures are not owned by the closure environment.
		Borrowed []bool
	}

	Project struct {
		Dst   Var
		Value Var
		Field int
	}

	Construct struct {
		Dst  Var
		Type TypeID
		Ctor Ctor
		Args []Var
	}

	RcInc struct {
		Var   Var
		Count int
	}

	RcDec struct {
		Var Var

		// Drop is set when the value has a non-trivial finalizer.
		Drop bool
	}

	IsShared struct {
		Dst Var
		Var Var
	}

	Set struct {
		Base  Var
		Field int
		Value Var
	}

	SetTag struct {
		Base Var
		Tag  int
	}

	// Reset releases the fields of a uniquely owned Var except Keep
	// and turns its memory into Token.
	Reset struct {
		Var   Var
		Token Var
		Keep  []int
	}

	// Reuse constructs into Token memory. Skip[i] fields are already in place.
	Reuse struct {
		Token Var
		Dst   Var
		Type  TypeID
		Ctor  Ctor
		Args  []Var
		Skip  []bool
	}

	CtorKind int

	Ctor struct {
		Kind    CtorKind `json:"kind"`
		Name    string   `json:"name,omitempty"`
		Variant int      `json:"variant,omitempty"`
	}

	// Terminators.

	Return struct {
		Value Var
	}

	Jump struct {
		Target BlockID
		Args   []Var
	}

	Branch struct {
		Cond Var
		Then BlockID
		Else BlockID
	}

	Switch struct {
		Value   Var
		Cases   []Case
		Default BlockID
	}

	Case struct {
		Value  int64   `json:"value"`
		Target BlockID `json:"target"`
	}

	// Invoke is a call that may unwind. Dst is defined at the entry of Normal.
	Invoke struct {
		Dst    Var
		Func   string
		Args   []Var
		Normal BlockID
		Unwind BlockID
	}

	Resume struct{}

	Unreachable struct{}
)

const (
	NoVar   Var     = -1
	NoBlock BlockID = -1
)

const (
	Owned Ownership = iota
	Borrowed
)

const (
	CtorStruct CtorKind = iota
	CtorVariant
	CtorTuple
	CtorList
	CtorMap
	CtorSet
	CtorClosure
)

func (f *Func) NewVar(tp TypeID) Var {
	v := Var(len(f.Vars))
	f.Vars = append(f.Vars, tp)

	return v
}

// NewVarLike allocates a variable with the type and span of x.
func (f *Func) NewVarLike(x Var) Var {
	v := f.NewVar(f.Vars[x])

	if sp := f.Span(x); sp != (Span{}) {
		f.SetSpan(v, sp)
	}

	return v
}

func (f *Func) Type(v Var) TypeID {
	return f.Vars[v]
}

func (f *Func) Span(v Var) Span {
	if v < 0 || int(v) >= len(f.Spans) {
		return Span{}
	}

	return f.Spans[v]
}

func (f *Func) SetSpan(v Var, sp Span) {
	for int(v) >= len(f.Spans) {
		f.Spans = append(f.Spans, Span{})
	}

	f.Spans[v] = sp
}

func (f *Func) NewBlock() *Block {
	b := &Block{ID: BlockID(len(f.Blocks))}
	f.Blocks = append(f.Blocks, b)

	return b
}

func (f *Func) Block(id BlockID) *Block {
	return f.Blocks[id]
}

func (f *Func) Param(v Var) (Param, bool) {
	for _, p := range f.Params {
		if p.Var == v {
			return p, true
		}
	}

	return Param{}, false
}

func (p *Package) Func(name string) *Func {
	for _, f := range p.Funcs {
		if f.Name == name {
			return f
		}
	}

	return nil
}

func (o Ownership) String() string {
	if o == Borrowed {
		return "borrowed"
	}

	return "owned"
}

func (k CtorKind) String() string {
	switch k {
	case CtorStruct:
		return "struct"
	case CtorVariant:
		return "variant"
	case CtorTuple:
		return "tuple"
	case CtorList:
		return "list"
	case CtorMap:
		return "map"
	case CtorSet:
		return "set"
	case CtorClosure:
		return "closure"
	default:
		return "ctor?"
	}
}
