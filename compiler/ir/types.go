package ir

import (
	"tlog.app/go/tlog/tlwire"
)

type (
	TypeID int

	TypeKind int

	Type struct {
		Kind TypeKind `json:"kind"`
		Name string   `json:"name,omitempty"`

		// Elems are struct fields, tuple elements or container parameters
		// (List[T], Map[K, V], Option[T], Result[T, E], Range[T], Func(args..., res)).
		Elems []TypeID `json:"elems,omitempty"`

		// Variants are enum payloads indexed by variant ordinal.
		Variants [][]TypeID `json:"variants,omitempty"`

		// Target of Named. NoType if unresolved.
		Target TypeID `json:"target,omitempty"`
	}

	// Types is a per-unit type table.
	Types struct {
		List []Type `json:"list"`
	}
)

const NoType TypeID = -1

const (
	KindInt TypeKind = iota
	KindFloat
	KindBool
	KindChar
	KindByte
	KindUnit
	KindNever
	KindError
	KindDuration
	KindSize
	KindOrdering

	KindStr
	KindList
	KindMap
	KindSet
	KindChan
	KindFunc

	KindOption
	KindResult
	KindRange
	KindTuple
	KindStruct
	KindEnum

	KindNamed
	KindParam

	kindCount
)

// Builtin types have fixed ids in every table.
const (
	Int TypeID = iota
	Float
	Bool
	Char
	Byte
	Unit
	Never
	Err
	Duration
	Size
	Ordering
	Str

	builtinCount
)

var kindNames = [...]string{
	KindInt:      "int",
	KindFloat:    "float",
	KindBool:     "bool",
	KindChar:     "char",
	KindByte:     "byte",
	KindUnit:     "unit",
	KindNever:    "never",
	KindError:    "error",
	KindDuration: "duration",
	KindSize:     "size",
	KindOrdering: "ordering",
	KindStr:      "str",
	KindList:     "list",
	KindMap:      "map",
	KindSet:      "set",
	KindChan:     "chan",
	KindFunc:     "func",
	KindOption:   "option",
	KindResult:   "result",
	KindRange:    "range",
	KindTuple:    "tuple",
	KindStruct:   "struct",
	KindEnum:     "enum",
	KindNamed:    "named",
	KindParam:    "param",
}

func NewTypes() *Types {
	t := &Types{}

	for k := KindInt; k <= KindStr; k++ {
		t.List = append(t.List, Type{Kind: k, Name: kindNames[k], Target: NoType})
	}

	return t
}

func (t *Types) Add(x Type) TypeID {
	if x.Kind != KindNamed && x.Target == 0 {
		x.Target = NoType
	}

	id := TypeID(len(t.List))
	t.List = append(t.List, x)

	return id
}

func (t *Types) Get(id TypeID) *Type {
	return &t.List[id]
}

func (t *Types) Len() int { return len(t.List) }

func (t *Types) Valid(id TypeID) bool {
	return id >= 0 && int(id) < len(t.List)
}

func (t *Types) Struct(name string, fields ...TypeID) TypeID {
	return t.Add(Type{Kind: KindStruct, Name: name, Elems: fields})
}

func (t *Types) Tuple(elems ...TypeID) TypeID {
	return t.Add(Type{Kind: KindTuple, Elems: elems})
}

func (t *Types) List1(elem TypeID) TypeID {
	return t.Add(Type{Kind: KindList, Elems: []TypeID{elem}})
}

func (t *Types) Option(elem TypeID) TypeID {
	return t.Add(Type{Kind: KindOption, Elems: []TypeID{elem}})
}

func (t *Types) Param(name string) TypeID {
	return t.Add(Type{Kind: KindParam, Name: name})
}

// Named adds a forward declaration to be completed by Resolve.
func (t *Types) Named(name string) TypeID {
	return t.Add(Type{Kind: KindNamed, Name: name, Target: NoType})
}

func (t *Types) Resolve(named, target TypeID) {
	t.List[named].Target = target
}

func (t *Types) Enum(name string, variants ...[]TypeID) TypeID {
	return t.Add(Type{Kind: KindEnum, Name: name, Variants: variants})
}

// Fields returns the number of payload slots of a heap cell of type id.
// Enum cells are sized for the widest variant.
func (t *Types) Fields(id TypeID) int {
	x := t.Underlying(id)

	switch x.Kind {
	case KindStruct, KindTuple:
		return len(x.Elems)
	case KindEnum:
		n := 0

		for _, v := range x.Variants {
			n = max(n, len(v))
		}

		return n
	case KindOption, KindResult:
		return 1
	default:
		return 0
	}
}

// Underlying follows Named links. Unresolved or cyclic names are returned as is.
func (t *Types) Underlying(id TypeID) *Type {
	x := &t.List[id]

	for i := 0; x.Kind == KindNamed && x.Target != NoType && i < len(t.List); i++ {
		x = &t.List[x.Target]
	}

	return x
}

// Canonical is like Underlying but returns the id.
func (t *Types) Canonical(id TypeID) TypeID {
	for i := 0; t.List[id].Kind == KindNamed && t.List[id].Target != NoType && i < len(t.List); i++ {
		id = t.List[id].Target
	}

	return id
}

// Same reports whether a and b name the same type.
func (t *Types) Same(a, b TypeID) bool {
	return a == b || t.Canonical(a) == t.Canonical(b)
}

func (k TypeKind) String() string {
	if k >= 0 && k < kindCount {
		return kindNames[k]
	}

	return "kind?"
}

func (k TypeKind) Primitive() bool {
	return k <= KindOrdering
}

func (id TypeID) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	if id == NoType {
		return e.AppendNil(b)
	}

	return e.AppendInt(b, int(id))
}
