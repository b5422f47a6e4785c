// Package drop describes what releasing the last reference to a value must release in turn.
package drop

import (
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/arc/compiler/ir"
)

type (
	Classifier interface {
		NeedsRC(ir.TypeID) bool
		Types() *ir.Types
	}

	Kind int

	// Field is a payload slot holding a counted reference.
	Field struct {
		Index int       `json:"index"`
		Type  ir.TypeID `json:"type"`
	}

	Info struct {
		Type ir.TypeID `json:"type"`
		Kind Kind      `json:"kind"`

		Fields   []Field   `json:"fields,omitempty"`   // Fields and ClosureEnv
		Variants [][]Field `json:"variants,omitempty"` // Enum

		Elem  ir.TypeID `json:"elem,omitempty"` // Collection
		Key   ir.TypeID `json:"key,omitempty"`  // Map
		Value ir.TypeID `json:"value,omitempty"`

		DecKeys   bool `json:"dec_keys,omitempty"`
		DecValues bool `json:"dec_values,omitempty"`

		// Dynamic is set for unresolved type parameters.
		// The finalizer is looked up at run time.
		Dynamic bool `json:"dynamic,omitempty"`
	}
)

const (
	Trivial Kind = iota
	Fields
	Enum
	Collection
	Map
	ClosureEnv
)

var kindNames = []string{
	Trivial:    "trivial",
	Fields:     "fields",
	Enum:       "enum",
	Collection: "collection",
	Map:        "map",
	ClosureEnv: "closure_env",
}

// Compute returns the drop descriptor of id.
// ok is false for scalars which are never released.
func Compute(cl Classifier, id ir.TypeID) (info Info, ok bool) {
	if !cl.NeedsRC(id) {
		return Info{}, false
	}

	types := cl.Types()
	x := types.Underlying(id)

	info = Info{Type: id}

	switch x.Kind {
	case ir.KindList, ir.KindSet, ir.KindChan:
		if len(x.Elems) != 0 && cl.NeedsRC(x.Elems[0]) {
			info.Kind = Collection
			info.Elem = x.Elems[0]
		}
	case ir.KindMap:
		k, v := x.Elems[0], x.Elems[1]
		info.DecKeys = cl.NeedsRC(k)
		info.DecValues = cl.NeedsRC(v)

		if info.DecKeys || info.DecValues {
			info.Kind = Map
			info.Key = k
			info.Value = v
		}
	case ir.KindStruct, ir.KindTuple:
		info.Fields = fields(cl, x.Elems)
		if info.Fields != nil {
			info.Kind = Fields
		}
	case ir.KindRange:
		info.Fields = fields(cl, []ir.TypeID{x.Elems[0], x.Elems[0]})
		if info.Fields != nil {
			info.Kind = Fields
		}
	case ir.KindEnum:
		info.Variants = variants(cl, x.Variants)
	case ir.KindOption:
		info.Variants = variants(cl, [][]ir.TypeID{nil, {x.Elems[0]}})
	case ir.KindResult:
		info.Variants = variants(cl, [][]ir.TypeID{{x.Elems[0]}, {x.Elems[1]}})
	case ir.KindParam, ir.KindNamed:
		info.Dynamic = true
	}

	if info.Variants != nil {
		info.Kind = Enum
	}

	return info, true
}

// ClosureEnvOf describes the environment of a closure capturing values of types caps.
// Borrowed captures are not owned by the environment.
func ClosureEnvOf(cl Classifier, tp ir.TypeID, caps []ir.TypeID, borrowed []bool) Info {
	info := Info{Type: tp}

	for i, c := range caps {
		if i < len(borrowed) && borrowed[i] || !cl.NeedsRC(c) {
			continue
		}

		info.Fields = append(info.Fields, Field{Index: i, Type: c})
	}

	if info.Fields != nil {
		info.Kind = ClosureEnv
	}

	return info
}

// NonTrivial reports whether releasing the value may release others.
func (i Info) NonTrivial() bool {
	return i.Kind != Trivial || i.Dynamic
}

func fields(cl Classifier, elems []ir.TypeID) (r []Field) {
	for i, e := range elems {
		if cl.NeedsRC(e) {
			r = append(r, Field{Index: i, Type: e})
		}
	}

	return r
}

func variants(cl Classifier, vs [][]ir.TypeID) [][]Field {
	r := make([][]Field, len(vs))
	some := false

	for i, v := range vs {
		r[i] = fields(cl, v)
		some = some || r[i] != nil
	}

	if !some {
		return nil
	}

	return r
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}

	return "kind?"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k Kind) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	return e.AppendString(b, k.String())
}
