package drop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/arc/compiler/classify"
	"github.com/slowlang/arc/compiler/ir"
	"github.com/slowlang/arc/compiler/ir/irtest"
)

func TestCompute(t *testing.T) {
	types := ir.NewTypes()
	cl := classify.New(types)

	ints := types.List1(ir.Int)
	strs := types.List1(ir.Str)
	dict := types.Add(ir.Type{Kind: ir.KindMap, Elems: []ir.TypeID{ir.Int, ir.Str}})
	rec := types.Struct("Rec", ir.Str, ir.Int, strs)
	opt := types.Option(ir.Str)
	res := types.Add(ir.Type{Kind: ir.KindResult, Elems: []ir.TypeID{ir.Int, ir.Str}})
	rng := types.Add(ir.Type{Kind: ir.KindRange, Elems: []ir.TypeID{ir.Str}})
	gen := types.Param("T")

	l := types.Named("List")
	types.Resolve(l, types.Enum("List", nil, []ir.TypeID{ir.Int, l}))

	_, ok := Compute(cl, ir.Int)
	assert.False(t, ok)

	_, ok = Compute(cl, types.Option(ir.Int))
	assert.False(t, ok)

	for _, tc := range []struct {
		name string
		tp   ir.TypeID
		exp  Info
	}{
		{"str", ir.Str, Info{Kind: Trivial}},
		{"ints", ints, Info{Kind: Trivial}},
		{"strs", strs, Info{Kind: Collection, Elem: ir.Str}},
		{"map", dict, Info{Kind: Map, Key: ir.Int, Value: ir.Str, DecValues: true}},
		{"struct", rec, Info{Kind: Fields, Fields: []Field{{0, ir.Str}, {2, strs}}}},
		{"option", opt, Info{Kind: Enum, Variants: [][]Field{nil, {{0, ir.Str}}}}},
		{"result", res, Info{Kind: Enum, Variants: [][]Field{nil, {{0, ir.Str}}}}},
		{"range", rng, Info{Kind: Fields, Fields: []Field{{0, ir.Str}, {1, ir.Str}}}},
		{"param", gen, Info{Kind: Trivial, Dynamic: true}},
		{"recursive", l, Info{Kind: Enum, Variants: [][]Field{nil, {{1, l}}}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			info, ok := Compute(cl, tc.tp)
			require.True(t, ok)

			tc.exp.Type = tc.tp
			assert.Equal(t, tc.exp, info)
		})
	}
}

func TestAnnotate(t *testing.T) {
	types := ir.NewTypes()
	cl := classify.New(types)

	strs := types.List1(ir.Str)
	fn := types.Add(ir.Type{Kind: ir.KindFunc, Elems: []ir.TypeID{ir.Int}})

	b := irtest.New(types, "f", ir.Unit)
	s := b.Param(ir.Str, ir.Owned)
	l := b.Param(strs, ir.Owned)

	owning := b.PartialApply(fn, "g", s)

	borrowing := b.F.NewVar(fn)
	b.Add(ir.PartialApply{Dst: borrowing, Func: "g", Args: []ir.Var{s}, Borrowed: []bool{true}})

	b.Dec(borrowing)
	b.Dec(owning)
	b.Dec(l)
	b.Return(ir.NoVar)

	n := Annotate(context.Background(), b.F, cl)
	assert.Equal(t, 2, n)

	code := b.F.Blocks[0].Code

	assert.Equal(t, ir.RcDec{Var: borrowing}, code[2])
	assert.Equal(t, ir.RcDec{Var: owning, Drop: true}, code[3])
	assert.Equal(t, ir.RcDec{Var: l, Drop: true}, code[4])

	assert.Equal(t, 2, Annotate(context.Background(), b.F, cl), "annotation is stable")
}

func TestTable(t *testing.T) {
	types := ir.NewTypes()
	cl := classify.New(types)

	pair := types.Tuple(ir.Str, ir.Str)
	named := types.Named("Pair")
	types.Resolve(named, pair)

	f := irtest.New(types, "f", ir.Unit)
	f.Dec(f.Param(pair, ir.Owned))
	f.Dec(f.Param(ir.Str, ir.Owned))
	f.Return(ir.NoVar)

	g := irtest.New(types, "g", ir.Unit)
	g.Dec(g.Param(named, ir.Owned))
	g.Return(ir.NoVar)

	p := &ir.Package{Types: types, Funcs: []*ir.Func{f.F, g.F}}

	tab := Table(p, cl)

	require.Len(t, tab, 2)
	assert.Equal(t, Info{Type: pair, Kind: Fields, Fields: []Field{{0, ir.Str}, {1, ir.Str}}}, tab[0])
	assert.Equal(t, Info{Type: ir.Str, Kind: Trivial}, tab[1])

	assert.Equal(t, "closure_env", ClosureEnv.String())
}
