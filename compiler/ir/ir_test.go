package ir_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/arc/compiler/format"
	"github.com/slowlang/arc/compiler/ir"
	"github.com/slowlang/arc/compiler/ir/irtest"
)

func TestCodec(t *testing.T) {
	ctx := context.Background()
	types := ir.NewTypes()
	pair := types.Tuple(ir.Str, ir.Str)

	b := irtest.New(types, "f", pair)
	x := b.Param(pair, ir.Borrowed)
	c := b.Param(ir.Bool, ir.Owned)

	left := b.Block()
	right := b.Block()
	join := b.Block(ir.Str)

	b.Branch(c, left, right)

	b.In(left)
	s := b.At(3).Project(ir.Str, x, 0)
	b.Inc(s)
	b.Jump(join, s)

	b.In(right)
	l := b.Lit(ir.Str, `"a"`)
	b.Jump(join, l)

	b.In(join)
	b.Add(ir.RcDec{Var: join.Params[0], Drop: true})
	l2 := b.Lit(ir.Str, `"b"`)
	b.Return(b.Tuple(pair, l2, l2))

	p := &ir.Package{Path: "test", Types: types, Funcs: []*ir.Func{b.F}}

	data, err := ir.EncodePackage(p)
	require.NoError(t, err)

	back, err := ir.DecodePackage(data)
	require.NoError(t, err)

	assert.Equal(t, p.Path, back.Path)
	assert.Equal(t, p.Types.List, back.Types.List)
	require.Len(t, back.Funcs, 1)

	exp, err := format.Func(ctx, nil, types, b.F)
	require.NoError(t, err)

	got, err := format.Func(ctx, nil, back.Types, back.Funcs[0])
	require.NoError(t, err)

	assert.Equal(t, string(exp), string(got))
	assert.Equal(t, b.F.Params, back.Funcs[0].Params)
	assert.Equal(t, b.F.Vars, back.Funcs[0].Vars)
}

func TestDecodeErrors(t *testing.T) {
	_, err := ir.DecodePackage([]byte(`{"funcs": [{"name": "f", "blocks": [{"code": [{"op": "jmp"}], "term": {"op": "return"}}]}]}`))
	assert.ErrorContains(t, err, "unknown instruction")

	_, err = ir.DecodePackage([]byte(`{"funcs": [{"name": "f", "blocks": [{"term": {"op": "goto"}}]}]}`))
	assert.ErrorContains(t, err, "unknown terminator")

	_, err = ir.DecodePackage([]byte(`{"funcs": [{"name": "f", "params": [{"var": 0, "own": "lent"}]}]}`))
	assert.Error(t, err)

	p, err := ir.DecodePackage([]byte(`{"funcs": [{"name": "f", "vars": [], "blocks": [{}]}]}`))
	require.NoError(t, err)
	assert.Nil(t, p.Funcs[0].Blocks[0].Term)
	assert.ErrorContains(t, ir.Verify(p.Funcs[0]), "no terminator")

	p, err = ir.DecodePackage([]byte(`{"funcs": []}`))
	require.NoError(t, err)
	assert.NotNil(t, p.Types)
}

func TestVerify(t *testing.T) {
	types := ir.NewTypes()

	ok := irtest.New(types, "ok", ir.Str)
	ok.Return(ok.Param(ir.Str, ir.Owned))
	assert.NoError(t, ir.Verify(ok.F))

	assert.ErrorContains(t, ir.Verify(&ir.Func{Name: "empty"}), "no blocks")

	noTerm := irtest.New(types, "no_term", ir.Unit)
	noTerm.Param(ir.Str, ir.Owned)
	assert.ErrorContains(t, ir.Verify(noTerm.F), "no terminator")

	twice := irtest.New(types, "twice", ir.Int)
	x := twice.Param(ir.Int, ir.Owned)
	twice.Add(ir.Let{Dst: x, Value: ir.Lit{Text: "1"}})
	twice.Return(x)
	assert.ErrorContains(t, ir.Verify(twice.F), "defined twice")

	undef := irtest.New(types, "undef", ir.Int)
	v := undef.F.NewVar(ir.Int)
	undef.Return(v)
	assert.ErrorContains(t, ir.Verify(undef.F), "never defined")

	args := irtest.New(types, "args", ir.Unit)
	to := args.Block(ir.Int)
	args.Jump(to)
	args.In(to)
	args.Return(ir.NoVar)
	assert.ErrorContains(t, ir.Verify(args.F), "1 params")

	fresh := &ir.Func{Name: "fresh"}
	assert.Nil(t, fresh.NewBlock().Term)
}

func TestVerifyDominance(t *testing.T) {
	types := ir.NewTypes()

	b := irtest.New(types, "join", ir.Str)
	c := b.Param(ir.Bool, ir.Owned)

	left := b.Block()
	right := b.Block()
	join := b.Block()

	b.Branch(c, left, right)

	b.In(left)
	v := b.Lit(ir.Str, `"a"`)
	b.Jump(join)

	b.In(right)
	b.Jump(join)

	b.In(join)
	b.Return(v)

	assert.ErrorContains(t, ir.Verify(b.F), "does not dominate")

	order := irtest.New(types, "order", ir.Int)
	x := order.F.NewVar(ir.Int)
	order.Add(ir.Let{Dst: order.F.NewVar(ir.Int), Value: ir.PrimOp{Op: "neg", Args: []ir.Var{x}}})
	order.Add(ir.Let{Dst: x, Value: ir.Lit{Text: "1"}})
	order.Return(x)

	assert.ErrorContains(t, ir.Verify(order.F), "before its definition")

	params := irtest.New(types, "params", ir.Int)
	n := params.Param(ir.Int, ir.Owned)
	head := params.Block(ir.Int)
	exit := params.Block()

	params.Jump(head, n)
	params.In(head)
	i := head.Params[0]
	i2 := params.Prim(ir.Int, "add", i, n)
	params.Branch(params.Prim(ir.Bool, "lt", i2, n), exit, exit)
	params.In(exit).Return(i2)

	assert.NoError(t, ir.Verify(params.F))
}

func TestVerifyInvoke(t *testing.T) {
	types := ir.NewTypes()

	ok := irtest.New(types, "ok", ir.Str)
	normal := ok.Block()
	unwind := ok.Block()
	r := ok.Invoke(ir.Str, "g", normal, unwind)
	ok.In(normal).Return(r)
	ok.In(unwind).Resume()

	assert.NoError(t, ir.Verify(ok.F))

	bad := irtest.New(types, "bad", ir.Str)
	c := bad.Param(ir.Bool, ir.Owned)
	call := bad.Block()
	other := bad.Block()
	normal = bad.Block()
	unwind = bad.Block()

	bad.Branch(c, call, other)
	r = bad.In(call).Invoke(ir.Str, "g", normal, unwind)
	bad.In(other).Jump(normal)
	bad.In(normal).Return(r)
	bad.In(unwind).Resume()

	assert.ErrorContains(t, ir.Verify(bad.F), "single predecessor")
}
