package compiler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/slowlang/arc/compiler/classify"
	"github.com/slowlang/arc/compiler/config"
	"github.com/slowlang/arc/compiler/drop"
	"github.com/slowlang/arc/compiler/ir"
	"github.com/slowlang/arc/compiler/ir/irtest"
	"github.com/slowlang/arc/compiler/reuse"
)

func optimize(t *testing.T, types *ir.Types, cfg config.Config, fs ...*ir.Func) *UnitResult {
	t.Helper()

	p := &ir.Package{Path: "test", Types: types, Funcs: fs}

	res, err := Optimize(context.Background(), p, cfg)
	require.NoError(t, err)

	for _, f := range fs {
		s := irtest.Sim{Types: types, NeedsRC: classify.New(types).NeedsRC, Sigs: res.Sigs, MaxSteps: 40, MaxPaths: 32}
		assert.Empty(t, s.Errors(f), "func %v", f.Name)

		s.Shared = true
		assert.Empty(t, s.Errors(f), "func %v shared", f.Name)
	}

	return res
}

func TestScalar(t *testing.T) {
	types := ir.NewTypes()

	b := irtest.New(types, "f", ir.Int)
	x := b.Param(ir.Int, ir.Owned)
	b.Return(b.Prim(ir.Int, "add", x, b.Lit(ir.Int, "1")))

	optimize(t, types, config.Default(), b.F)

	assert.Zero(t, irtest.Count(b.F, irtest.IsRC))
}

func TestMoveToCaller(t *testing.T) {
	types := ir.NewTypes()

	b := irtest.New(types, "f", ir.Str)
	x := b.Param(ir.Str, ir.Owned)
	b.Return(x)

	res := optimize(t, types, config.Default(), b.F)

	assert.Zero(t, irtest.Count(b.F, irtest.IsRC))
	assert.Equal(t, []ir.Ownership{ir.Owned}, res.Sigs["f"])
}

func TestDup(t *testing.T) {
	types := ir.NewTypes()
	pair := types.Tuple(ir.Str, ir.Str)

	b := irtest.New(types, "f", pair)
	x := b.Param(ir.Str, ir.Owned)
	b.Return(b.Tuple(pair, x, x))

	optimize(t, types, config.Default(), b.F)

	assert.Equal(t, 1, irtest.Incs(b.F))
	assert.Zero(t, irtest.Count(b.F, irtest.IsDec))
}

func TestCancelAdjacent(t *testing.T) {
	types := ir.NewTypes()

	b := irtest.New(types, "f", ir.Unit)
	x := b.Param(ir.Str, ir.Borrowed)

	b.Inc(x)
	b.Dec(x)
	b.Return(ir.NoVar)

	cfg := config.Default()
	cfg.Passes.Insert = false
	cfg.Passes.Reuse = false

	res := optimize(t, types, cfg, b.F)

	assert.Empty(t, b.F.Blocks[0].Code)
	assert.Equal(t, 1, res.Funcs[0].Eliminated)
}

func listMap(types *ir.Types) (*ir.Func, ir.TypeID) {
	l := types.Named("List")
	types.Resolve(l, types.Enum("List", nil, []ir.TypeID{ir.Int, l}))

	b := irtest.New(types, "inc_all", l)
	xs := b.Param(l, ir.Owned)

	nilB := b.Block()
	consB := b.Block()

	b.Switch(b.Tag(xs), nilB, consB)

	b.In(nilB)
	b.Return(b.Variant(l, 0))

	b.In(consB)
	h := b.Project(ir.Int, xs, 0)
	tl := b.Project(l, xs, 1)
	h2 := b.Prim(ir.Int, "add", h, b.Lit(ir.Int, "1"))
	tl2 := b.Apply(l, "inc_all", tl)
	b.At(12)
	b.Return(b.Variant(l, 1, h2, tl2))

	return b.F, l
}

func TestListMap(t *testing.T) {
	types := ir.NewTypes()
	f, list := listMap(types)

	res := optimize(t, types, config.Default(), f)

	assert.Equal(t, []ir.Ownership{ir.Owned}, res.Sigs["inc_all"])

	assert.Equal(t, 2, irtest.Count(f, irtest.IsReset))
	assert.Equal(t, 2, irtest.Count(f, irtest.IsReuse))

	require.Len(t, res.Reports, 1)

	r := res.Reports[0]
	assert.True(t, r.FBIP)
	assert.Len(t, r.Achieved, 2)

	require.NotEmpty(t, res.Drops)
	assert.Equal(t, types.Canonical(list), res.Drops[0].Type)
	assert.Equal(t, drop.Enum, res.Drops[0].Kind)

	assert.Equal(t, 2, res.Funcs[0].Reused)
}

func TestReuseDisabled(t *testing.T) {
	types := ir.NewTypes()
	f, _ := listMap(types)

	cfg := config.Default()
	cfg.Passes.Reuse = false

	res := optimize(t, types, cfg, f)

	assert.Zero(t, irtest.Count(f, irtest.IsReset))
	assert.Empty(t, res.Reports)
}

func TestMissedReported(t *testing.T) {
	types := ir.NewTypes()
	pair := types.Tuple(ir.Str, ir.Str)
	b := irtest.New(types, "f", pair)
	p := b.Param(pair, ir.Owned)
	s := b.Param(ir.Str, ir.Owned)
	c := b.Param(ir.Bool, ir.Owned)

	left := b.Block()
	right := b.Block()
	join := b.Block()

	b.Branch(c, left, right)

	b.In(left)
	b.Apply(ir.Unit, "consume", p)
	b.Jump(join)

	b.In(right)
	b.Jump(join)

	b.In(join)
	b.Return(b.Tuple(pair, s, s))

	res := optimize(t, types, config.Default(), b.F)

	require.Len(t, res.Reports, 1)

	r := res.Reports[0]
	assert.False(t, r.FBIP)
	require.Len(t, r.Missed, 1)
	assert.Equal(t, reuse.NoDominance, r.Missed[0].Reason)
}

func TestFailuresAreCollected(t *testing.T) {
	types := ir.NewTypes()

	good := irtest.New(types, "good", ir.Str)
	good.Return(good.Param(ir.Str, ir.Owned))

	noTerm := irtest.New(types, "no_term", ir.Unit)
	noTerm.Param(ir.Str, ir.Owned)

	bogus := irtest.New(types, "bogus", ir.Unit)
	bogus.Add(struct{}{})
	bogus.Return(ir.NoVar)

	p := &ir.Package{Types: types, Funcs: []*ir.Func{good.F, noTerm.F, bogus.F}}

	cfg := config.Default()
	cfg.Workers = 2

	res, err := Optimize(context.Background(), p, cfg)
	require.Error(t, err)
	require.NotNil(t, res)

	assert.Len(t, multierr.Errors(err), 2)
	assert.Contains(t, err.Error(), "no_term")
	assert.Contains(t, err.Error(), "invariant")

	assert.NotNil(t, res.Funcs[0])
	assert.Nil(t, res.Funcs[1])
	assert.Nil(t, res.Funcs[2])
	assert.Equal(t, 2, res.Failed)
}

func TestBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Workers = -1

	_, err := Optimize(context.Background(), &ir.Package{}, cfg)
	assert.Error(t, err)
}

func TestParallel(t *testing.T) {
	types := ir.NewTypes()
	pair := types.Tuple(ir.Str, ir.Str)

	var fs []*ir.Func

	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		b := irtest.New(types, name, pair)
		x := b.Param(ir.Str, ir.Owned)
		b.Return(b.Tuple(pair, x, x))

		fs = append(fs, b.F)
	}

	cfg := config.Default()
	cfg.Workers = 3

	res := optimize(t, types, cfg, fs...)

	assert.Zero(t, res.Failed)

	for i, f := range fs {
		assert.Equal(t, 1, irtest.Incs(f), "func %v", f.Name)
		assert.Equal(t, f.Name, res.Funcs[i].Func)
	}
}
