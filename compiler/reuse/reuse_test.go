package reuse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/arc/compiler/borrow"
	"github.com/slowlang/arc/compiler/classify"
	"github.com/slowlang/arc/compiler/dom"
	"github.com/slowlang/arc/compiler/ir"
	"github.com/slowlang/arc/compiler/ir/irtest"
	"github.com/slowlang/arc/compiler/liveness"
	"github.com/slowlang/arc/compiler/rcinsert"
)

func listType(types *ir.Types) ir.TypeID {
	l := types.Named("List")
	e := types.Enum("List", nil, []ir.TypeID{ir.Int, l})
	types.Resolve(l, e)

	return l
}

// detect runs insertion when insert is set and then detection.
func detect(t *testing.T, types *ir.Types, sigs borrow.Sigs, f *ir.Func, insert bool) *Detection {
	t.Helper()

	ctx := context.Background()
	cl := classify.New(types)
	track := func(v ir.Var) bool { return cl.NeedsRC(f.Type(v)) }

	if insert {
		tags := borrow.Derive(ctx, f, dom.Build(f))
		live := liveness.Compute(ctx, f, track)

		require.NoError(t, rcinsert.Insert(ctx, f, borrow.Env{Sigs: sigs, Tags: tags}, live, cl))
	}

	live := liveness.Compute(ctx, f, track)
	refined := liveness.Refine(ctx, f, live, track)

	return Detect(ctx, f, cl, dom.Build(f), dom.BuildPost(f), refined)
}

func balanced(t *testing.T, types *ir.Types, sigs borrow.Sigs, f *ir.Func) {
	t.Helper()

	cl := classify.New(types)

	for _, shared := range []bool{false, true} {
		s := irtest.Sim{Types: types, NeedsRC: cl.NeedsRC, Sigs: sigs, Shared: shared}

		assert.Empty(t, s.Errors(f), "shared %v", shared)
	}
}

func count(b *ir.Block, pred func(ir.Instr) bool) (n int) {
	for _, x := range b.Code {
		if pred(x) {
			n++
		}
	}

	return n
}

func TestListMap(t *testing.T) {
	types := ir.NewTypes()
	list := listType(types)
	sigs := borrow.Sigs{"inc_all": {ir.Owned}}

	b := irtest.New(types, "inc_all", list)
	xs := b.Param(list, ir.Owned)

	nilB := b.Block()
	consB := b.Block()

	tag := b.Tag(xs)
	b.Switch(tag, nilB, consB)

	b.In(nilB)
	b.Return(b.Variant(list, 0))

	b.In(consB)
	h := b.Project(ir.Int, xs, 0)
	tl := b.Project(list, xs, 1)
	h2 := b.Prim(ir.Int, "add", h)
	tl2 := b.Apply(list, "inc_all", tl)
	v := b.Variant(list, 1, h2, tl2)
	b.Return(v)

	f := b.F

	det := detect(t, types, sigs, f, true)

	require.Len(t, det.Pairs, 2)
	assert.Empty(t, det.Missed)

	assert.Equal(t, 1, count(f.Blocks[consB.ID], irtest.IsReset))
	assert.Equal(t, 1, count(f.Blocks[consB.ID], irtest.IsReuse))
	assert.Equal(t, 1, count(f.Blocks[nilB.ID], irtest.IsReset))

	for _, p := range det.Pairs {
		if p.Release == consB.ID {
			assert.Equal(t, Pair{Var: xs, Token: p.Token, Dst: v, Type: list, Release: consB.ID, Construct: consB.ID}, p)
		}
	}

	require.NoError(t, Expand(context.Background(), f))
	require.NoError(t, ir.Verify(f))

	assert.Equal(t, 2, irtest.Count(f, irtest.IsReset))
	assert.Equal(t, 2, irtest.Count(f, irtest.IsReuse))
	assert.Equal(t, 2, irtest.Count(f, func(x ir.Instr) bool { _, ok := x.(ir.IsShared); return ok }))

	balanced(t, types, sigs, f)
}

func TestClaimAndSelfSet(t *testing.T) {
	types := ir.NewTypes()
	pair := types.Tuple(ir.Str, ir.Str)

	b := irtest.New(types, "set_first", pair)
	p := b.Param(pair, ir.Owned)
	s := b.Param(ir.Str, ir.Owned)

	a := b.Project(ir.Str, p, 1)
	v := b.Tuple(pair, s, a)
	b.Return(v)

	f := b.F

	det := detect(t, types, nil, f, true)
	require.Len(t, det.Pairs, 1)

	require.NoError(t, Expand(context.Background(), f))
	require.NoError(t, ir.Verify(f))

	require.Len(t, f.Blocks, 4)

	entry, fast, slow, merge := f.Blocks[0], f.Blocks[1], f.Blocks[2], f.Blocks[3]

	assert.Equal(t, 0, count(entry, irtest.IsInc), "claimed increment is erased")
	assert.IsType(t, ir.Branch{}, entry.Term)

	rs := fast.Code[0].(ir.Reset)
	ru := fast.Code[1].(ir.Reuse)

	assert.Equal(t, []int{1}, rs.Keep)
	assert.Equal(t, []bool{false, true}, ru.Skip)
	assert.Equal(t, rs.Token, ru.Token)

	assert.Equal(t, ir.RcInc{Var: a, Count: 1}, slow.Code[0])
	assert.Equal(t, ir.RcDec{Var: p}, slow.Code[1])
	assert.IsType(t, ir.Construct{}, slow.Code[2])

	assert.Equal(t, []ir.Var{v}, merge.Params)
	assert.Equal(t, ir.Return{Value: v}, merge.Term)

	balanced(t, types, nil, f)
}

func TestCrossBlock(t *testing.T) {
	types := ir.NewTypes()
	pair := types.Tuple(ir.Str, ir.Str)
	sigs := borrow.Sigs{"size": {ir.Borrowed}}

	b := irtest.New(types, "f", pair)
	p := b.Param(pair, ir.Owned)
	s := b.Param(ir.Str, ir.Owned)

	next := b.Block()

	b.Apply(ir.Int, "size", p)
	b.Jump(next)

	b.In(next)
	b.Return(b.Tuple(pair, s, s))

	f := b.F

	det := detect(t, types, sigs, f, true)
	require.Len(t, det.Pairs, 1)
	assert.Equal(t, ir.BlockID(0), det.Pairs[0].Release)
	assert.Equal(t, next.ID, det.Pairs[0].Construct)

	require.NoError(t, Expand(context.Background(), f))
	require.NoError(t, ir.Verify(f))

	assert.Equal(t, 0, count(f.Blocks[0], irtest.IsReset), "reset is sunk to the reuse")
	assert.Equal(t, 1, irtest.Count(f, irtest.IsReset))

	balanced(t, types, sigs, f)
}

func TestNoDominance(t *testing.T) {
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
	b.Dec(p)
	b.Jump(join)

	b.In(right)
	b.Apply(ir.Unit, "consume", p)
	b.Jump(join)

	b.In(join)
	b.Return(b.Tuple(pair, s, s))

	det := detect(t, types, nil, b.F, false)

	assert.Empty(t, det.Pairs)
	require.Len(t, det.Missed, 1)
	assert.Equal(t, Missed{Var: p, Type: pair, Block: left.ID, Reason: NoDominance}, det.Missed[0])
	assert.Equal(t, "no_dominance", det.Missed[0].Reason.String())
}

func TestLoopReentry(t *testing.T) {
	types := ir.NewTypes()
	pair := types.Tuple(ir.Str, ir.Str)

	b := irtest.New(types, "f", ir.Unit)
	p := b.Param(pair, ir.Owned)
	s := b.Param(ir.Str, ir.Owned)
	c := b.Param(ir.Bool, ir.Owned)

	loop := b.Block()
	exit := b.Block()

	b.Dec(p)
	b.Jump(loop)

	b.In(loop)
	b.Apply(ir.Unit, "consume", b.Tuple(pair, s, s))
	b.Branch(c, loop, exit)

	b.In(exit).Return(ir.NoVar)

	det := detect(t, types, nil, b.F, false)

	assert.Empty(t, det.Pairs)
	require.Len(t, det.Missed, 1)
	assert.Equal(t, NoDominance, det.Missed[0].Reason)
}

func TestMissedReasons(t *testing.T) {
	types := ir.NewTypes()
	pair := types.Tuple(ir.Str, ir.Str)
	triple := types.Tuple(ir.Str, ir.Str, ir.Str)
	nested := types.Tuple(pair, pair)

	t.Run("intermediate_use", func(t *testing.T) {
		b := irtest.New(types, "f", pair)
		p := b.Param(pair, ir.Owned)
		s := b.Param(ir.Str, ir.Owned)

		b.Dec(p)
		b.Apply(ir.Unit, "peek", p)
		b.Return(b.Tuple(pair, s, s))

		det := detect(t, types, nil, b.F, false)

		require.Len(t, det.Missed, 1)
		assert.Equal(t, IntermediateUse, det.Missed[0].Reason)
	})

	t.Run("type_mismatch", func(t *testing.T) {
		b := irtest.New(types, "f", triple)
		p := b.Param(pair, ir.Owned)
		s := b.Param(ir.Str, ir.Owned)

		b.Dec(p)
		b.Return(b.Tuple(triple, s, s, s))

		det := detect(t, types, nil, b.F, false)

		require.Len(t, det.Missed, 1)
		assert.Equal(t, TypeMismatch, det.Missed[0].Reason)
	})

	t.Run("possibly_shared", func(t *testing.T) {
		b := irtest.New(types, "f", pair)
		n := b.Param(nested, ir.Owned)
		s := b.Param(ir.Str, ir.Owned)

		x := b.Project(pair, n, 0)
		b.Dec(x)
		b.Return(b.Tuple(pair, s, s))

		det := detect(t, types, nil, b.F, false)

		require.Len(t, det.Missed, 1)
		assert.Equal(t, Missed{Var: x, Type: pair, Block: 0, Reason: PossiblyShared}, det.Missed[0])
	})

	t.Run("no_matching_construct", func(t *testing.T) {
		b := irtest.New(types, "f", ir.Unit)
		p := b.Param(pair, ir.Owned)

		b.Dec(p)
		b.Return(ir.NoVar)

		det := detect(t, types, nil, b.F, false)

		require.Len(t, det.Missed, 1)
		assert.Equal(t, NoMatchingConstruct, det.Missed[0].Reason)
	})

	t.Run("strings_are_not_candidates", func(t *testing.T) {
		b := irtest.New(types, "f", pair)
		s := b.Param(ir.Str, ir.Owned)
		r := b.Param(ir.Str, ir.Owned)

		b.Dec(s)
		b.Return(b.Tuple(pair, r, r))

		det := detect(t, types, nil, b.F, false)

		assert.Empty(t, det.Missed)
		assert.Empty(t, det.Pairs)
	})
}

func TestExpandUnpairedReset(t *testing.T) {
	types := ir.NewTypes()
	pair := types.Tuple(ir.Str, ir.Str)

	b := irtest.New(types, "f", ir.Unit)
	p := b.Param(pair, ir.Owned)

	b.Add(ir.Reset{Var: p, Token: b.F.NewVar(pair)})
	b.Return(ir.NoVar)

	assert.Error(t, Expand(context.Background(), b.F))
}
