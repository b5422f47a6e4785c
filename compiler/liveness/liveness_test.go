package liveness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slowlang/arc/compiler/ir"
	"github.com/slowlang/arc/compiler/ir/irtest"
)

func all(ir.Var) bool { return true }

func TestStraightLine(t *testing.T) {
	types := ir.NewTypes()
	b := irtest.New(types, "f", ir.Str)
	x := b.Param(ir.Str, ir.Owned)
	y := b.Param(ir.Str, ir.Owned)

	next := b.Block()

	b.Jump(next)

	b.In(next)
	z := b.Apply(ir.Str, "concat", x, x)
	b.Return(z)

	r := Compute(context.Background(), b.F, all)

	assert.Equal(t, []ir.Var{x}, r.Out[0].Slice())
	assert.Empty(t, r.In[0].Slice(), "params are defined at entry")
	assert.Equal(t, []ir.Var{x}, r.In[1].Slice())
	assert.Empty(t, r.Out[1].Slice())
	assert.False(t, r.Any(1, y))
}

func TestLoop(t *testing.T) {
	types := ir.NewTypes()
	b := irtest.New(types, "loop", ir.Unit)
	x := b.Param(ir.Str, ir.Owned)
	c := b.Param(ir.Bool, ir.Owned)

	head := b.Block(ir.Int)
	body := b.Block()
	exit := b.Block()

	zero := b.Lit(ir.Int, "0")
	b.Jump(head, zero)

	i := head.Params[0]
	b.In(head).Branch(c, body, exit)

	b.In(body)
	b.Apply(ir.Unit, "print", x)
	i2 := b.Prim(ir.Int, "add", i)
	b.Jump(head, i2)

	b.In(exit).Return(ir.NoVar)

	r := Compute(context.Background(), b.F, all)

	assert.Equal(t, []ir.Var{x, c}, r.In[head.ID].Slice())
	assert.Equal(t, []ir.Var{x, c}, r.Out[body.ID].Slice())
	assert.True(t, r.In[body.ID].IsSet(i))
	assert.Empty(t, r.In[exit.ID].Slice())
}

func TestTracked(t *testing.T) {
	types := ir.NewTypes()
	b := irtest.New(types, "f", ir.Int)
	x := b.Param(ir.Str, ir.Owned)
	n := b.Param(ir.Int, ir.Owned)

	next := b.Block()
	b.Jump(next)

	b.In(next)
	l := b.Apply(ir.Int, "len", x, n)
	b.Return(l)

	r := Compute(context.Background(), b.F, func(v ir.Var) bool { return b.F.Type(v) == ir.Str })

	assert.Equal(t, []ir.Var{x}, r.In[next.ID].Slice())
}

func TestInvokeResultDefinedInNormal(t *testing.T) {
	types := ir.NewTypes()
	b := irtest.New(types, "f", ir.Str)
	x := b.Param(ir.Str, ir.Owned)

	normal := b.Block()
	unwind := b.Block()

	r := b.Invoke(ir.Str, "g", normal, unwind, x)

	b.In(normal).Return(r)
	b.In(unwind).Resume()

	live := Compute(context.Background(), b.F, all)

	assert.Empty(t, live.In[normal.ID].Slice())
	assert.Empty(t, live.Out[0].Slice())
}

func TestRefine(t *testing.T) {
	types := ir.NewTypes()
	b := irtest.New(types, "f", ir.Unit)
	x := b.Param(ir.Str, ir.Owned)
	y := b.Param(ir.Str, ir.Owned)
	c := b.Param(ir.Bool, ir.Owned)

	next := b.Block()
	other := b.Block()

	b.Branch(c, next, other)

	b.In(next)
	b.Apply(ir.Unit, "print", x)
	b.Dec(x)
	b.Dec(y)
	b.Return(ir.NoVar)

	b.In(other)
	b.Dec(x)
	b.Dec(y)
	b.Return(ir.NoVar)

	f := b.F
	r := Compute(context.Background(), f, all)
	ref := Refine(context.Background(), f, r, all)

	assert.Equal(t, []ir.Var{x, y}, r.Out[0].Slice())
	assert.Equal(t, []ir.Var{x}, ref.UseOut[0].Slice())
	assert.Equal(t, []ir.Var{y}, ref.DropOut[0].Slice())

	assert.Empty(t, ref.UseIn[other.ID].Slice())
	assert.Equal(t, []ir.Var{x, y}, ref.DropIn[other.ID].Slice())
}
