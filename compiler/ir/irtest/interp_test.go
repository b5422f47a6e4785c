package irtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/arc/compiler/ir"
)

func TestEmptyLoopTruncated(t *testing.T) {
	types := ir.NewTypes()

	b := New(types, "spin", ir.Unit)
	c := b.Param(ir.Bool, ir.Owned)

	head := b.Block()
	body := b.Block()
	exit := b.Block()

	b.Jump(head)
	b.In(head).Branch(c, body, exit)
	b.In(body).Jump(head)
	b.In(exit).Return(ir.NoVar)

	s := Sim{Types: types, NeedsRC: func(id ir.TypeID) bool { return id == ir.Str }, MaxSteps: 20, MaxPaths: 8}

	res := s.Run(b.F)
	require.NotEmpty(t, res)

	assert.True(t, res[0].Truncated)
	assert.Equal(t, 21, res[0].Steps)

	done := 0

	for _, o := range res {
		if !o.Truncated {
			done++
		}
	}

	assert.NotZero(t, done, "some path leaves the loop")
	assert.Empty(t, s.Errors(b.F))
}

func TestLeakReported(t *testing.T) {
	types := ir.NewTypes()

	b := New(types, "leak", ir.Unit)
	x := b.Param(ir.Str, ir.Owned)
	b.Inc(x)
	b.Dec(x)
	b.Return(ir.NoVar)

	s := Sim{Types: types, NeedsRC: func(id ir.TypeID) bool { return id == ir.Str }, MaxSteps: 20}

	assert.NotEmpty(t, s.Errors(b.F))
}
