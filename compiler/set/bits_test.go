package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBits(t *testing.T) {
	s := MakeBits(1, 5, 70)

	assert.True(t, s.IsSet(1))
	assert.True(t, s.IsSet(70))
	assert.False(t, s.IsSet(2))
	assert.False(t, s.IsSet(1000))
	assert.Equal(t, 3, s.Size())
	assert.Equal(t, []int{1, 5, 70}, s.Slice())

	c := s.Copy()
	c.Clear(5)

	assert.True(t, s.IsSet(5), "copy must not alias")
	assert.False(t, c.IsSet(5))

	changed := c.Merge(MakeBits(1))
	assert.False(t, changed)

	changed = c.Merge(MakeBits(200))
	assert.True(t, changed)
	assert.Equal(t, []int{1, 70, 200}, c.Slice())
}

func TestBitsIntersect(t *testing.T) {
	s := MakeBits(1, 70, 130)
	s.Intersect(MakeBits(1, 2))

	assert.Equal(t, []int{1}, s.Slice())

	s = MakeBits(3, 4)
	s.Substract(MakeBits(4, 300))

	assert.Equal(t, []int{3}, s.Slice())
}

func TestBitsEqual(t *testing.T) {
	a := MakeBits(3, 100)
	b := MakeBits(100, 3)

	require.True(t, a.Equal(b))

	b.Clear(100)
	require.False(t, a.Equal(b))

	require.True(t, MakeBits[int]().Equal(b.Copy().withCleared(3)))
	require.True(t, MakeBits[int]().Empty())
}

func (s Bits[K]) withCleared(k K) Bits[K] {
	s.Clear(k)
	return s
}

func TestBitmap(t *testing.T) {
	m := MakeBitmap(10)

	assert.True(t, m.TrySet(3))
	assert.False(t, m.TrySet(3))

	m.Set(130)
	assert.Equal(t, 2, m.Size())

	var got []int

	m.Range(func(i int) bool {
		got = append(got, i)
		return true
	})

	assert.Equal(t, []int{3, 130}, got)

	c := m.Copy()
	c.Clear(3)

	assert.True(t, m.IsSet(3))
	assert.False(t, c.IsSet(3))
}
