// Package classify tells which types need reference counting.
package classify

import (
	"sync"

	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/arc/compiler/ir"
)

type (
	Class int

	// Classifier memoizes type classes of one unit.
	// Safe for concurrent use.
	Classifier struct {
		types *ir.Types

		mu    sync.RWMutex
		cache map[ir.TypeID]Class
	}

	state struct {
		c *Classifier

		done        map[ir.TypeID]Class
		classifying map[ir.TypeID]bool
	}
)

const (
	Scalar Class = iota
	PossibleRef
	DefiniteRef

	// cyclic is a self reference met while its owner is being classified.
	cyclic Class = -1
)

func New(types *ir.Types) *Classifier {
	return &Classifier{
		types: types,
		cache: make(map[ir.TypeID]Class),
	}
}

func (c *Classifier) Types() *ir.Types { return c.types }

func (c *Classifier) NeedsRC(id ir.TypeID) bool {
	return c.Classify(id) != Scalar
}

func (c *Classifier) Classify(id ir.TypeID) Class {
	c.mu.RLock()
	cl, ok := c.cache[id]
	c.mu.RUnlock()

	if ok {
		return cl
	}

	s := state{
		c:           c,
		done:        map[ir.TypeID]Class{},
		classifying: map[ir.TypeID]bool{},
	}

	cl = s.classify(id)

	c.mu.Lock()
	for id, x := range s.done {
		c.cache[id] = x
	}
	c.mu.Unlock()

	return cl
}

func (s *state) classify(id ir.TypeID) (r Class) {
	if id == ir.NoType || !s.c.types.Valid(id) {
		return PossibleRef
	}

	if r, ok := s.done[id]; ok {
		return r
	}

	s.c.mu.RLock()
	r, ok := s.c.cache[id]
	s.c.mu.RUnlock()

	if ok {
		return r
	}

	if s.classifying[id] {
		return cyclic
	}

	s.classifying[id] = true

	r, cycle := s.compute(id)

	delete(s.classifying, id)

	if r == cyclic || r == Scalar && cycle {
		r = DefiniteRef
	}

	// a result depending on an in-progress type is final only for the cycle root
	if !cycle || len(s.classifying) == 0 {
		s.done[id] = r
	}

	return r
}

func (s *state) compute(id ir.TypeID) (Class, bool) {
	t := s.c.types.Get(id)

	switch t.Kind {
	case ir.KindStr, ir.KindList, ir.KindMap, ir.KindSet, ir.KindChan, ir.KindFunc:
		return DefiniteRef, false
	case ir.KindParam:
		return PossibleRef, false
	case ir.KindNamed:
		if t.Target == ir.NoType {
			return PossibleRef, false
		}

		r := s.classify(t.Target)

		return r, r == cyclic
	case ir.KindOption, ir.KindResult, ir.KindRange, ir.KindTuple, ir.KindStruct:
		return s.join(t.Elems)
	case ir.KindEnum:
		r, cycle := Scalar, false

		for _, v := range t.Variants {
			x, c := s.join(v)
			r = max(r, x)
			cycle = cycle || c
		}

		return r, cycle
	}

	if t.Kind.Primitive() {
		return Scalar, false
	}

	panic(t.Kind)
}

func (s *state) join(elems []ir.TypeID) (r Class, cycle bool) {
	for _, e := range elems {
		x := s.classify(e)

		if x == cyclic {
			cycle = true
			continue
		}

		r = max(r, x)
	}

	return r, cycle
}

func (c Class) String() string {
	switch c {
	case Scalar:
		return "scalar"
	case PossibleRef:
		return "possible_ref"
	case DefiniteRef:
		return "definite_ref"
	default:
		return "class?"
	}
}

func (c Class) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	return e.AppendString(b, c.String())
}
