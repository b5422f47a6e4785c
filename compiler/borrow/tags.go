package borrow

import (
	"context"
	"strconv"

	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/arc/compiler/ir"
)

type (
	Kind int

	// Tag is the derived ownership of a variable.
	Tag struct {
		Kind Kind
		Root ir.Var // BorrowedFrom only
	}

	Tags struct {
		list []Tag
	}

	// Dom is the dominator order used to visit blocks.
	Dom interface {
		Preorder() []ir.BlockID
	}
)

const (
	Owned Kind = iota
	BorrowedFrom
	Fresh

	unknown Kind = -1
)

// Derive tags every variable of f. Params ownership is taken from f.Params.
// Blocks are visited in dominator preorder until block params settle.
func Derive(ctx context.Context, f *ir.Func, d Dom) *Tags {
	tr := tlog.SpanFromContext(ctx)

	t := &Tags{list: make([]Tag, len(f.Vars))}

	for i := range t.list {
		t.list[i] = Tag{Kind: unknown, Root: ir.NoVar}
	}

	for _, p := range f.Params {
		if p.Own == ir.Borrowed {
			t.list[p.Var] = Tag{Kind: BorrowedFrom, Root: p.Var}
		} else {
			t.list[p.Var] = Tag{Kind: Owned, Root: ir.NoVar}
		}
	}

	incoming := make([][]ir.Jump, len(f.Blocks))
	other := make([]bool, len(f.Blocks))

	for _, b := range f.Blocks {
		for _, s := range ir.Succs(b.Term) {
			if j, ok := b.Term.(ir.Jump); ok {
				incoming[s] = append(incoming[s], j)
			} else {
				other[s] = true
			}
		}
	}

	order := d.Preorder()
	rounds := 0

	for changed := true; changed; {
		changed = false
		rounds++

		set := func(v ir.Var, x Tag) {
			if t.list[v] != x {
				t.list[v] = x
				changed = true
			}
		}

		for _, id := range order {
			b := f.Blocks[id]

			for i, p := range b.Params {
				x := Tag{Kind: unknown, Root: ir.NoVar}

				if other[id] {
					x = Tag{Kind: Owned, Root: ir.NoVar}
				}

				for _, j := range incoming[id] {
					x = meet(x, t.list[j.Args[i]])
				}

				set(p, x)
			}

			for _, x := range b.Code {
				v, ok := ir.Def(x)
				if !ok {
					continue
				}

				set(v, t.derive(x))
			}

			if inv, ok := b.Term.(ir.Invoke); ok && inv.Dst != ir.NoVar {
				set(inv.Dst, Tag{Kind: Owned, Root: ir.NoVar})
			}
		}
	}

	for i, x := range t.list {
		if x.Kind == unknown {
			t.list[i] = Tag{Kind: Owned, Root: ir.NoVar}
		}
	}

	if tr.If("dump_tags") {
		for v, x := range t.list {
			tr.Printw("tag", "func", f.Name, "var", v, "tag", x)
		}
	}

	tr.V("borrow_tags").Printw("tags derived", "func", f.Name, "rounds", rounds)

	return t
}

func (t *Tags) derive(x ir.Instr) Tag {
	owned := Tag{Kind: Owned, Root: ir.NoVar}

	switch x := x.(type) {
	case ir.Let:
		if c, ok := x.Value.(ir.Copy); ok {
			return t.list[c.Var]
		}

		return owned
	case ir.Project:
		if src := t.list[x.Value]; src.Kind == BorrowedFrom || src.Kind == unknown {
			return src
		}

		return owned
	case ir.Construct, ir.PartialApply, ir.Reuse:
		return Tag{Kind: Fresh, Root: ir.NoVar}
	case ir.Apply, ir.ApplyIndirect, ir.IsShared, ir.Reset:
		return owned
	default:
		panic(x)
	}
}

// meet joins incoming tags: unknown < BorrowedFrom(r) < Owned.
func meet(x, y Tag) Tag {
	switch {
	case y.Kind == unknown:
		return x
	case x.Kind == unknown:
		if y.Kind == Fresh {
			return Tag{Kind: Owned, Root: ir.NoVar}
		}

		return y
	case x.Kind == BorrowedFrom && y.Kind == BorrowedFrom && x.Root == y.Root:
		return x
	default:
		return Tag{Kind: Owned, Root: ir.NoVar}
	}
}

// Get returns the tag of v. Variables unknown to t are owned.
func (t *Tags) Get(v ir.Var) Tag {
	if v < 0 || int(v) >= len(t.list) {
		return Tag{Kind: Owned, Root: ir.NoVar}
	}

	return t.list[v]
}

func (t *Tags) Borrowed(v ir.Var) bool { return t.Get(v).Kind == BorrowedFrom }

// Set overrides the tag of v. Used for variables created after Derive.
func (t *Tags) Set(v ir.Var, x Tag) {
	for int(v) >= len(t.list) {
		t.list = append(t.list, Tag{Kind: Owned, Root: ir.NoVar})
	}

	t.list[v] = x
}

func (t *Tags) Len() int { return len(t.list) }

func (k Kind) String() string {
	switch k {
	case Owned:
		return "owned"
	case BorrowedFrom:
		return "borrowed"
	case Fresh:
		return "fresh"
	default:
		return "unknown"
	}
}

func (x Tag) String() string {
	if x.Kind == BorrowedFrom {
		return "borrowed(" + strconv.Itoa(int(x.Root)) + ")"
	}

	return x.Kind.String()
}

func (x Tag) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	return e.AppendString(b, x.String())
}
