package ir

import (
	"tlog.app/go/errors"
)

// Verify checks the structural invariants every pass relies on:
// single definition, defined operands, valid block references and terminators.
func Verify(f *Func) error {
	if len(f.Blocks) == 0 {
		return errors.New("func %v: no blocks", f.Name)
	}

	if f.Entry < 0 || int(f.Entry) >= len(f.Blocks) {
		return errors.New("func %v: bad entry block %d", f.Name, f.Entry)
	}

	defs := make([]int8, len(f.Vars))

	def := func(v Var, where string) error {
		if v < 0 || int(v) >= len(f.Vars) {
			return errors.New("%v: variable %d out of range", where, v)
		}

		if defs[v] != 0 {
			return errors.New("%v: variable %d defined twice", where, v)
		}

		defs[v] = 1

		return nil
	}

	for _, p := range f.Params {
		if err := def(p.Var, "param"); err != nil {
			return errors.Wrap(err, "func %v", f.Name)
		}
	}

	var succs []BlockID

	for i, b := range f.Blocks {
		if b.ID != BlockID(i) {
			return errors.New("func %v: block %d has id %d", f.Name, i, b.ID)
		}

		for _, p := range b.Params {
			if err := def(p, "block param"); err != nil {
				return errors.Wrap(err, "func %v: block %d", f.Name, i)
			}
		}

		for j, x := range b.Code {
			d, ok := Def(x)
			if !ok {
				continue
			}

			if err := def(d, "instr"); err != nil {
				return errors.Wrap(err, "func %v: block %d: instr %d", f.Name, i, j)
			}
		}

		if b.Term == nil {
			return errors.New("func %v: block %d: no terminator", f.Name, i)
		}

		if inv, ok := b.Term.(Invoke); ok && inv.Dst != NoVar {
			if err := def(inv.Dst, "invoke"); err != nil {
				return errors.Wrap(err, "func %v: block %d", f.Name, i)
			}
		}

		succs = AppendSuccs(succs[:0], b.Term)

		for _, s := range succs {
			if s < 0 || int(s) >= len(f.Blocks) {
				return errors.New("func %v: block %d: bad successor %d", f.Name, i, s)
			}
		}

		if j, ok := b.Term.(Jump); ok && len(j.Args) != len(f.Blocks[j.Target].Params) {
			return errors.New("func %v: block %d: jump to %d: %d args for %d params", f.Name, i, j.Target, len(j.Args), len(f.Blocks[j.Target].Params))
		}
	}

	preds := Preds(f)
	idom, reach := idoms(f, preds)

	// where is the definition point of each variable: block and instruction index,
	// -1 for block entry.
	type site struct {
		b   BlockID
		pos int
	}

	where := make([]site, len(f.Vars))

	for _, p := range f.Params {
		where[p.Var] = site{b: f.Entry, pos: -1}
	}

	for i, b := range f.Blocks {
		for _, p := range b.Params {
			where[p] = site{b: BlockID(i), pos: -1}
		}

		for j, x := range b.Code {
			if d, ok := Def(x); ok {
				where[d] = site{b: BlockID(i), pos: j}
			}
		}

		inv, ok := b.Term.(Invoke)
		if !ok || inv.Dst == NoVar {
			continue
		}

		if len(preds[inv.Normal]) != 1 || inv.Normal == inv.Unwind {
			return errors.New("func %v: block %d: invoke result needs a normal block with a single predecessor", f.Name, i)
		}

		where[inv.Dst] = site{b: inv.Normal, pos: -1}
	}

	dominates := func(a, b BlockID) bool {
		for ; b != NoBlock; b = idom[b] {
			if b == a {
				return true
			}
		}

		return false
	}

	var uses []Var

	check := func(uses []Var, b BlockID, pos int, msg string, args ...any) error {
		for _, u := range uses {
			if u < 0 || int(u) >= len(f.Vars) || defs[u] == 0 {
				return errors.New(msg+": variable %d used but never defined", append(args, u)...)
			}

			if !reach[b] {
				continue
			}

			d := where[u]

			if d.b == b && d.pos >= pos {
				return errors.New(msg+": variable %d used before its definition", append(args, u)...)
			}

			if d.b != b && !dominates(d.b, b) {
				return errors.New(msg+": variable %d defined in block %d which does not dominate the use", append(args, u, d.b)...)
			}
		}

		return nil
	}

	for i, b := range f.Blocks {
		for j, x := range b.Code {
			uses = AppendUses(uses[:0], x)

			if err := check(uses, BlockID(i), j, "func %v: block %d: instr %d", f.Name, i, j); err != nil {
				return err
			}
		}

		uses = AppendTermUses(uses[:0], b.Term)

		if err := check(uses, BlockID(i), len(b.Code), "func %v: block %d: terminator", f.Name, i); err != nil {
			return err
		}
	}

	return nil
}

// idoms computes immediate dominators with the Cooper-Harvey-Kennedy iteration.
// The entry and unreachable blocks get NoBlock.
func idoms(f *Func, preds [][]BlockID) (idom []BlockID, reach []bool) {
	n := len(f.Blocks)

	type frame struct {
		b     BlockID
		succs []BlockID
	}

	reach = make([]bool, n)
	reach[f.Entry] = true

	var post []BlockID
	stack := []frame{{b: f.Entry, succs: Succs(f.Blocks[f.Entry].Term)}}

	for len(stack) != 0 {
		top := &stack[len(stack)-1]

		if len(top.succs) != 0 {
			s := top.succs[0]
			top.succs = top.succs[1:]

			if !reach[s] {
				reach[s] = true
				stack = append(stack, frame{b: s, succs: Succs(f.Blocks[s].Term)})
			}

			continue
		}

		post = append(post, top.b)
		stack = stack[:len(stack)-1]
	}

	order := make([]int, n)
	for i, b := range post {
		order[b] = i
	}

	idom = make([]BlockID, n)
	for i := range idom {
		idom[i] = NoBlock
	}

	idom[f.Entry] = f.Entry

	intersect := func(a, b BlockID) BlockID {
		for a != b {
			for order[a] < order[b] {
				a = idom[a]
			}

			for order[b] < order[a] {
				b = idom[b]
			}
		}

		return a
	}

	for changed := true; changed; {
		changed = false

		for i := len(post) - 2; i >= 0; i-- {
			b := post[i]
			nidom := NoBlock

			for _, p := range preds[b] {
				if idom[p] == NoBlock {
					continue
				}

				if nidom == NoBlock {
					nidom = p
				} else {
					nidom = intersect(p, nidom)
				}
			}

			if idom[b] != nidom {
				idom[b] = nidom
				changed = true
			}
		}
	}

	idom[f.Entry] = NoBlock

	return idom, reach
}
