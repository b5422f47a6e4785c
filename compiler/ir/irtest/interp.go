package irtest

import (
	"fmt"

	"github.com/slowlang/arc/compiler/ir"
)

type (
	// Sim runs a function along every control flow path, simulating
	// refcounts of every allocation. Callees are opaque: owned arguments
	// are released by the callee, results are fresh allocations.
	Sim struct {
		Types   *ir.Types
		NeedsRC func(ir.TypeID) bool

		// Sigs are callee parameter modes. Unknown callees own all arguments.
		Sigs map[string][]ir.Ownership

		// Shared makes the caller keep an extra reference to every heap argument.
		Shared bool

		MaxSteps int
		MaxPaths int
	}

	// Outcome of one path.
	Outcome struct {
		Path   []int
		Errors []string
		Steps  int

		// Truncated paths hit MaxSteps and are not checked for leaks.
		Truncated bool
	}

	cell struct {
		id    int
		typ   ir.TypeID
		rc    int
		freed bool
		reset bool
		tag   int

		fields []val
		owned  []bool
	}

	val struct {
		c   *cell
		bit int8 // -1 unknown
		num int64
		has bool
	}

	run struct {
		s *Sim
		f *ir.Func

		vals  map[ir.Var]val
		cells []*cell

		choices []int
		limits  []int
		at      int

		errs      []string
		steps     int
		truncated bool
	}
)

// Run explores paths and returns outcomes with errors.
func (s *Sim) Run(f *ir.Func) []Outcome {
	maxPaths := s.MaxPaths
	if maxPaths == 0 {
		maxPaths = 256
	}

	var res []Outcome
	var choices []int

	for len(res) < maxPaths {
		r := &run{s: s, f: f, vals: map[ir.Var]val{}, choices: choices}

		r.exec()

		res = append(res, Outcome{Path: r.choices, Errors: r.errs, Steps: r.steps, Truncated: r.truncated})

		// next path: odometer over recorded choice points
		next := append([]int{}, r.choices...)
		i := len(next) - 1

		for i >= 0 && next[i]+1 >= r.limits[i] {
			i--
		}

		if i < 0 {
			break
		}

		next[i]++
		choices = next[:i+1]
	}

	return res
}

// Errors flattens errors of all paths.
func (s *Sim) Errors(f *ir.Func) (errs []string) {
	for _, o := range s.Run(f) {
		if o.Truncated {
			continue
		}

		for _, e := range o.Errors {
			errs = append(errs, fmt.Sprintf("path %v: %s", o.Path, e))
		}
	}

	return errs
}

func (r *run) exec() {
	maxSteps := r.s.MaxSteps
	if maxSteps == 0 {
		maxSteps = 10000
	}

	type arg struct {
		c   *cell
		own ir.Ownership
	}

	var args []arg

	for _, p := range r.f.Params {
		v := r.fresh(r.f.Type(p.Var))

		if v.c != nil && r.s.Shared {
			v.c.rc++
		}

		r.vals[p.Var] = v
		args = append(args, arg{c: v.c, own: p.Own})
	}

	var ret val
	returned := false

	b := r.f.Blocks[r.f.Entry]

blocks:
	for {
		r.steps++

		for _, x := range b.Code {
			r.steps++
			r.instr(x)
		}

		if r.steps > maxSteps {
			r.truncated = true
			return
		}

		switch t := b.Term.(type) {
		case ir.Return:
			if t.Value != ir.NoVar {
				ret = r.get(t.Value)
			}

			returned = true

			break blocks
		case ir.Jump:
			vs := make([]val, len(t.Args))

			for i, a := range t.Args {
				vs[i] = r.get(a)
			}

			b = r.f.Blocks[t.Target]

			for i, p := range b.Params {
				r.vals[p] = vs[i]
			}
		case ir.Branch:
			c := r.get(t.Cond)

			var k int
			if c.bit >= 0 {
				k = 1 - int(c.bit)
			} else {
				k = r.choose(2)
			}

			if k == 0 {
				b = r.f.Blocks[t.Then]
			} else {
				b = r.f.Blocks[t.Else]
			}
		case ir.Switch:
			c := r.get(t.Value)

			next := t.Default

			if c.has {
				for _, cs := range t.Cases {
					if cs.Value == c.num {
						next = cs.Target
					}
				}
			} else {
				k := r.choose(len(t.Cases) + 1)
				if k < len(t.Cases) {
					next = t.Cases[k].Target
				}
			}

			b = r.f.Blocks[next]
		case ir.Invoke:
			r.call(t.Func, t.Args)

			if r.choose(2) == 0 {
				if t.Dst != ir.NoVar {
					r.vals[t.Dst] = r.fresh(r.f.Type(t.Dst))
				}

				b = r.f.Blocks[t.Normal]
			} else {
				b = r.f.Blocks[t.Unwind]
			}
		case ir.Resume:
			break blocks
		case ir.Unreachable:
			r.errorf("reached unreachable in block %d", b.ID)
			return
		default:
			panic(t)
		}
	}

	// caller side
	if returned && ret.c != nil {
		r.dec(ret.c, "caller drop of result")
	}

	for _, a := range args {
		if a.c == nil {
			continue
		}

		if a.own == ir.Borrowed {
			r.dec(a.c, "caller release of borrowed argument")
		}

		if r.s.Shared {
			r.dec(a.c, "caller release of shared argument")
		}
	}

	for _, c := range r.cells {
		if !c.freed {
			r.errorf("leak: cell %d of type %d rc %d", c.id, c.typ, c.rc)
		}
	}
}

func (r *run) instr(x ir.Instr) {
	switch x := x.(type) {
	case ir.Let:
		switch v := x.Value.(type) {
		case ir.Copy:
			r.vals[x.Dst] = r.get(v.Var)
		case ir.Lit:
			r.vals[x.Dst] = val{bit: -1}
		case ir.PrimOp:
			for _, a := range v.Args {
				r.alive(r.get(a), "prim arg")
			}

			r.vals[x.Dst] = val{bit: -1}
		case ir.Tag:
			c := r.alive(r.get(v.Var), "tag")
			if c == nil {
				r.vals[x.Dst] = val{bit: -1}
				return
			}

			if c.tag < 0 {
				c.tag = r.choose(max(1, len(r.s.Types.Underlying(c.typ).Variants)))
			}

			r.vals[x.Dst] = val{bit: -1, num: int64(c.tag), has: true}
		default:
			panic(v)
		}
	case ir.Apply:
		r.call(x.Func, x.Args)
		r.vals[x.Dst] = r.fresh(r.f.Type(x.Dst))
	case ir.ApplyIndirect:
		r.call("", append([]ir.Var{x.Closure}, x.Args...))
		r.vals[x.Dst] = r.fresh(r.f.Type(x.Dst))
	case ir.PartialApply:
		c := r.alloc(r.f.Type(x.Dst))

		for i, a := range x.Args {
			v := r.get(a)
			r.alive(v, "capture")

			c.fields = append(c.fields, v)
			c.owned = append(c.owned, v.c != nil && !(i < len(x.Borrowed) && x.Borrowed[i]))
		}

		r.vals[x.Dst] = val{c: c, bit: -1}
	case ir.Project:
		c := r.alive(r.get(x.Value), "project")
		if c == nil {
			r.vals[x.Dst] = val{bit: -1}
			return
		}

		for len(c.fields) <= x.Field {
			c.fields = append(c.fields, val{bit: -1})
			c.owned = append(c.owned, false)
		}

		if c.fields[x.Field].c == nil && r.s.NeedsRC(r.f.Type(x.Dst)) {
			c.fields[x.Field] = r.fresh(r.f.Type(x.Dst))
			c.owned[x.Field] = true
		}

		r.vals[x.Dst] = c.fields[x.Field]
	case ir.Construct:
		c := r.alloc(x.Type)
		c.tag = x.Ctor.Variant

		for _, a := range x.Args {
			v := r.get(a)
			r.alive(v, "construct arg")

			c.fields = append(c.fields, v)
			c.owned = append(c.owned, v.c != nil)
		}

		r.vals[x.Dst] = val{c: c, bit: -1}
	case ir.RcInc:
		c := r.alive(r.get(x.Var), "inc")
		if c == nil {
			r.errorf("inc of scalar %d", x.Var)
			return
		}

		c.rc += max(x.Count, 1)
	case ir.RcDec:
		c := r.get(x.Var).c
		if c == nil {
			r.errorf("dec of scalar %d", x.Var)
			return
		}

		r.dec(c, fmt.Sprintf("dec %d", x.Var))
	case ir.IsShared:
		c := r.alive(r.get(x.Var), "is_shared")

		v := val{bit: 0}
		if c != nil && c.rc > 1 {
			v.bit = 1
		}

		r.vals[x.Dst] = v
	case ir.Set:
		c := r.alive(r.get(x.Base), "set")
		if c == nil {
			return
		}

		for len(c.fields) <= x.Field {
			c.fields = append(c.fields, val{bit: -1})
			c.owned = append(c.owned, false)
		}

		if old := c.fields[x.Field]; old.c != nil && c.owned[x.Field] {
			r.dec(old.c, "set old value")
		}

		v := r.get(x.Value)
		c.fields[x.Field] = v
		c.owned[x.Field] = v.c != nil
	case ir.SetTag:
		if c := r.alive(r.get(x.Base), "set_tag"); c != nil {
			c.tag = x.Tag
		}
	case ir.Reset:
		c := r.alive(r.get(x.Var), "reset")
		if c == nil {
			r.errorf("reset of scalar %d", x.Var)
			return
		}

		if c.rc != 1 {
			r.errorf("reset of shared cell %d rc %d", c.id, c.rc)
		}

		keep := map[int]bool{}
		for _, k := range x.Keep {
			keep[k] = true
		}

		for i, f := range c.fields {
			if c.owned[i] && f.c != nil && !keep[i] {
				r.dec(f.c, "reset field")
			}

			c.owned[i] = false
		}

		c.reset = true
		r.vals[x.Token] = val{c: c, bit: -1}
	case ir.Reuse:
		c := r.get(x.Token).c
		if c == nil || !c.reset {
			r.errorf("reuse of non reset token %d", x.Token)
			return
		}

		c.reset = false
		c.rc = 1
		c.typ = x.Type
		c.tag = x.Ctor.Variant

		for i, a := range x.Args {
			v := r.get(a)

			for len(c.fields) <= i {
				c.fields = append(c.fields, val{bit: -1})
				c.owned = append(c.owned, false)
			}

			if i < len(x.Skip) && x.Skip[i] {
				if c.fields[i].c != v.c {
					r.errorf("skipped field %d does not hold %d", i, a)
				}
			} else {
				r.alive(v, "reuse arg")
				c.fields[i] = v
			}

			c.owned[i] = v.c != nil
		}

		for i := len(x.Args); i < len(c.fields); i++ {
			c.fields[i] = val{bit: -1}
			c.owned[i] = false
		}

		r.vals[x.Dst] = val{c: c, bit: -1}
	default:
		panic(x)
	}
}

func (r *run) call(fn string, args []ir.Var) {
	sig, known := r.s.Sigs[fn]

	for i, a := range args {
		v := r.get(a)
		r.alive(v, "call arg")

		if v.c == nil {
			continue
		}

		if known && i < len(sig) && sig[i] == ir.Borrowed {
			continue
		}

		r.dec(v.c, "callee consumes argument")
	}
}

func (r *run) dec(c *cell, what string) {
	if c.freed {
		r.errorf("%s: double free of cell %d", what, c.id)
		return
	}

	if c.reset {
		r.errorf("%s: release of reset cell %d", what, c.id)
		return
	}

	c.rc--

	if c.rc > 0 {
		return
	}

	c.freed = true

	for i, f := range c.fields {
		if c.owned[i] && f.c != nil {
			r.dec(f.c, "drop field")
		}
	}
}

func (r *run) alive(v val, what string) *cell {
	if v.c == nil {
		return nil
	}

	if v.c.freed {
		r.errorf("%s: use after free of cell %d", what, v.c.id)
	}

	if v.c.reset {
		r.errorf("%s: use of reset cell %d", what, v.c.id)
	}

	return v.c
}

func (r *run) get(v ir.Var) val {
	x, ok := r.vals[v]
	if !ok {
		r.errorf("variable %d used before definition", v)
		return val{bit: -1}
	}

	return x
}

func (r *run) fresh(tp ir.TypeID) val {
	if !r.s.NeedsRC(tp) {
		return val{bit: -1}
	}

	return val{c: r.alloc(tp), bit: -1}
}

func (r *run) alloc(tp ir.TypeID) *cell {
	c := &cell{id: len(r.cells), typ: tp, rc: 1, tag: -1}
	r.cells = append(r.cells, c)

	return c
}

func (r *run) choose(n int) int {
	if r.at < len(r.choices) {
		k := r.choices[r.at]
		r.limits = append(r.limits, n)
		r.at++

		return k
	}

	r.choices = append(r.choices, 0)
	r.limits = append(r.limits, n)
	r.at++

	return 0
}

func (r *run) errorf(format string, args ...any) {
	r.errs = append(r.errs, fmt.Sprintf(format, args...))
}
