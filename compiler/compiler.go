package compiler

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/arc/compiler/borrow"
	"github.com/slowlang/arc/compiler/classify"
	"github.com/slowlang/arc/compiler/config"
	"github.com/slowlang/arc/compiler/dom"
	"github.com/slowlang/arc/compiler/drop"
	"github.com/slowlang/arc/compiler/fbip"
	"github.com/slowlang/arc/compiler/format"
	"github.com/slowlang/arc/compiler/ir"
	"github.com/slowlang/arc/compiler/liveness"
	"github.com/slowlang/arc/compiler/rcelim"
	"github.com/slowlang/arc/compiler/rcinsert"
	"github.com/slowlang/arc/compiler/reuse"
)

type (
	// Env is shared by all functions of a unit. It is read only during optimization.
	Env struct {
		Types      *ir.Types
		Classifier *classify.Classifier
		Sigs       borrow.Sigs
		Config     config.Config
	}

	Result struct {
		Func string

		Captures   int // closure captures left borrowed
		Reused     int
		Eliminated int
		Drops      int // decrements with a finalizer

		Report *fbip.Report
	}

	UnitResult struct {
		Package *ir.Package
		Sigs    borrow.Sigs

		Funcs   []*Result // nil for failed functions
		Reports []fbip.Report
		Drops   []drop.Info

		Failed int
	}

	stats struct {
		funcs      atomic.Int64
		failed     atomic.Int64
		reused     atomic.Int64
		eliminated atomic.Int64
	}
)

// Optimize runs the pipeline over every function of p.
// Parameter ownership of the whole unit is inferred first,
// then functions are optimized in parallel.
// A failed function does not stop the others; all errors are returned combined.
func Optimize(ctx context.Context, p *ir.Package, cfg config.Config) (res *UnitResult, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "optimize", "path", p.Path, "funcs", len(p.Funcs))
	defer tr.Finish("err", &err)

	err = cfg.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "config")
	}

	if p.Types == nil {
		p.Types = ir.NewTypes()
	}

	env := Env{
		Types:      p.Types,
		Classifier: classify.New(p.Types),
		Config:     cfg,
	}

	res = &UnitResult{
		Package: p,
		Funcs:   make([]*Result, len(p.Funcs)),
	}

	errs := make([]error, len(p.Funcs))
	good := &ir.Package{Path: p.Path, Types: p.Types}

	for i, f := range p.Funcs {
		if cfg.Passes.Verify {
			if e := verify(f); e != nil {
				errs[i] = errors.Wrap(e, "func %v: verify input", f.Name)
				continue
			}
		}

		good.Funcs = append(good.Funcs, f)
	}

	err = guard(func() {
		env.Sigs = borrow.InferUnit(ctx, good, env.Classifier)
		env.Sigs.Apply(good)
	})
	if err != nil {
		return nil, errors.Wrap(err, "infer borrows")
	}

	res.Sigs = env.Sigs

	var st stats

	workers := cfg.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	jobs := make(chan int)

	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range jobs {
				f := p.Funcs[i]

				r, e := OptimizeFunc(ctx, f, env)
				if e != nil {
					errs[i] = errors.Wrap(e, "func %v", f.Name)
					st.failed.Inc()

					continue
				}

				res.Funcs[i] = r

				st.funcs.Inc()
				st.reused.Add(int64(r.Reused))
				st.eliminated.Add(int64(r.Eliminated))
			}
		}()
	}

	for i := range p.Funcs {
		if errs[i] != nil {
			st.failed.Inc()
			continue
		}

		tlog.V("jobs_push").Printw("func queued", "func", p.Funcs[i].Name, "from", loc.Caller(0))

		jobs <- i
	}

	close(jobs)
	wg.Wait()

	done := &ir.Package{Path: p.Path, Types: p.Types}

	for i, r := range res.Funcs {
		if r == nil {
			continue
		}

		done.Funcs = append(done.Funcs, p.Funcs[i])

		if r.Report != nil {
			res.Reports = append(res.Reports, *r.Report)
		}
	}

	if cfg.Passes.Drop {
		res.Drops = drop.Table(done, env.Classifier)
	}

	res.Failed = int(st.failed.Load())

	tr.Printw("unit optimized", "funcs", st.funcs.Load(), "failed", res.Failed, "reused", st.reused.Load(), "eliminated", st.eliminated.Load())

	return res, multierr.Combine(errs...)
}

// OptimizeFunc runs the pipeline over one function.
// Invariant violations found on the way are returned as errors
// and leave f in an unspecified state.
func OptimizeFunc(ctx context.Context, f *ir.Func, env Env) (res *Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "optimize func", "func", f.Name)
	defer tr.Finish("err", &err)

	perr := guard(func() {
		res, err = optimizeFunc(ctx, f, env)
	})
	if perr != nil {
		return nil, perr
	}

	return res, err
}

func optimizeFunc(ctx context.Context, f *ir.Func, env Env) (res *Result, err error) {
	tr := tlog.SpanFromContext(ctx)
	cfg := env.Config
	cl := env.Classifier

	if cl == nil {
		cl = classify.New(env.Types)
	}

	res = &Result{Func: f.Name}

	if cfg.Passes.Verify {
		err = ir.Verify(f)
		if err != nil {
			return nil, errors.Wrap(err, "verify input")
		}
	}

	dump(ctx, "dump_ir_before", env.Types, f)

	track := func(v ir.Var) bool { return cl.NeedsRC(f.Type(v)) }

	tags := borrow.Derive(ctx, f, dom.Build(f))

	if cfg.Passes.Captures {
		res.Captures = borrow.Captures(ctx, f, env.Sigs, tags)
	}

	if cfg.Passes.Insert {
		live := liveness.Compute(ctx, f, track)

		err = rcinsert.Insert(ctx, f, borrow.Env{Sigs: env.Sigs, Tags: tags}, live, cl)
		if err != nil {
			return nil, errors.Wrap(err, "insert")
		}

		dump(ctx, "dump_ir_insert", env.Types, f)
	}

	if cfg.Passes.Reuse {
		live := liveness.Compute(ctx, f, track)
		refined := liveness.Refine(ctx, f, live, track)

		det := reuse.Detect(ctx, f, cl, dom.Build(f), dom.BuildPost(f), refined)
		res.Reused = len(det.Pairs)

		if cfg.Passes.FBIP {
			r := fbip.Analyze(f, det)
			res.Report = &r

			tr.V("fbip").Printw("fbip report", "report", r)
		}

		err = reuse.Expand(ctx, f)
		if err != nil {
			return nil, errors.Wrap(err, "expand reuse")
		}
	}

	if cfg.Passes.Elim {
		res.Eliminated, err = rcelim.EliminateRounds(ctx, f, cfg.MaxElimRounds)
		if err != nil {
			return nil, errors.Wrap(err, "eliminate")
		}
	}

	if cfg.Passes.Drop {
		res.Drops = drop.Annotate(ctx, f, cl)
	}

	if cfg.Passes.Verify {
		err = ir.Verify(f)
		if err != nil {
			return nil, errors.Wrap(err, "verify output")
		}
	}

	dump(ctx, "dump_ir_after", env.Types, f)

	return res, nil
}

func verify(f *ir.Func) (err error) {
	perr := guard(func() {
		err = ir.Verify(f)
	})
	if perr != nil {
		return perr
	}

	return err
}

// guard turns panics on malformed IR into errors.
func guard(run func()) (err error) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}

		err = errors.New("invariant: %v", p)

		tlog.Printw("invariant violated", "panic", p, "callers", loc.Callers(2, 8))
	}()

	run()

	return nil
}

func dump(ctx context.Context, topic string, types *ir.Types, f *ir.Func) {
	tr := tlog.SpanFromContext(ctx)
	if !tr.If(topic) {
		return
	}

	b, err := format.Func(ctx, nil, types, f)
	if err != nil {
		tr.Printw("dump ir", "func", f.Name, "err", err)
		return
	}

	tr.Printw("dump ir", "func", f.Name, "stage", topic, "ir", b)
}
