package main

import (
	"context"
	"os"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/arc/compiler"
	"github.com/slowlang/arc/compiler/config"
	"github.com/slowlang/arc/compiler/fbip"
	"github.com/slowlang/arc/compiler/format"
	"github.com/slowlang/arc/compiler/ir"
)

func main() {
	runCmd := &cli.Command{
		Name:        "run",
		Description: "optimize IR units and write the result",
		Action:      runAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("output,o", "-", "output file"),
			cli.NewFlag("text", false, "write IR as text instead of json"),
			cli.NewFlag("report", "", "write fbip report to the file"),
		},
	}

	reportCmd := &cli.Command{
		Name:        "report",
		Description: "optimize IR units and print fbip reports only",
		Action:      reportAct,
		Args:        cli.Args{},
	}

	configCmd := &cli.Command{
		Name:        "config",
		Description: "print effective config",
		Action:      configAct,
	}

	app := &cli.Command{
		Name:        "arcopt",
		Description: "arcopt inserts and optimizes reference counting of IR units",
		Before:      before,
		Flags: []*cli.Flag{
			cli.NewFlag("config,c", "", "config file (toml)"),
			cli.NewFlag("workers,j", -1, "functions optimized in parallel (0 for one per cpu, -1 to keep config value)"),
			cli.NewFlag("verbosity,v", "", "logger verbosity topics"),
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			runCmd,
			reportCmd,
			configCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	tlog.DefaultLogger = tlog.New(tlog.NewConsoleWriter(os.Stderr, tlog.LstdFlags))

	tlog.SetVerbosity(c.String("verbosity"))

	return nil
}

func loadConfig(c *cli.Command) (cfg config.Config, err error) {
	cfg = config.Default()

	if q := c.String("config"); q != "" {
		cfg, err = config.Load(q)
		if err != nil {
			return cfg, err
		}
	}

	if w := c.Int("workers"); w >= 0 {
		cfg.Workers = w
	}

	return cfg, cfg.Validate()
}

func optimize(ctx context.Context, c *cli.Command, name string) (res *compiler.UnitResult, err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, errors.Wrap(err, "config")
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read unit")
	}

	p, err := ir.DecodePackage(data)
	if err != nil {
		return nil, err
	}

	if p.Path == "" {
		p.Path = name
	}

	tlog.SpanFromContext(ctx).Printw("read unit", "name", name, "size", len(data), "funcs", len(p.Funcs))

	return compiler.Optimize(ctx, p, cfg)
}

func runAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	var reports []fbip.Report
	var out []byte

	for _, a := range c.Args {
		res, err := optimize(ctx, c, a)
		if err != nil {
			return errors.Wrap(err, "optimize %v", a)
		}

		reports = append(reports, res.Reports...)

		if c.Bool("text") {
			out, err = format.Package(ctx, out, res.Package)
		} else {
			var data []byte

			data, err = ir.EncodePackage(res.Package)
			out = append(out, data...)
			out = append(out, '\n')
		}
		if err != nil {
			return errors.Wrap(err, "format %v", a)
		}
	}

	err = write(c.String("output"), out)
	if err != nil {
		return err
	}

	if q := c.String("report"); q != "" {
		return writeReport(q, reports)
	}

	return nil
}

func writeReport(name string, reports []fbip.Report) (err error) {
	f, err := os.Create(name)
	if err != nil {
		return errors.Wrap(err, "create report")
	}

	defer func() {
		e := f.Close()
		if err == nil && e != nil {
			err = errors.Wrap(e, "close report")
		}
	}()

	return fbip.Encode(f, reports)
}

func reportAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	var reports []fbip.Report

	for _, a := range c.Args {
		res, err := optimize(ctx, c, a)
		if err != nil {
			return errors.Wrap(err, "optimize %v", a)
		}

		reports = append(reports, res.Reports...)
	}

	return fbip.Encode(os.Stdout, reports)
}

func configAct(c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	data, err := cfg.Encode()
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(data)

	return err
}

func write(name string, data []byte) error {
	if name == "" || name == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}

	err := os.WriteFile(name, data, 0o644)
	if err != nil {
		return errors.Wrap(err, "write output")
	}

	return nil
}
