// Package main implements the db-lens CLI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/electwix/db-lens/internal/browser"
	"github.com/electwix/db-lens/internal/catalog"
	"github.com/electwix/db-lens/internal/cli"
	"github.com/electwix/db-lens/internal/config"
	"github.com/electwix/db-lens/internal/logging"
	_ "github.com/electwix/db-lens/internal/source/builtin"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := cli.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprintln(stdout, err.Error())
			return 0
		}
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}

	logger := logging.NewSlogAdapter(logging.New(logging.Options{
		Verbose: opts.Verbose,
		Format:  opts.LogFormat,
		Writer:  stderr,
	}))

	plan, err := loadPlan(opts, logger)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}

	session, err := browser.Open(ctx, plan, browser.Environment{Logger: logger})
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		var connErr *browser.ConnectError
		if errors.As(err, &connErr) {
			return 2
		}
		return 1
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Error("close session", "err", err)
		}
	}()

	if err := execute(ctx, session, plan, opts, stdin, stdout); err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	return 0
}

func loadPlan(opts cli.Options, logger logging.Logger) (config.Plan, error) {
	loadOpts := config.LoadOptions{
		Strict: opts.StrictConfig,
		Overrides: config.Overrides{
			Driver:   opts.Driver,
			DSN:      opts.DSN,
			Schema:   opts.Schema,
			RowLimit: opts.Limit,
		},
	}

	if !opts.ConfigSet {
		if _, err := os.Stat(opts.ConfigPath); errors.Is(err, os.ErrNotExist) {
			logger.Debug("no configuration file, using flags", "path", opts.ConfigPath)
			return config.Resolve(config.Config{}, loadOpts)
		}
	}

	res, err := config.Load(opts.ConfigPath, loadOpts)
	if err != nil {
		return config.Plan{}, err
	}
	for _, warning := range res.Warnings {
		logger.Warn(warning)
	}
	return res.Plan, nil
}

func execute(ctx context.Context, s *browser.Session, plan config.Plan, opts cli.Options, stdin io.Reader, stdout io.Writer) error {
	switch opts.Command {
	case cli.CommandSchemas:
		schemas, err := s.Schemas(ctx)
		if err != nil {
			return err
		}
		return browser.RenderSchemas(stdout, schemas, plan.Schema)

	case cli.CommandShow:
		key, err := catalog.ParseKey(opts.Args[0])
		if err != nil {
			return err
		}
		v, err := s.Show(ctx, key)
		if err != nil {
			return err
		}
		return browser.RenderValue(stdout, v)
	}

	if err := s.Start(ctx); err != nil {
		return err
	}
	if opts.Command == cli.CommandList {
		return browser.RenderList(stdout, s.Navigator())
	}
	return s.Run(ctx, stdin, stdout, browser.REPLOptions{Prompt: true})
}
