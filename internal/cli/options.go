package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/electwix/db-lens/internal/logging"
	"github.com/electwix/db-lens/internal/source"
)

// Commands understood by db-lens. Browse is the default.
const (
	CommandSchemas = "schemas"
	CommandList    = "list"
	CommandShow    = "show"
	CommandBrowse  = "browse"
)

var commands = []string{CommandSchemas, CommandList, CommandShow, CommandBrowse}

type Options struct {
	ConfigPath string
	// ConfigSet reports whether -config was given explicitly.
	ConfigSet    bool
	Driver       string
	DSN          string
	Schema       string
	Limit        int
	StrictConfig bool
	Verbose      bool
	LogFormat    logging.Format
	Command      string
	Args         []string
}

func Parse(args []string) (Options, error) {
	const defaultConfig = "db-lens.toml"

	opts := Options{
		ConfigPath: defaultConfig,
	}
	var logFormat string

	fs := flag.NewFlagSet("db-lens", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&opts.ConfigPath, "config", opts.ConfigPath, "Path to configuration file (.toml, .yaml)")
	fs.StringVar(&opts.ConfigPath, "c", opts.ConfigPath, "Path to configuration file (.toml, .yaml)")
	fs.StringVar(&opts.Driver, "driver", "", driverUsage())
	fs.StringVar(&opts.DSN, "dsn", "", "Override the connection DSN")
	fs.StringVar(&opts.Schema, "schema", "", "Schema to browse; defaults to the configured or first schema")
	fs.IntVar(&opts.Limit, "limit", 0, "Override the sample row limit")
	fs.BoolVar(&opts.StrictConfig, "strict-config", false, "Treat configuration warnings as errors")
	fs.BoolVar(&opts.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&opts.Verbose, "v", false, "Enable verbose logging")
	fs.StringVar(&logFormat, "log-format", string(logging.FormatText), "Log format (text, json)")

	if err := fs.Parse(args); err != nil {
		usage := Usage(fs)
		if errors.Is(err, flag.ErrHelp) {
			return Options{}, fmt.Errorf("%w\n\n%s", err, usage)
		}
		return Options{}, fmt.Errorf("%w\n\n%s", err, usage)
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" || f.Name == "c" {
			opts.ConfigSet = true
		}
	})

	format, err := logging.ParseFormat(logFormat)
	if err != nil {
		return Options{}, fmt.Errorf("%w\n\n%s", err, Usage(fs))
	}
	opts.LogFormat = format

	if opts.Limit < 0 {
		return Options{}, fmt.Errorf("limit must not be negative\n\n%s", Usage(fs))
	}

	rest := fs.Args()
	opts.Command = CommandBrowse
	if len(rest) > 0 {
		opts.Command = strings.ToLower(rest[0])
		rest = rest[1:]
	}
	if !slices.Contains(commands, opts.Command) {
		return Options{}, fmt.Errorf("unknown command %q (want one of %s)\n\n%s",
			opts.Command, strings.Join(commands, ", "), Usage(fs))
	}
	if opts.Command == CommandShow && len(rest) != 1 {
		return Options{}, fmt.Errorf("show takes exactly one key, e.g. TABLE:HR.EMPLOYEES:structure\n\n%s", Usage(fs))
	}
	opts.Args = rest
	return opts, nil
}

func driverUsage() string {
	dialects := source.ListRegistered()
	if len(dialects) == 0 {
		return "Override the connection driver"
	}
	return fmt.Sprintf("Override the connection driver (%s)", strings.Join(dialects, ", "))
}

func Usage(fs *flag.FlagSet) string {
	if fs == nil {
		return ""
	}
	var buf strings.Builder
	fmt.Fprintf(&buf, "Usage of %s: %s [flags] [%s]\n", fs.Name(), fs.Name(), strings.Join(commands, "|"))
	out := fs.Output()
	fs.SetOutput(&buf)
	fs.PrintDefaults()
	fs.SetOutput(out)
	return buf.String()
}
