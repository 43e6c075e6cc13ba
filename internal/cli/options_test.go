package cli

import (
	"errors"
	"flag"
	"strings"
	"testing"

	"github.com/electwix/db-lens/internal/logging"
	_ "github.com/electwix/db-lens/internal/source/builtin"
)

func TestParseDefaults(t *testing.T) {
	opts, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if opts.ConfigPath != "db-lens.toml" {
		t.Fatalf("ConfigPath = %q, want %q", opts.ConfigPath, "db-lens.toml")
	}
	if opts.ConfigSet {
		t.Fatalf("ConfigSet = true, want false")
	}
	if opts.Driver != "" || opts.DSN != "" || opts.Schema != "" {
		t.Fatalf("connection overrides = %q %q %q, want empty", opts.Driver, opts.DSN, opts.Schema)
	}
	if opts.Limit != 0 {
		t.Fatalf("Limit = %d, want 0", opts.Limit)
	}
	if opts.StrictConfig {
		t.Fatalf("StrictConfig = true, want false")
	}
	if opts.Verbose {
		t.Fatalf("Verbose = true, want false")
	}
	if opts.LogFormat != logging.FormatText {
		t.Fatalf("LogFormat = %q, want text", opts.LogFormat)
	}
	if opts.Command != CommandBrowse {
		t.Fatalf("Command = %q, want %q", opts.Command, CommandBrowse)
	}
	if len(opts.Args) != 0 {
		t.Fatalf("Args = %v, want empty slice", opts.Args)
	}
}

func TestParseOverrides(t *testing.T) {
	args := []string{
		"--config", "lens.yaml",
		"--driver", "sqlite",
		"--dsn", "hr.db",
		"--schema", "hr",
		"--limit", "10",
		"--strict-config",
		"--log-format", "json",
		"-v",
		"show", "TABLE:HR.EMPLOYEES",
	}

	opts, err := Parse(args)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if got, want := opts.ConfigPath, "lens.yaml"; got != want {
		t.Fatalf("ConfigPath = %q, want %q", got, want)
	}
	if !opts.ConfigSet {
		t.Fatalf("ConfigSet = false, want true")
	}
	if opts.Driver != "sqlite" || opts.DSN != "hr.db" || opts.Schema != "hr" {
		t.Fatalf("connection overrides = %q %q %q", opts.Driver, opts.DSN, opts.Schema)
	}
	if opts.Limit != 10 {
		t.Fatalf("Limit = %d, want 10", opts.Limit)
	}
	if !opts.StrictConfig {
		t.Fatalf("StrictConfig = false, want true")
	}
	if !opts.Verbose {
		t.Fatalf("Verbose = false, want true")
	}
	if opts.LogFormat != logging.FormatJSON {
		t.Fatalf("LogFormat = %q, want json", opts.LogFormat)
	}
	if opts.Command != CommandShow {
		t.Fatalf("Command = %q, want show", opts.Command)
	}
	if len(opts.Args) != 1 || opts.Args[0] != "TABLE:HR.EMPLOYEES" {
		t.Fatalf("Args = %v, want [TABLE:HR.EMPLOYEES]", opts.Args)
	}
}

func TestParseInvalid(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown flag", args: []string{"--unknown"}, want: "Usage of db-lens"},
		{name: "unknown command", args: []string{"drop"}, want: "unknown command"},
		{name: "show without key", args: []string{"show"}, want: "exactly one key"},
		{name: "bad log format", args: []string{"--log-format", "xml"}, want: "Usage of db-lens"},
		{name: "negative limit", args: []string{"--limit", "-1"}, want: "limit must not be negative"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.args)
			if err == nil {
				t.Fatalf("Parse(%v) expected error", tc.args)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %q, want substring %q", err.Error(), tc.want)
			}
			if errors.Is(err, flag.ErrHelp) {
				t.Fatalf("error unexpectedly wraps flag.ErrHelp")
			}
		})
	}
}

func TestParseHelp(t *testing.T) {
	_, err := Parse([]string{"-h"})
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("error = %v, want flag.ErrHelp", err)
	}
}

func TestUsage(t *testing.T) {
	fs := flag.NewFlagSet("db-lens", flag.ContinueOnError)
	fs.String("flag", "value", "test flag")

	usage := Usage(fs)
	if !strings.Contains(usage, "Usage of db-lens:") {
		t.Fatalf("usage missing header: %q", usage)
	}
	if !strings.Contains(usage, "-flag") {
		t.Fatalf("usage missing flag definition: %q", usage)
	}
}

func TestHelpListsRegisteredDrivers(t *testing.T) {
	_, err := Parse([]string{"-h"})
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("expected flag.ErrHelp, got %v", err)
	}
	if !strings.Contains(err.Error(), "Override the connection driver (mysql, postgres, postgresql, sqlite)") {
		t.Fatalf("help does not list registered drivers: %q", err.Error())
	}
}
