// Package config loads and validates the db-lens configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/electwix/db-lens/internal/catalog"
	"github.com/electwix/db-lens/internal/source"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "db-lens.toml"

// Driver identifies the database a connection targets. Any dialect registered
// with the source package is accepted.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverSQLite   Driver = "sqlite"
)

// Defaults applied to zero values.
const (
	DefaultTTL           = 5 * time.Minute
	DefaultWorkers       = 2
	DefaultQueueCapacity = 16
	DefaultDepth         = 3
	DefaultBurst         = 1
	DefaultRowLimit      = 50
	DefaultQueryTimeout  = 30 * time.Second

	maxRowLimit = 10000
)

// Duration is a time.Duration written as a string such as "90s" or "5m".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string", node.Line)
	}
	if err := d.UnmarshalText([]byte(node.Value)); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}

// ConnectionConfig is the [connection] table.
type ConnectionConfig struct {
	Driver Driver `toml:"driver" yaml:"driver"`
	DSN    string `toml:"dsn" yaml:"dsn"`
	Schema string `toml:"schema" yaml:"schema"`
}

// CacheConfig is the [cache] table.
type CacheConfig struct {
	TTL           Duration            `toml:"ttl" yaml:"ttl"`
	SweepInterval Duration            `toml:"sweep_interval" yaml:"sweep_interval"`
	TTLBySelector map[string]Duration `toml:"ttl_by_selector" yaml:"ttl_by_selector"`
}

// PrefetchConfig is the [prefetch] table.
type PrefetchConfig struct {
	Workers       int     `toml:"workers" yaml:"workers"`
	QueueCapacity int     `toml:"queue_capacity" yaml:"queue_capacity"`
	Depth         int     `toml:"depth" yaml:"depth"`
	Rate          float64 `toml:"rate" yaml:"rate"`
	Burst         int     `toml:"burst" yaml:"burst"`
}

// BrowserConfig is the [browser] table.
type BrowserConfig struct {
	RowLimit     int      `toml:"row_limit" yaml:"row_limit"`
	QueryTimeout Duration `toml:"query_timeout" yaml:"query_timeout"`
	Kinds        []string `toml:"kinds" yaml:"kinds"`
}

// Config mirrors the db-lens file schema.
type Config struct {
	Connection ConnectionConfig `toml:"connection" yaml:"connection"`
	Cache      CacheConfig      `toml:"cache" yaml:"cache"`
	Prefetch   PrefetchConfig   `toml:"prefetch" yaml:"prefetch"`
	Browser    BrowserConfig    `toml:"browser" yaml:"browser"`
}

// Plan is the fully-resolved configuration used by the session.
type Plan struct {
	Driver Driver
	DSN    string
	Schema string

	TTL           time.Duration
	TTLBySelector map[catalog.Selector]time.Duration
	SweepInterval time.Duration

	PrefetchWorkers int
	QueueCapacity   int
	PrefetchDepth   int
	PrefetchRate    float64
	PrefetchBurst   int

	RowLimit     int
	QueryTimeout time.Duration
	Kinds        []catalog.Kind
}

// LoadOptions tunes config loading behavior.
type LoadOptions struct {
	Strict bool
	// Getenv expands ${VAR} references in the DSN. Defaults to os.Getenv.
	Getenv func(string) string
	// Overrides replace file values, typically from command-line flags.
	Overrides Overrides
}

// Overrides replace configuration values. Zero fields are ignored.
type Overrides struct {
	Driver   string
	DSN      string
	Schema   string
	RowLimit int
}

func (o Overrides) apply(cfg *Config) {
	if o.Driver != "" {
		cfg.Connection.Driver = Driver(o.Driver)
	}
	if o.DSN != "" {
		cfg.Connection.DSN = o.DSN
	}
	if o.Schema != "" {
		cfg.Connection.Schema = o.Schema
	}
	if o.RowLimit != 0 {
		cfg.Browser.RowLimit = o.RowLimit
	}
}

// Result wraps a loaded plan alongside any non-fatal warnings.
type Result struct {
	Plan     Plan
	Warnings []string
}

// ValidationError reports an invalid configuration value.
type ValidationError struct {
	Path    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Path, e.Field, e.Message)
}

var envRefRE = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

var knownKeys = map[string][]string{
	"connection": {"driver", "dsn", "schema"},
	"cache":      {"ttl", "sweep_interval", "ttl_by_selector"},
	"prefetch":   {"workers", "queue_capacity", "depth", "rate", "burst"},
	"browser":    {"row_limit", "query_timeout", "kinds"},
}

// Load reads, validates, and resolves a db-lens configuration file. Files
// ending in .yaml or .yml are read as YAML, anything else as TOML.
func Load(path string, opts LoadOptions) (Result, error) {
	var res Result

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}

	var (
		cfg Config
		raw map[string]any
	)
	if isYAML(path) {
		err = decodeYAML(data, &cfg, &raw)
	} else {
		err = decodeTOML(data, &cfg, &raw)
	}
	if err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}

	if unknown := collectUnknownKeys(raw); len(unknown) > 0 {
		message := fmt.Sprintf("%s: unknown configuration keys: %s", path, strings.Join(unknown, ", "))
		if opts.Strict {
			return res, errors.New(message)
		}
		res.Warnings = append(res.Warnings, message)
	}

	if strings.EqualFold(string(cfg.Connection.Driver), string(DriverSQLite)) {
		cfg.Connection.DSN = resolveSQLitePath(path, cfg.Connection.DSN)
	}

	plan, err := Resolve(cfg, opts)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Path = path
		}
		return res, err
	}
	res.Plan = plan
	return res, nil
}

// Resolve applies overrides to cfg, validates it and fills defaults. It is
// used directly when no file is loaded.
func Resolve(cfg Config, opts LoadOptions) (Plan, error) {
	opts.Overrides.apply(&cfg)
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	driver, err := resolveDriver(cfg.Connection.Driver)
	if err != nil {
		return Plan{}, err
	}
	dsn := strings.TrimSpace(expandEnv(cfg.Connection.DSN, getenv))
	if dsn == "" {
		return Plan{}, invalid("connection.dsn", "is required")
	}

	plan := Plan{
		Driver:        driver,
		DSN:           dsn,
		Schema:        catalog.NormalizeName(cfg.Connection.Schema),
		PrefetchRate:  cfg.Prefetch.Rate,
		SweepInterval: time.Duration(cfg.Cache.SweepInterval),
	}
	if plan.Schema != "" {
		if err := catalog.ValidateIdentifier(plan.Schema); err != nil {
			return Plan{}, invalid("connection.schema", err.Error())
		}
	}

	if plan.TTL, err = positiveDuration("cache.ttl", cfg.Cache.TTL, DefaultTTL); err != nil {
		return Plan{}, err
	}
	if plan.SweepInterval < 0 {
		return Plan{}, invalid("cache.sweep_interval", "must not be negative")
	}
	if plan.TTLBySelector, err = resolveSelectorTTLs(cfg.Cache.TTLBySelector); err != nil {
		return Plan{}, err
	}

	if plan.PrefetchWorkers, err = positiveInt("prefetch.workers", cfg.Prefetch.Workers, DefaultWorkers); err != nil {
		return Plan{}, err
	}
	if plan.QueueCapacity, err = positiveInt("prefetch.queue_capacity", cfg.Prefetch.QueueCapacity, DefaultQueueCapacity); err != nil {
		return Plan{}, err
	}
	if plan.PrefetchDepth, err = positiveInt("prefetch.depth", cfg.Prefetch.Depth, DefaultDepth); err != nil {
		return Plan{}, err
	}
	if plan.PrefetchBurst, err = positiveInt("prefetch.burst", cfg.Prefetch.Burst, DefaultBurst); err != nil {
		return Plan{}, err
	}
	if plan.PrefetchRate < 0 {
		return Plan{}, invalid("prefetch.rate", "must not be negative")
	}

	if plan.RowLimit, err = positiveInt("browser.row_limit", cfg.Browser.RowLimit, DefaultRowLimit); err != nil {
		return Plan{}, err
	}
	if plan.RowLimit > maxRowLimit {
		return Plan{}, invalid("browser.row_limit", fmt.Sprintf("must be at most %d", maxRowLimit))
	}
	if plan.QueryTimeout, err = positiveDuration("browser.query_timeout", cfg.Browser.QueryTimeout, DefaultQueryTimeout); err != nil {
		return Plan{}, err
	}
	if plan.Kinds, err = resolveKinds(cfg.Browser.Kinds); err != nil {
		return Plan{}, err
	}

	return plan, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decodeTOML(data []byte, cfg *Config, raw *map[string]any) error {
	if err := toml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return toml.Unmarshal(data, raw)
}

func decodeYAML(data []byte, cfg *Config, raw *map[string]any) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return yaml.Unmarshal(data, raw)
}

// collectUnknownKeys returns sorted dotted paths of keys outside the schema.
func collectUnknownKeys(raw map[string]any) []string {
	unknown := make([]string, 0)
	for section, value := range raw {
		known, ok := knownKeys[section]
		if !ok {
			unknown = append(unknown, section)
			continue
		}
		record, ok := value.(map[string]any)
		if !ok {
			continue
		}
		for key := range record {
			if !slices.Contains(known, key) {
				unknown = append(unknown, section+"."+key)
			}
		}
	}
	slices.Sort(unknown)
	return unknown
}

// resolveSQLitePath anchors a relative database path at the config directory.
func resolveSQLitePath(configPath, dsn string) string {
	if dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") || envRefRE.MatchString(dsn) {
		return dsn
	}
	if filepath.IsAbs(dsn) {
		return dsn
	}
	return filepath.Join(filepath.Dir(configPath), filepath.Clean(dsn))
}

// expandEnv replaces ${VAR} references. A bare $ is left alone so passwords
// survive unchanged.
func expandEnv(s string, getenv func(string) string) string {
	return envRefRE.ReplaceAllStringFunc(s, func(ref string) string {
		return getenv(ref[2 : len(ref)-1])
	})
}

func resolveDriver(driver Driver) (Driver, error) {
	driver = Driver(strings.ToLower(strings.TrimSpace(string(driver))))
	if driver == "" {
		return "", invalid("connection.driver", "is required")
	}
	if !source.IsDialectSupported(string(driver)) {
		return "", invalid("connection.driver", fmt.Sprintf("unsupported driver %q (registered: %s)",
			driver, strings.Join(source.ListRegistered(), ", ")))
	}
	if driver == "postgresql" {
		driver = DriverPostgres
	}
	return driver, nil
}

func resolveSelectorTTLs(in map[string]Duration) (map[catalog.Selector]time.Duration, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[catalog.Selector]time.Duration, len(in))
	for name, ttl := range in {
		sel := catalog.Selector(strings.ToLower(strings.TrimSpace(name)))
		if !knownSelector(sel) {
			return nil, invalid("cache.ttl_by_selector", fmt.Sprintf("unknown selector %q", name))
		}
		if ttl <= 0 {
			return nil, invalid("cache.ttl_by_selector."+string(sel), "must be positive")
		}
		out[sel] = time.Duration(ttl)
	}
	return out, nil
}

func knownSelector(sel catalog.Selector) bool {
	switch sel {
	case catalog.SelectorStructure, catalog.SelectorSampleData, catalog.SelectorSource,
		catalog.SelectorObjects, catalog.SelectorSchemas:
		return true
	}
	return false
}

func resolveKinds(names []string) ([]catalog.Kind, error) {
	if len(names) == 0 {
		return slices.Clone(catalog.ObjectKinds), nil
	}
	kinds := make([]catalog.Kind, 0, len(names))
	for _, name := range names {
		kind := catalog.NormalizeKind(catalog.Kind(name))
		if !slices.Contains(catalog.ObjectKinds, kind) {
			return nil, invalid("browser.kinds", fmt.Sprintf("unknown object kind %q", name))
		}
		if !slices.Contains(kinds, kind) {
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}

func positiveInt(field string, v, def int) (int, error) {
	switch {
	case v < 0:
		return 0, invalid(field, "must not be negative")
	case v == 0:
		return def, nil
	}
	return v, nil
}

func positiveDuration(field string, d Duration, def time.Duration) (time.Duration, error) {
	switch {
	case d < 0:
		return 0, invalid(field, "must not be negative")
	case d == 0:
		return def, nil
	}
	return time.Duration(d), nil
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
