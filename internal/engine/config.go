package engine

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/sqlidb/internal/sca"
)

// DefaultPrefetchSize is the number of rows a cursor fetches per SQL
// statement when no larger advance count is requested.
const DefaultPrefetchSize = 100

// Config is the explicit configuration threaded through a Factory and
// every Database and Transaction it creates. There is no process-wide
// configuration.
type Config struct {
	// DataDir holds __sysdb__.sqlite and one D_<name>.sqlite per database.
	DataDir string

	// InMemory keeps every database in shared in-memory SQLite databases
	// that live as long as the Factory.
	InMemory bool

	// PrefetchSize is the cursor page size. Values < 1 use the default.
	PrefetchSize int

	// Debug logs every SQL statement at debug level.
	Debug bool

	// Logger receives engine logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Serializer encodes stored values. Defaults to sca.Msgpack.
	Serializer sca.Serializer

	// Registerer receives the engine's Prometheus collectors.
	// Defaults to a private registry.
	Registerer prometheus.Registerer

	// IDGenerator names transactions. Defaults to UUIDv7Generator.
	IDGenerator IDGenerator
}

// Option allows configuration of factory parameters.
type Option func(*Config)

// WithDataDir sets the directory holding database files.
func WithDataDir(dir string) Option {
	return func(c *Config) {
		c.DataDir = dir
	}
}

// WithInMemory keeps all databases in memory.
func WithInMemory() Option {
	return func(c *Config) {
		c.InMemory = true
	}
}

// WithPrefetchSize sets the cursor page size.
//
// Default: 100 rows (DefaultPrefetchSize)
// Use WithPrefetchSize(1) to force one SQL statement per cursor step.
func WithPrefetchSize(n int) Option {
	return func(c *Config) {
		c.PrefetchSize = n
	}
}

// WithDebug enables SQL statement logging.
func WithDebug(debug bool) Option {
	return func(c *Config) {
		c.Debug = debug
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithSerializer replaces the value serializer.
func WithSerializer(s sca.Serializer) Option {
	return func(c *Config) {
		c.Serializer = s
	}
}

// WithRegisterer registers metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registerer = reg
	}
}

// WithIDGenerator sets the transaction id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Config) {
		c.IDGenerator = g
	}
}

// NewConfig applies opts over the defaults.
func NewConfig(opts ...Option) Config {
	c := Config{
		DataDir:      ".",
		PrefetchSize: DefaultPrefetchSize,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.PrefetchSize < 1 {
		c.PrefetchSize = DefaultPrefetchSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Serializer == nil {
		c.Serializer = sca.Msgpack{}
	}
	if c.IDGenerator == nil {
		c.IDGenerator = UUIDv7Generator{}
	}
	return c
}
