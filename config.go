package lucet

import (
	"io"
	"log"

	"github.com/lucet-runtime/lucet/internal/region"
)

// Config builds a Region, following the immutable
// builder-with-clone pattern: every With* method returns a modified copy,
// leaving the receiver untouched.
type Config struct {
	limits region.Limits
	logger *log.Logger
	stdout io.Writer
	stderr io.Writer
}

// discardLogger is shared by every Config that hasn't been given one via
// WithLogger, so constructing a Config never allocates a logger it
// doesn't need.
var discardLogger = log.New(io.Discard, "", 0)

// NewConfig returns a Config seeded with region.DefaultLimits and a
// discarding logger.
func NewConfig() *Config {
	return &Config{
		limits: region.DefaultLimits,
		logger: discardLogger,
	}
}

// clone ensures every field is copied even if nil, so With* methods never
// share state with the receiver.
func (c *Config) clone() *Config {
	cp := *c
	return &cp
}

// WithLimits sets the per-region Limits used by NewRegion.
func (c *Config) WithLimits(l region.Limits) *Config {
	ret := c.clone()
	ret.limits = l
	return ret
}

// WithLogger sets the logger Regions and Instances built from this
// Config use for lifecycle diagnostics: region creation, module load,
// instance create and release. A nil logger discards output.
func (c *Config) WithLogger(l *log.Logger) *Config {
	ret := c.clone()
	if l == nil {
		l = discardLogger
	}
	ret.logger = l
	return ret
}

// WithStdout sets the writer the libc bridge's Puts sink uses for guest
// stdio output. Nil discards.
func (c *Config) WithStdout(w io.Writer) *Config {
	ret := c.clone()
	ret.stdout = w
	return ret
}

// WithStderr sets the writer the libc bridge's Eputs sink uses for guest
// stdio output. Nil discards.
func (c *Config) WithStderr(w io.Writer) *Config {
	ret := c.clone()
	ret.stderr = w
	return ret
}

// Limits returns the configured Limits.
func (c *Config) Limits() region.Limits { return c.limits }
