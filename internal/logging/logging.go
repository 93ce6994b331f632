// Package logging builds the process logger.
package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// Options selects the logger's level, format and destination.
type Options struct {
	Level  string // trace, debug, info, warn or error
	Format string // text or json
	Output io.Writer
}

// New returns the root logger named "emberdb". Components derive their own
// loggers from it with Named.
func New(opts Options) hclog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "emberdb",
		Level:      level,
		Output:     out,
		JSONFormat: opts.Format == "json",
	})
}

// Discard returns a logger that drops everything. Tests use it.
func Discard() hclog.Logger {
	return hclog.NewNullLogger()
}
