// Package logging builds the structured loggers shared by the registry, the
// store and the command-line tools.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// New creates a logger writing to w at the given level. prefix tags every
// line with the emitting component.
func New(w io.Writer, level log.Level, prefix string) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           level,
		Prefix:          prefix,
	})
}

// Default returns an info-level stderr logger tagged with prefix.
func Default(prefix string) *log.Logger {
	return New(os.Stderr, log.InfoLevel, prefix)
}

// Discard returns a logger that drops everything. Used by tests and as the
// fallback when a component is built without one.
func Discard() *log.Logger {
	return New(io.Discard, log.FatalLevel, "")
}

// ParseLevel maps debug, info, warn and error to a log level. An empty
// string means info.
func ParseLevel(s string) (log.Level, error) {
	if strings.TrimSpace(s) == "" {
		return log.InfoLevel, nil
	}
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return log.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// Component derives a child logger for a named component.
func Component(parent *log.Logger, name string) *log.Logger {
	if parent == nil {
		return Default(name)
	}
	return parent.WithPrefix(name)
}
