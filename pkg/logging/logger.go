// Package logging sets up the zerolog logger shared by every console-store
// component. Components derive a child logger tagged with their name through
// NewLogger, or accept one through their Config.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a textual minimum level, as written in config files and flags.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

var zerologLevels = map[LogLevel]zerolog.Level{
	LevelDebug: zerolog.DebugLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelError: zerolog.ErrorLevel,
}

// Config selects level and output format of the global logger.
type Config struct {
	Level LogLevel

	// Pretty writes colored console lines instead of JSON.
	Pretty bool

	// Output receives the log lines (default os.Stderr).
	Output io.Writer
}

// DefaultConfig logs JSON at info level to stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// Setup installs a timestamped logger built from cfg as the global logger
// and returns it. The level applies to every logger, including the ones
// components derived earlier.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(cfg.Level.zerologLevel())

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return log.Logger
}

// zerologLevel maps l to its zerolog level. Unknown levels log at info.
func (l LogLevel) zerologLevel() zerolog.Level {
	l = LogLevel(strings.ToLower(string(l)))
	if l == "warning" {
		l = LevelWarn
	}
	if lvl, ok := zerologLevels[l]; ok {
		return lvl
	}
	return zerolog.InfoLevel
}

// NewLogger returns a child of the global logger with the component field set.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ParseLevel validates a level read from a flag or config file. Case and
// surrounding space are ignored; empty means info.
func ParseLevel(s string) (LogLevel, error) {
	l := LogLevel(strings.ToLower(strings.TrimSpace(s)))
	switch {
	case l == "":
		return LevelInfo, nil
	case l == "warning":
		return LevelWarn, nil
	}
	if _, ok := zerologLevels[l]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// Which level to use:
//
//	debug  coalesced requests, page cache hits, discarded stale pages,
//	       HTTP cache hits and revalidations, applied store commands
//	info   monitors connecting and disconnecting, section resets,
//	       rate limit updates, server start and stop
//	warn   failed fetches kept as request state, truncated pages,
//	       schema mismatches, retries, throttling, cache fallbacks
//	error  exhausted retries, rate limit blocks, bad configuration
//
// Field names shared across packages: component, entity_type, fingerprint,
// list_key, page, status_code, error_class, request_id.
