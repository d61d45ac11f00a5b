// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

// Package config holds the small set of options shared by the coordinator
// and client binaries: listen/dial endpoint, log level and debug tracing.
// Each binary's cobra command binds its own flags directly onto a Config
// value; this package only defines the value and its defaults.
package config

import (
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// DefaultListenAddr is the coordinator's default bind address.
const DefaultListenAddr = "127.0.0.1:6000"

// Config is the shared option set.
type Config struct {
	// ListenAddr is the coordinator's bind address (coordinatord), or the
	// address a client dials (client-demo).
	ListenAddr string
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string
	// Debug enables per-request tracing, a gate on top of LogLevel: the
	// trace lines are logged at debug level, so they appear only when
	// LogLevel is also "debug".
	Debug bool
}

// Default returns a Config with the package defaults.
func Default() Config {
	return Config{ListenAddr: DefaultListenAddr, LogLevel: "info"}
}

// Logger builds a go-kit logger writing to the given sink, filtered to
// c.LogLevel.
func (c Config) Logger(w interface {
	Write(p []byte) (int, error)
}) (log.Logger, error) {
	logger := log.NewLogfmtLogger(w)
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	var lvl level.Option
	switch c.LogLevel {
	case "debug":
		lvl = level.AllowDebug()
	case "info", "":
		lvl = level.AllowInfo()
	case "warn":
		lvl = level.AllowWarn()
	case "error":
		lvl = level.AllowError()
	default:
		return nil, fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return level.NewFilter(logger, lvl), nil
}
