// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package logger provides the leveled, structured logger shared by every component.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Logger is the process-wide logger. Components derive prefixed loggers from it.
var Logger *log.Logger

var output io.Writer = os.Stderr

func init() {
	Logger = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
	})
	Logger.SetLevel(log.InfoLevel)
}

// Configure sets the level and destination of the global logger.
// An empty level falls back to CDET_LOG_LEVEL, then to info.
// A non-empty logFile is opened for append and replaces stderr.
func Configure(level string, logFile string) error {
	if level == "" {
		level = os.Getenv("CDET_LOG_LEVEL")
	}

	output = os.Stderr
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return err
		}
		output = file
	}

	Logger = log.NewWithOptions(output, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
	})
	Logger.SetLevel(ParseLevel(level))
	return nil
}

// ParseLevel maps a level name to a log.Level. Unknown names map to info.
func ParseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// New returns a component logger writing to the global destination with prefix.
func New(prefix string) *log.Logger {
	l := log.NewWithOptions(output, log.Options{
		Prefix:          prefix,
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
	})
	l.SetLevel(Logger.GetLevel())
	return l
}

// Discard returns a logger that drops everything. Used by tests and dry tools.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
