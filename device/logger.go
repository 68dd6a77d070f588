/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"fmt"
	"log/slog"
)

// LogLevel selects which of the two levels the core logs at. There is
// no separate "info" level: everything the core itself would want to
// tell an operator about is either routine (Verbose) or a problem
// (Error).
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelVerbose
)

// Logger is the small facade every device/peer/handshake call site
// logs through. It is kept deliberately narrow - two methods,
// matching printf-style call sites throughout the core - so that the
// pipeline's log statements never have to reason about an slog
// handler directly. Internally each call becomes one structured
// slog record carrying the formatted message as "msg" plus whatever
// fields were bound with With.
type Logger struct {
	level  LogLevel
	slog   *slog.Logger
	fields []any
}

// NewLogger returns the two-method facade the core expects at the given
// level, backed by slog's default logger. A non-empty prepend is
// attached to every record as a "component" attribute.
func NewLogger(level LogLevel, prepend string) *Logger {
	l := slog.Default()
	if prepend != "" {
		l = l.With(slog.String("component", prepend))
	}
	return &Logger{level: level, slog: l}
}

// With returns a Logger that attaches the given structured fields
// (peer, direction, message type, ...) to every subsequent record.
func (l *Logger) With(args ...any) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{level: l.level, slog: l.slog.With(args...), fields: append(append([]any{}, l.fields...), args...)}
}

func (l *Logger) Verbosef(format string, args ...any) {
	if l == nil || l.level < LogLevelVerbose {
		return
	}
	l.slog.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil || l.level < LogLevelError {
		return
	}
	l.slog.Error(fmt.Sprintf(format, args...))
}
