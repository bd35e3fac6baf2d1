// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the process logger: a log/slog front end writing
// through zerolog.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rs/zerolog"
)

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New returns a logger writing to w. format is "console" for human
// readable output or "json" for one JSON object per line.
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	zerolog.TimeFieldFormat = time.RFC3339
	var out io.Writer
	switch format {
	case "json":
		out = w
	case "console", "":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	zl := zerolog.New(out).Level(toZerologLevel(lvl)).With().Timestamp().Logger()
	return slog.New(NewHandler(&zl)), nil
}

func toZerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// handler is a slog.Handler writing through a zerolog.Logger.
type handler struct {
	logger *zerolog.Logger
	attrs  []slog.Attr
	prefix string // dotted group path, with trailing dot
}

// NewHandler returns a slog.Handler that writes through logger. Levels
// below the logger's level are disabled.
func NewHandler(logger *zerolog.Logger) slog.Handler {
	return &handler{logger: logger}
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return toZerologLevel(level) >= h.logger.GetLevel()
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	e := h.logger.WithLevel(toZerologLevel(r.Level))
	for _, a := range h.attrs {
		e = addAttr(e, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		e = addAttr(e, h.prefix, a)
		return true
	})
	e.Msg(r.Message)
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func addAttr(e *zerolog.Event, prefix string, a slog.Attr) *zerolog.Event {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return e
	}
	key := prefix + a.Key
	v := a.Value
	switch v.Kind() {
	case slog.KindString:
		return e.Str(key, v.String())
	case slog.KindInt64:
		return e.Int64(key, v.Int64())
	case slog.KindUint64:
		return e.Uint64(key, v.Uint64())
	case slog.KindFloat64:
		return e.Float64(key, v.Float64())
	case slog.KindBool:
		return e.Bool(key, v.Bool())
	case slog.KindDuration:
		return e.Dur(key, v.Duration())
	case slog.KindTime:
		return e.Time(key, v.Time())
	case slog.KindGroup:
		groupPrefix := prefix
		if a.Key != "" {
			groupPrefix = key + "."
		}
		for _, ga := range v.Group() {
			e = addAttr(e, groupPrefix, ga)
		}
		return e
	}
	if err, ok := v.Any().(error); ok {
		return e.AnErr(key, err)
	}
	return e.Interface(key, v.Any())
}
