// Package logger is the service-wide structured logger. Request and job
// scoped fields travel in the context and are attached to every entry
// written with that context.
package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noretmy/escrow-backend/pkg/env"
)

type Options struct {
	ServiceName string
	Level       zerolog.Level
	// WarnStack adds a stack trace to warnings as well as errors.
	WarnStack bool
	// Output defaults to stdout. LOG_FORMAT=console switches to human output.
	Output io.Writer
}

type Logger struct {
	zl        zerolog.Logger
	warnStack bool
}

func New(opts Options) *Logger {
	level := opts.Level
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if env.Get("LOG_FORMAT", "json") == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly, NoColor: env.Bool("LOG_NO_COLOR", false)}
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	return &Logger{
		zl:        zerolog.New(out).Level(level).With().Timestamp().Str("service", opts.ServiceName).Logger(),
		warnStack: opts.WarnStack,
	}
}

// ParseLevel maps a config string to a level, defaulting to info.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// field is one context-scoped key/value. Fields form a chain from the newest
// back to the first one attached, so deriving a context never copies.
type field struct {
	key    string
	value  any
	parent *field
}

type fieldsKey struct{}

func fieldsFrom(ctx context.Context) *field {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(fieldsKey{}).(*field)
	return f
}

// WithField returns ctx carrying key=value; a later value for the same key wins.
func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, fieldsKey{}, &field{key: key, value: value, parent: fieldsFrom(ctx)})
}

func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	for k, v := range fields {
		ctx = l.WithField(ctx, k, v)
	}
	return ctx
}

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.WithField(ctx, "request_id", requestID)
}

func (l *Logger) WithOrderID(ctx context.Context, orderID string) context.Context {
	return l.WithField(ctx, "order_id", orderID)
}

func (l *Logger) WithEventID(ctx context.Context, eventID string) context.Context {
	return l.WithField(ctx, "event_id", eventID)
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	l.emit(ctx, l.zl.Debug(), false).Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.emit(ctx, l.zl.Info(), false).Msg(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	l.emit(ctx, l.zl.Warn(), l.warnStack).Msg(msg)
}

// Error always records a stack trace; err may be nil.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	ev := l.emit(ctx, l.zl.Error(), true)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(msg)
}

// emit attaches the context fields to ev. Disabled levels return the nil
// event zerolog hands out, which ignores everything.
func (l *Logger) emit(ctx context.Context, ev *zerolog.Event, stack bool) *zerolog.Event {
	if ev == nil {
		return ev
	}
	seen := map[string]struct{}{}
	for f := fieldsFrom(ctx); f != nil; f = f.parent {
		if _, dup := seen[f.key]; dup {
			continue
		}
		seen[f.key] = struct{}{}
		ev = ev.Interface(f.key, f.value)
	}
	if stack {
		ev = ev.Str("stack", strings.TrimSpace(string(debug.Stack())))
	}
	return ev
}
