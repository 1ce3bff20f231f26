// Package telemetry provides the structured logger consumed by every node,
// strategy, and operator in the flow engine.
package telemetry

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Field is a structured logging field.
type Field struct {
	key   string
	value any
}

func String(key, value string) Field    { return Field{key, value} }
func Int(key string, value int) Field   { return Field{key, value} }
func Int64(key string, value int64) Field { return Field{key, value} }
func Float64(key string, value float64) Field { return Field{key, value} }
func Bool(key string, value bool) Field { return Field{key, value} }
func Err(err error) Field               { return Field{"error", err} }
func Any(key string, value any) Field   { return Field{key, value} }

// Logger is the structured logger consumed throughout the engine. It is
// deliberately narrow so core packages never depend on a concrete logging
// backend.
type Logger interface {
	WithModule(name string) Logger
	With(key string, value any) Logger
	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Config configures the default zerolog-backed Logger.
type Config struct {
	Level  string // trace, debug, info, warn, error
	Output io.Writer
}

type zlogger struct {
	z zerolog.Logger
}

// New builds a Logger backed by zerolog per cfg.
func New(cfg Config) Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	z := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &zlogger{z: z}
}

// Nop returns a Logger that discards everything. Safe default for nodes
// constructed without an explicit logger.
func Nop() Logger {
	return &zlogger{z: zerolog.Nop()}
}

func (l *zlogger) WithModule(name string) Logger {
	return &zlogger{z: l.z.With().Str("module", name).Logger()}
}

func (l *zlogger) With(key string, value any) Logger {
	return &zlogger{z: apply(l.z.With(), key, value).Logger()}
}

func apply(ctx zerolog.Context, key string, value any) zerolog.Context {
	switch v := value.(type) {
	case string:
		return ctx.Str(key, v)
	case int:
		return ctx.Int(key, v)
	case int64:
		return ctx.Int64(key, v)
	case float64:
		return ctx.Float64(key, v)
	case bool:
		return ctx.Bool(key, v)
	case error:
		return ctx.AnErr(key, v)
	default:
		return ctx.Interface(key, v)
	}
}

func applyEvent(e *zerolog.Event, fields []Field) *zerolog.Event {
	for _, f := range fields {
		switch v := f.value.(type) {
		case string:
			e = e.Str(f.key, v)
		case int:
			e = e.Int(f.key, v)
		case int64:
			e = e.Int64(f.key, v)
		case float64:
			e = e.Float64(f.key, v)
		case bool:
			e = e.Bool(f.key, v)
		case error:
			e = e.AnErr(f.key, v)
		default:
			e = e.Interface(f.key, v)
		}
	}
	return e
}

func (l *zlogger) Trace(msg string, fields ...Field) { applyEvent(l.z.Trace(), fields).Msg(msg) }
func (l *zlogger) Debug(msg string, fields ...Field) { applyEvent(l.z.Debug(), fields).Msg(msg) }
func (l *zlogger) Info(msg string, fields ...Field)  { applyEvent(l.z.Info(), fields).Msg(msg) }
func (l *zlogger) Warn(msg string, fields ...Field)  { applyEvent(l.z.Warn(), fields).Msg(msg) }
func (l *zlogger) Error(msg string, fields ...Field) { applyEvent(l.z.Error(), fields).Msg(msg) }
