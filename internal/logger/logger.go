package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	Service string
	Level   string
	Format  string // json | console
	Output  io.Writer
}

// Logger carries per-request fields through context so handlers and the
// checkout service log with the same request_id / buyer_id.
type Logger struct {
	base zerolog.Logger
}

type ctxKey struct{}

func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	base := zerolog.New(out).
		With().
		Timestamp().
		Str("service", opts.Service).
		Logger().
		Level(ParseLevel(opts.Level))
	return &Logger{base: base}
}

// Nop discards everything; handy in tests.
func Nop() *Logger {
	return &Logger{base: zerolog.Nop()}
}

func ParseLevel(v string) zerolog.Level {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(v)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

var nop = zerolog.Nop()

// from returns the context logger; a nil *Logger logs nowhere.
func (l *Logger) from(ctx context.Context) *zerolog.Logger {
	if l == nil {
		return &nop
	}
	if ctx != nil {
		if zl, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok {
			return zl
		}
	}
	return &l.base
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	if l == nil {
		return ctx
	}
	zl := l.from(ctx).With().Interface(key, value).Logger()
	return context.WithValue(ctx, ctxKey{}, &zl)
}

func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	if l == nil {
		return ctx
	}
	b := l.from(ctx).With()
	for k, v := range fields {
		b = b.Interface(k, v)
	}
	zl := b.Logger()
	return context.WithValue(ctx, ctxKey{}, &zl)
}

func (l *Logger) Debug(ctx context.Context, msg string) { l.from(ctx).Debug().Msg(msg) }
func (l *Logger) Info(ctx context.Context, msg string)  { l.from(ctx).Info().Msg(msg) }
func (l *Logger) Warn(ctx context.Context, msg string)  { l.from(ctx).Warn().Msg(msg) }

func (l *Logger) Error(ctx context.Context, msg string, err error) {
	ev := l.from(ctx).Error()
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(msg)
}
