// Package logger routes log/slog records through a zerolog backend.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level, encoding and destination of the process log.
type Config struct {
	// trace, debug, info, warn, error
	Level string `envconfig:"LEVEL" default:"info"`
	// json or console
	Format string `envconfig:"FORMAT" default:"json"`
	// stdout, stderr, or file path
	Output string `envconfig:"OUTPUT" default:"stdout"`
	// empty means RFC3339Nano
	TimeFormat string `envconfig:"TIME_FORMAT"`
}

// New builds a slog.Logger writing through zerolog and installs it as the default logger.
func New(cfg Config) (*slog.Logger, error) {
	var out io.Writer
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("could not open log file: %w", err)
		}
		out = f
	}
	h, err := NewHandler(out, cfg)
	if err != nil {
		return nil, err
	}
	l := slog.New(h)
	slog.SetDefault(l)
	return l, nil
}

// NewHandler returns a slog.Handler that encodes records with zerolog onto w.
func NewHandler(w io.Writer, cfg Config) (slog.Handler, error) {
	lvl := cfg.Level
	if lvl == "" {
		lvl = "info"
	}
	zlevel, err := zerolog.ParseLevel(strings.ToLower(lvl))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}

	switch cfg.Format {
	case "", "json":
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat, NoColor: true}
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	zl := zerolog.New(w).Level(zlevel)
	return &zerologHandler{zl: zl, level: toSlogLevel(zlevel), timeFormat: timeFormat}, nil
}

type zerologHandler struct {
	zl         zerolog.Logger
	level      slog.Level
	timeFormat string
	attrs      []slog.Attr // already qualified with their group prefix
	prefix     string
}

func (h *zerologHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level
}

func (h *zerologHandler) Handle(_ context.Context, r slog.Record) error {
	ev := h.zl.WithLevel(toZerologLevel(r.Level))
	if ev == nil {
		return nil
	}
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}
	ev.Str(zerolog.TimestampFieldName, t.Format(h.timeFormat))
	for _, a := range h.attrs {
		addAttr(ev, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(ev, h.prefix, a)
		return true
	})
	ev.Msg(r.Message)
	return nil
}

func (h *zerologHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	nh := *h
	nh.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	nh.attrs = append(nh.attrs, h.attrs...)
	for _, a := range attrs {
		nh.attrs = append(nh.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &nh
}

func (h *zerologHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.prefix = h.prefix + name + "."
	return &nh
}

// addAttr writes one attribute, flattening groups into dotted keys.
func addAttr(ev *zerolog.Event, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := prefix + a.Key
	v := a.Value
	switch v.Kind() {
	case slog.KindGroup:
		p := prefix
		if a.Key != "" {
			p = key + "."
		}
		for _, ga := range v.Group() {
			addAttr(ev, p, ga)
		}
	case slog.KindString:
		ev.Str(key, v.String())
	case slog.KindInt64:
		ev.Int64(key, v.Int64())
	case slog.KindUint64:
		ev.Uint64(key, v.Uint64())
	case slog.KindFloat64:
		ev.Float64(key, v.Float64())
	case slog.KindBool:
		ev.Bool(key, v.Bool())
	case slog.KindDuration:
		ev.Str(key, v.Duration().String())
	case slog.KindTime:
		ev.Time(key, v.Time())
	default:
		switch x := v.Any().(type) {
		case error:
			ev.AnErr(key, x)
		case fmt.Stringer:
			ev.Stringer(key, x)
		default:
			ev.Interface(key, x)
		}
	}
}

func toZerologLevel(l slog.Level) zerolog.Level {
	switch {
	case l < slog.LevelDebug:
		return zerolog.TraceLevel
	case l < slog.LevelInfo:
		return zerolog.DebugLevel
	case l < slog.LevelWarn:
		return zerolog.InfoLevel
	case l < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func toSlogLevel(l zerolog.Level) slog.Level {
	switch l {
	case zerolog.TraceLevel:
		return slog.LevelDebug - 4
	case zerolog.DebugLevel:
		return slog.LevelDebug
	case zerolog.InfoLevel:
		return slog.LevelInfo
	case zerolog.WarnLevel:
		return slog.LevelWarn
	case zerolog.Disabled, zerolog.NoLevel:
		return slog.LevelError + 100
	default:
		return slog.LevelError
	}
}
