// Package logger builds structured slog loggers with the handful of options
// this system needs: level, JSON or text output, destination, and static
// attributes. ERROR records are additionally mirrored to a separate error
// stream so unattended runs surface failures on stderr.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type options struct {
	level     slog.Level
	json      bool
	output    io.Writer
	errOutput io.Writer
	attrs     []slog.Attr
}

// Option configures a logger during construction.
type Option func(*options)

// WithLevel sets the minimum record level (default info).
func WithLevel(level slog.Level) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithJSON switches output to JSON records (default is text).
func WithJSON() Option {
	return func(o *options) {
		o.json = true
	}
}

// WithOutput redirects log output (default stdout).
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.output = w
		}
	}
}

// WithErrorOutput redirects the error stream that ERROR records are mirrored
// to (default stderr). Pass io.Discard to disable mirroring.
func WithErrorOutput(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.errOutput = w
		}
	}
}

// WithAttrs attaches static attributes to every record.
func WithAttrs(attrs ...slog.Attr) Option {
	return func(o *options) {
		o.attrs = append(o.attrs, attrs...)
	}
}

// New creates a logger from the given options.
func New(opts ...Option) *slog.Logger {
	o := &options{
		level:     slog.LevelInfo,
		output:    os.Stdout,
		errOutput: os.Stderr,
	}
	for _, opt := range opts {
		opt(o)
	}

	newHandler := func(w io.Writer, level slog.Level) slog.Handler {
		hopts := &slog.HandlerOptions{Level: level}
		if o.json {
			return slog.NewJSONHandler(w, hopts)
		}
		return slog.NewTextHandler(w, hopts)
	}

	handler := newHandler(o.output, o.level)
	if o.errOutput != io.Discard {
		handler = &teeHandler{
			primary: handler,
			errors:  newHandler(o.errOutput, slog.LevelError),
		}
	}
	if len(o.attrs) > 0 {
		handler = handler.WithAttrs(o.attrs)
	}

	return slog.New(handler)
}

// teeHandler forwards every record to the primary handler and mirrors
// ERROR-and-above records to the error handler.
type teeHandler struct {
	primary slog.Handler
	errors  slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.errors.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, rec slog.Record) error {
	var err error
	if h.primary.Enabled(ctx, rec.Level) {
		err = h.primary.Handle(ctx, rec.Clone())
	}
	if rec.Level >= slog.LevelError && h.errors.Enabled(ctx, rec.Level) {
		if errErr := h.errors.Handle(ctx, rec.Clone()); err == nil {
			err = errErr
		}
	}
	return err
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{
		primary: h.primary.WithAttrs(attrs),
		errors:  h.errors.WithAttrs(attrs),
	}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{
		primary: h.primary.WithGroup(name),
		errors:  h.errors.WithGroup(name),
	}
}
