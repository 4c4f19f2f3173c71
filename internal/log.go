package internal

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

var (
	logLevel = &slog.LevelVar{}

	handlerMux sync.RWMutex
	handler    slog.Handler
)

// SetLogLevel sets the minimum level of the default log handler.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetLogHandler replaces the log handler used by the telemetry
// created from now on.
func SetLogHandler(h slog.Handler) {
	handlerMux.Lock()
	defer handlerMux.Unlock()

	handler = h
}

func logHandler() slog.Handler {
	handlerMux.RLock()
	h := handler
	handlerMux.RUnlock()

	if h != nil {
		return h
	}

	handlerMux.Lock()
	defer handlerMux.Unlock()

	if handler == nil {
		handler = newDefaultHandler()
	}

	return handler
}

// newDefaultHandler returns a handler that writes human readable records
// to stderr (coloured only on terminals) and forwards them
// to the global OpenTelemetry logger provider.
func newDefaultHandler() slog.Handler {
	isTerm := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	console := tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      logLevel,
		TimeFormat: time.TimeOnly,
		NoColor:    !isTerm,
	})

	return &fanOutHandler{
		handlers: []slog.Handler{
			console,
			otelslog.NewHandler(instrumentationName),
		},
	}
}

// fanOutHandler dispatches each record to all the wrapped handlers.
type fanOutHandler struct {
	handlers []slog.Handler
}

func (f *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

func (f *fanOutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error

	for _, h := range f.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}

		if err := h.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (f *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h.WithAttrs(attrs))
	}

	return &fanOutHandler{handlers: handlers}
}

func (f *fanOutHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h.WithGroup(name))
	}

	return &fanOutHandler{handlers: handlers}
}
