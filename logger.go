package gimage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

// runtimes holds the live runtimes that follow the package logger.
var (
	runtimesMu sync.Mutex
	runtimes   = map[*Runtime]struct{}{}
)

func init() {
	l := newNopLogger()
	loggerPtr.Store(l)
}

// SetLogger configures the logger for gimage, its runtimes, engines and
// backends. By default, gimage produces no log output. Call SetLogger to
// enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior). Runtimes
// created with WithLogger keep their own logger.
//
// Log levels used by gimage:
//   - [slog.LevelDebug]: allocation, eviction and failed commands
//   - [slog.LevelInfo]: engine lifecycle and backend selection
//   - [slog.LevelWarn]: oversized images, GPU context loss, release errors
//
// Example:
//
//	// Enable info-level logging to stderr:
//	gimage.SetLogger(slog.Default())
//
//	// Enable debug-level logging for full diagnostics:
//	gimage.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	runtimesMu.Lock()
	defer runtimesMu.Unlock()
	for rt := range runtimes {
		rt.setLogger(l)
	}
}

// Logger returns the current logger used by gimage.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

func followLogger(rt *Runtime) {
	runtimesMu.Lock()
	runtimes[rt] = struct{}{}
	runtimesMu.Unlock()
	rt.setLogger(Logger())
}

func unfollowLogger(rt *Runtime) {
	runtimesMu.Lock()
	delete(runtimes, rt)
	runtimesMu.Unlock()
}
