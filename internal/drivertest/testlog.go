package drivertest

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/coregx/tabula/internal/logger"
)

// NewTestLogger returns a Logger that writes through t.Log, so output
// only surfaces on failure or when running with -v.
func NewTestLogger(t testing.TB) logger.Logger {
	t.Helper()
	return logger.NewSlogAdapter(slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}
