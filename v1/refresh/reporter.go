package refresh

import (
	"log/slog"

	warperrors "github.com/mirkobrombin/warp-weather/v1/errors"
)

// Reporter receives per-key refresh failures. Report must not block; the
// scheduler calls it inline from the refresh loop.
type Reporter interface {
	Report(key string, err error)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(key string, err error)

func (f ReporterFunc) Report(key string, err error) { f(key, err) }

// LogReporter logs failures instead of returning them, so a failing key is
// treated as a skipped refresh.
type LogReporter struct {
	Logger *slog.Logger
}

// Report implements Reporter.
func (r *LogReporter) Report(key string, err error) {
	l := r.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Warn("warp: refresh failed for key",
		"key", key,
		"kind", warperrors.KindOf(err).String(),
		"error", err,
	)
}
