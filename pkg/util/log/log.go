// Package log provides the single process-wide logger used by every dfcore
// component, following the same go-kit/log wiring the rest of the codebase
// this module was adapted from (github.com/grafana/tempo) uses.
package log

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Logger is the default, process-wide logger. Components log through it
// rather than holding their own; SetLevel may replace it during
// init before any component reaches its starting state.
var Logger = newDefaultLogger()

func newDefaultLogger() log.Logger {
	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	l = log.With(l, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	return level.NewFilter(l, level.AllowInfo())
}

// SetLevel re-filters Logger to the named level ("debug", "info", "warn", "error").
func SetLevel(lvl string) {
	base := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	base = log.With(base, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	switch lvl {
	case "debug":
		Logger = level.NewFilter(base, level.AllowDebug())
	case "warn":
		Logger = level.NewFilter(base, level.AllowWarn())
	case "error":
		Logger = level.NewFilter(base, level.AllowError())
	default:
		Logger = level.NewFilter(base, level.AllowInfo())
	}
}
