package telemetry

import (
	"log/slog"
	"os"
)

// InitSlog routes the default logger through a text handler on stderr.
// Debug runs surface the per-document skip decisions the harvesting
// loops log at debug level.
func InitSlog(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
