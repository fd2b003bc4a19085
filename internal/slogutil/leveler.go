package slogutil

import (
	"log/slog"
	"sync/atomic"
)

// DynamicLeveler lets memmgrd's log level be hot-reloaded from a config
// update without rebuilding the handler: SetupLogRotation hands one back
// alongside the logger, and the config manager's change callback calls
// SetLevel whenever log.level changes in a reconfigure.
type DynamicLeveler struct {
	level atomic.Value
}

// Level returns the current logging level, defaulting to Info when SetLevel
// has never been called (the zero value of atomic.Value holds nothing).
func (dl *DynamicLeveler) Level() slog.Level {
	if v, ok := dl.level.Load().(slog.Level); ok {
		return v
	}
	return slog.LevelInfo
}

// SetLevel updates the logging level.
func (dl *DynamicLeveler) SetLevel(level slog.Level) {
	dl.level.Store(level)
}
