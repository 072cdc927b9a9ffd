package logger

import (
	"go.uber.org/zap/zapcore"
)

// FileFloor is the least severe level the rotating log file always records.
const FileFloor = zapcore.InfoLevel

// coreWithLevel wraps a zapcore.Core and filters entries by its own enabler.
type coreWithLevel struct {
	zapcore.Core

	// level decides which entries reach the wrapped core.
	level zapcore.LevelEnabler
}

// Enabled reports whether the wrapper lets entries of level l through.
func (c *coreWithLevel) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l)
}

// Check adds the core to a checked entry if the log entry level is enabled for logging.
//
//nolint:gocritic // AddCore requires ent to be passed by value.
func (c *coreWithLevel) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}

	return ce
}

// With returns a wrapper around the wrapped core with added fields and the same filter.
//
//nolint:ireturn,nolintlint // Returning zapcore.Core is intended for zap integration.
func (c *coreWithLevel) With(fields []zapcore.Field) zapcore.Core {
	return &coreWithLevel{
		c.Core.With(fields),
		c.level,
	}
}

// levelOrFloor enables what level enables plus everything at floor or above.
type levelOrFloor struct {
	level zapcore.LevelEnabler
	floor zapcore.Level
}

func (l levelOrFloor) Enabled(lvl zapcore.Level) bool {
	return lvl >= l.floor || l.level.Enabled(lvl)
}

// withFloor wraps core so it records entries enabled by level and every entry at floor or above.
//
//nolint:ireturn,nolintlint // Returning zapcore.Core is intended for zap integration.
func withFloor(core zapcore.Core, level zapcore.LevelEnabler, floor zapcore.Level) zapcore.Core {
	return &coreWithLevel{
		Core:  core,
		level: levelOrFloor{level: level, floor: floor},
	}
}
