package g233spi

import (
	"context"
	"encoding/hex"

	"log/slog"
)

// levelTrace is one step more verbose than slog.LevelDebug and logs
// per-byte register traffic. Expensive; enable only when bringing up a
// new platform.
const levelTrace slog.Level = slog.LevelDebug - 1

func logattrs(l *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if l == nil {
		return
	}
	l.LogAttrs(context.Background(), level, msg, attrs...)
}

func (c *Controller) logerr(msg string, attrs ...slog.Attr) {
	logattrs(c.logger, slog.LevelError, msg, attrs...)
}

func (c *Controller) warn(msg string, attrs ...slog.Attr) {
	logattrs(c.logger, slog.LevelWarn, msg, attrs...)
}

func (c *Controller) info(msg string, attrs ...slog.Attr) {
	logattrs(c.logger, slog.LevelInfo, msg, attrs...)
}

func (c *Controller) debug(msg string, attrs ...slog.Attr) {
	logattrs(c.logger, slog.LevelDebug, msg, attrs...)
}

func (c *Controller) trace(msg string, attrs ...slog.Attr) {
	if !c.traceenabled {
		return
	}
	logattrs(c.logger, levelTrace, msg, attrs...)
}

func (f *Flash) logerr(msg string, attrs ...slog.Attr) {
	logattrs(f.logger, slog.LevelError, msg, attrs...)
}

func (f *Flash) warn(msg string, attrs ...slog.Attr) {
	logattrs(f.logger, slog.LevelWarn, msg, attrs...)
}

func (f *Flash) info(msg string, attrs ...slog.Attr) {
	logattrs(f.logger, slog.LevelInfo, msg, attrs...)
}

func (f *Flash) debug(msg string, attrs ...slog.Attr) {
	logattrs(f.logger, slog.LevelDebug, msg, attrs...)
}

func hex32(u uint32) string {
	return hex.EncodeToString([]byte{byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u)})
}
