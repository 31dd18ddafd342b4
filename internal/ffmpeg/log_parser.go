package ffmpeg

import (
	"log/slog"
	"strings"
)

// ffmpeg's -loglevel names mapped onto slog.
var logLevels = map[string]slog.Level{
	"quiet":   slog.LevelError,
	"panic":   slog.LevelError,
	"fatal":   slog.LevelError,
	"error":   slog.LevelError,
	"warning": slog.LevelWarn,
	"info":    slog.LevelInfo,
	"verbose": slog.LevelDebug,
	"debug":   slog.LevelDebug,
	"trace":   slog.LevelDebug,
}

// ParseLogLine maps one stderr line of an ffmpeg started with
// "-loglevel level+info" to a slog level and strips the level tag.
//
// Lines look like "[error] msg" or "[h264_nvenc @ 0x55d0] [error] msg"; the
// component prefix is kept. Untagged lines are logged at info.
func ParseLogLine(line string) (slog.Level, string) {
	if level, rest, ok := cutLevel(line); ok {
		return level, rest
	}

	component, rest, found := strings.Cut(line, "] ")
	if !found || !strings.HasPrefix(component, "[") {
		return slog.LevelInfo, line
	}
	if level, msg, ok := cutLevel(rest); ok {
		return level, component + "] " + msg
	}
	return slog.LevelInfo, line
}

// cutLevel strips a leading "[level] " tag.
func cutLevel(s string) (slog.Level, string, bool) {
	if !strings.HasPrefix(s, "[") {
		return 0, s, false
	}
	tag, rest, found := strings.Cut(s[1:], "] ")
	if !found {
		return 0, s, false
	}
	level, ok := logLevels[tag]
	if !ok {
		return 0, s, false
	}
	return level, rest, true
}
