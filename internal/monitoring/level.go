package monitoring

import (
	"fmt"
	"strings"
)

// Level gates how much diagnostic output the grabber produces. Levels are
// ordered: LevelNone < LevelInfo < LevelFull. The level never changes what the
// acquisition loop does, only what it reports.
type Level int

const (
	LevelNone Level = iota
	LevelInfo
	LevelFull
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelInfo:
		return "info"
	case LevelFull:
		return "full"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel parses "none", "info" or "full" (case-insensitive). Numeric
// strings 0..2 are accepted for compatibility with older configs.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "off", "0":
		return LevelNone, nil
	case "info", "1", "":
		return LevelInfo, nil
	case "full", "debug", "2":
		return LevelFull, nil
	}
	return LevelNone, fmt.Errorf("unknown debug level %q: expected none, info or full", s)
}

// Verbosity routes messages to Logf depending on the configured level.
type Verbosity struct {
	Level Level
	// Prefix is prepended to every message, e.g. "[vospi] ".
	Prefix string
}

// Enabled reports whether messages at level l are emitted.
func (v Verbosity) Enabled(l Level) bool {
	return l != LevelNone && v.Level >= l
}

// Infof logs when the level is at least LevelInfo.
func (v Verbosity) Infof(format string, args ...interface{}) {
	if v.Enabled(LevelInfo) {
		Logf(v.Prefix+format, args...)
	}
}

// Debugf logs only at LevelFull.
func (v Verbosity) Debugf(format string, args ...interface{}) {
	if v.Enabled(LevelFull) {
		Logf(v.Prefix+format, args...)
	}
}

// Errorf always logs; errors are not gated by the debug level.
func (v Verbosity) Errorf(format string, args ...interface{}) {
	Logf(v.Prefix+format, args...)
}
