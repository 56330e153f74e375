package logx

import (
	"fmt"
	"strings"
)

// Level is a logging severity.
type Level uint8

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
	LevelOff
)

var levelNames = [...]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
	LevelOff:   "OFF",
}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "UNKNOWN"
}

// ParseLevel maps a name to a Level, defaulting to LevelInfo.
func ParseLevel(name string) Level {
	lvl, err := parseLevel(name)
	if err != nil {
		return LevelInfo
	}
	return lvl
}

func parseLevel(name string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "WARNING":
		return LevelWarn, nil
	case "":
		return LevelInfo, nil
	}
	for i, n := range levelNames {
		if strings.EqualFold(n, name) {
			return Level(i), nil
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// UnmarshalText lets env parsing populate a Level directly.
func (l *Level) UnmarshalText(text []byte) error {
	lvl, err := parseLevel(string(text))
	if err != nil {
		return err
	}
	*l = lvl
	return nil
}

// Enabled reports whether target is logged at threshold l.
func (l Level) Enabled(target Level) bool {
	return l != LevelOff && l <= target
}
