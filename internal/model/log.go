package model

import (
	"fmt"
	"strings"
	"time"
)

// LogLevel is the severity of an event log entry.
type LogLevel string

const (
	LevelDebug   LogLevel = "DEBUG"
	LevelInfo    LogLevel = "INFO"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
)

// ParseLogLevel accepts DEBUG, INFO, WARNING (or WARN), ERROR in any case.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARNING", "WARN":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid level %q (expected DEBUG, INFO, WARNING, or ERROR)", s)
	}
}

var levelRank = map[LogLevel]int{LevelDebug: 0, LevelInfo: 1, LevelWarning: 2, LevelError: 3}

// LevelAtLeast reports whether level is as severe as min. Unknown levels
// rank as INFO.
func LevelAtLeast(level, min LogLevel) bool {
	rank := func(l LogLevel) int {
		if r, ok := levelRank[l]; ok {
			return r
		}
		return levelRank[LevelInfo]
	}
	return rank(level) >= rank(min)
}

// LogEntry is one record in the AKSI event log.
type LogEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	UnixTS    int64          `json:"unix_ts"`
	Level     LogLevel       `json:"level"`
	Event     string         `json:"event"`
	Message   string         `json:"message,omitempty"`
	Payload   map[string]any `json:"payload"`
}
