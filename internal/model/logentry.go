package model

import (
	"strings"
	"time"
)

// LogEntry is a single log record pushed by a client.
// Entries are treated as immutable once received; Metadata and Tags must not be
// mutated after the entry has been handed to the buffer or storage.
type LogEntry struct {
	ID        string            `json:"id" validate:"required"`
	Timestamp time.Time         `json:"timestamp"`
	Level     string            `json:"level" validate:"required"`
	Message   string            `json:"message" validate:"required"`
	UserID    string            `json:"userId,omitempty"`
	DeviceID  string            `json:"deviceId" validate:"required"`
	Source    string            `json:"source" validate:"required"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Tags      []string          `json:"tags"`
	File      string            `json:"file"`
	Function  string            `json:"function"`
	Line      uint32            `json:"line"`
}

// Level is the ranked form of LogEntry.Level.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelNotice
	LevelWarning
	LevelError
	LevelCritical
)

var levelNames = [...]string{"trace", "debug", "info", "notice", "warning", "error", "critical"}

// ParseLevel maps a level string (case-insensitive) to its rank.
// Unknown strings rank as info.
func ParseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range levelNames {
		if name == s {
			return Level(i)
		}
	}
	return LevelInfo
}

func (l Level) String() string {
	if l < LevelTrace || l > LevelCritical {
		return "info"
	}
	return levelNames[l]
}

// Rank returns the entry's level rank.
func (e LogEntry) Rank() Level { return ParseLevel(e.Level) }
