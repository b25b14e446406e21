package logging

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel converts a level name ("debug", "info", "warn", "error") to a Level.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	}
	return LevelInfo, false
}

// Category groups log entries by subsystem.
type Category string

const (
	CatSystem    Category = "system"
	CatReader    Category = "reader"
	CatCard      Category = "card"
	CatHTTP      Category = "http"
	CatWebSocket Category = "websocket"
)

// Entry is a single log record kept in memory.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Category  Category       `json:"category"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`

	level Level
}

// Logger keeps the most recent entries in a ring buffer and mirrors
// everything at or above its level to the standard logger.
type Logger struct {
	mu       sync.RWMutex
	entries  []Entry
	next     int
	full     bool
	minLevel Level
	out      *log.Logger
}

// NewLogger creates a logger that retains up to maxEntries records.
func NewLogger(maxEntries int, minLevel Level) *Logger {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Logger{
		entries:  make([]Entry, maxEntries),
		minLevel: minLevel,
		out:      log.Default(),
	}
}

func (l *Logger) log(level Level, cat Category, msg string, data map[string]any) {
	if level < l.minLevel {
		return
	}

	e := Entry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Category:  cat,
		Message:   msg,
		Data:      data,
		level:     level,
	}

	l.mu.Lock()
	l.entries[l.next] = e
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	out := l.out
	l.mu.Unlock()

	if out != nil {
		out.Print(formatEntry(e))
	}
}

func formatEntry(e Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", strings.ToUpper(e.Level), e.Category, e.Message)
	if len(e.Data) > 0 {
		keys := make([]string, 0, len(e.Data))
		for k := range e.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
		}
	}
	return b.String()
}

// Entries returns up to limit entries, newest first, filtered by minimum
// level and (if non-empty) category. A limit <= 0 returns everything kept.
func (l *Logger) Entries(limit int, minLevel Level, cat Category) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	size := l.next
	if l.full {
		size = len(l.entries)
	}

	result := make([]Entry, 0)
	for i := 0; i < size; i++ {
		idx := (l.next - 1 - i + len(l.entries)) % len(l.entries)
		e := l.entries[idx]
		if e.level < minLevel {
			continue
		}
		if cat != "" && e.Category != cat {
			continue
		}
		result = append(result, e)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result
}

// Clear drops all retained entries.
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make([]Entry, len(l.entries))
	l.next = 0
	l.full = false
}

// SetOutput replaces the mirror logger. Nil disables mirroring.
func (l *Logger) SetOutput(out *log.Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = out
}

var (
	stdMu sync.RWMutex
	std   = NewLogger(1000, LevelInfo)
)

// Init replaces the package logger.
func Init(maxEntries int, minLevel Level) {
	stdMu.Lock()
	defer stdMu.Unlock()
	std = NewLogger(maxEntries, minLevel)
}

// Default returns the package logger.
func Default() *Logger {
	stdMu.RLock()
	defer stdMu.RUnlock()
	return std
}

func Debug(cat Category, msg string, data map[string]any) {
	Default().log(LevelDebug, cat, msg, data)
}

func Info(cat Category, msg string, data map[string]any) {
	Default().log(LevelInfo, cat, msg, data)
}

func Warn(cat Category, msg string, data map[string]any) {
	Default().log(LevelWarn, cat, msg, data)
}

func Error(cat Category, msg string, data map[string]any) {
	Default().log(LevelError, cat, msg, data)
}

// GetEntries returns entries from the package logger. See Logger.Entries.
func GetEntries(limit int, minLevel Level, cat Category) []Entry {
	return Default().Entries(limit, minLevel, cat)
}
