package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level controls which messages are written.
type Level int

const (
	LevelSilent Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
)

// ParseLevel maps a config string to a Level. Unknown strings default to
// info so a typo in deskthing.json never silences the emulator.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silent":
		return LevelSilent
	case "error":
		return LevelError
	case "warn":
		return LevelWarn
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelSilent:
		return "silent"
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelDebug:
		return "debug"
	default:
		return "info"
	}
}

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

// Logger writes timestamped, severity-colored console lines. One instance
// per emulator session; components receive it by injection.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
	level  Level
	prefix string
}

// New creates a Logger writing to stdout/stderr.
func New(level Level, prefix string) *Logger {
	return &Logger{
		out:    os.Stdout,
		errOut: os.Stderr,
		level:  level,
		prefix: prefix,
	}
}

// SetOutput redirects both streams, primarily for tests.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
	l.errOut = w
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) Debug(format string, args ...any) {
	l.write(LevelDebug, ansiCyan, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.write(LevelInfo, ansiGray, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.write(LevelWarn, ansiYellow, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.write(LevelError, ansiRed, format, args...)
}

// AppLog writes output originating from the developer's app. These lines
// always log regardless of the configured level: they are the developer's
// own output, not emulator chatter.
func (l *Logger) AppLog(severity, message string) {
	color := ansiGray
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "error", "fatal":
		color = ansiRed
	case "warn", "warning":
		color = ansiYellow
	case "debug":
		color = ansiCyan
	case "message":
		color = ansiGreen
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "%s[App %s]%s %s\n", color, strings.TrimSpace(severity), ansiReset, strings.TrimRight(message, "\n"))
}

func (l *Logger) write(level Level, color, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level > l.level {
		return
	}
	w := l.out
	if level == LevelError {
		w = l.errOut
	}
	timestamp := time.Now().Format("15:04:05")
	fmt.Fprintf(w, "[%s] %s%s %s%s\n", timestamp, color, l.prefix, fmt.Sprintf(format, args...), ansiReset)
}
