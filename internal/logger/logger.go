// Package logger provides structured, level-gated logging for the engine.
//
// Each entry is written as a single line with fixed-width columns:
//
//	2006-01-02 15:04:05.000 | MODULE       | ACTION               | LEVEL | message
//
// Levels (lowest to highest): debug, info, warn, error.
// Entries below the configured minimum level are silently dropped.
//
// Output goes to stderr by default. Long-running deployments log to a
// monthly-rotated file instead (name-YYYY-MM.log); see NewFile and
// CleanupMonthly.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Level represents a log severity.
type Level int

// Log severity constants, ordered lowest to highest.
const (
	LevelDebug Level = iota // fine-grained diagnostic output
	LevelInfo               // normal operational messages
	LevelWarn               // unexpected but recoverable conditions
	LevelError              // failures requiring attention
)

// Logger writes structured log lines for a single module.
type Logger struct {
	module string
	level  Level
	out    *log.Logger
	closer io.Closer // non-nil when writing to a file
}

// New creates a Logger for the given module, gated at the given level string,
// writing to stderr. Unrecognized level strings default to "info".
func New(module, levelStr string) *Logger {
	return &Logger{
		module: strings.ToUpper(module),
		level:  parseLevel(levelStr),
		// No prefix or flags — we supply the full line ourselves.
		out: log.New(os.Stderr, "", 0),
	}
}

// NewFile creates a Logger writing to the monthly-rotated variant of
// basePath ("server.log" → "server-2026-08.log"). The directory is created
// if needed. On any failure the logger falls back to stderr so startup
// never dies over a log path.
func NewFile(module, levelStr, basePath string) *Logger {
	path := MonthlyPath(basePath, time.Now())
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		l := New(module, levelStr)
		l.Warnf("log_open", "mkdir %s: %v (falling back to stderr)", filepath.Dir(path), err)
		return l
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) // #nosec G304 -- path from trusted config
	if err != nil {
		l := New(module, levelStr)
		l.Warnf("log_open", "open %s: %v (falling back to stderr)", path, err)
		return l
	}
	return &Logger{
		module: strings.ToUpper(module),
		level:  parseLevel(levelStr),
		out:    log.New(f, "", 0),
		closer: f,
	}
}

// WithModule returns a logger sharing this logger's destination and level
// but tagged with a different module column.
func (l *Logger) WithModule(module string) *Logger {
	return &Logger{module: strings.ToUpper(module), level: l.level, out: l.out}
}

// Close releases the log file, if any. Safe on stderr loggers.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// SetLevel changes the minimum log level at runtime.
func (l *Logger) SetLevel(levelStr string) {
	l.level = parseLevel(levelStr)
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(action, msg string) { l.write(LevelDebug, "DEBUG", action, msg) }

// Info logs at INFO level.
func (l *Logger) Info(action, msg string) { l.write(LevelInfo, "INFO ", action, msg) }

// Warn logs at WARN level.
func (l *Logger) Warn(action, msg string) { l.write(LevelWarn, "WARN ", action, msg) }

// Error logs at ERROR level.
func (l *Logger) Error(action, msg string) { l.write(LevelError, "ERROR", action, msg) }

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(action, format string, args ...any) {
	l.Debug(action, fmt.Sprintf(format, args...))
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(action, format string, args ...any) {
	l.Info(action, fmt.Sprintf(format, args...))
}

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(action, format string, args ...any) {
	l.Warn(action, fmt.Sprintf(format, args...))
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(action, format string, args ...any) {
	l.Error(action, fmt.Sprintf(format, args...))
}

// Fatal logs at ERROR level and then calls os.Exit(1).
func (l *Logger) Fatal(action, msg string) {
	l.Error(action, msg)
	os.Exit(1)
}

// Fatalf logs a formatted message at ERROR level and then calls os.Exit(1).
func (l *Logger) Fatalf(action, format string, args ...any) {
	l.Fatal(action, fmt.Sprintf(format, args...))
}

// write emits one log line if level >= l.level.
func (l *Logger) write(level Level, levelLabel, action, msg string) {
	if level < l.level {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	l.out.Printf("%s | %-12s | %-22s | %s | %s", ts, l.module, action, levelLabel, msg)
}

// parseLevel converts a string to a Level, defaulting to LevelInfo.
func parseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// MonthlyPath appends -YYYY-MM before the .log extension (or at the end for
// other names): "aifw/server.log" → "aifw/server-2026-08.log".
func MonthlyPath(basePath string, now time.Time) string {
	ym := now.Format("2006-01")
	dir := filepath.Dir(basePath)
	name := filepath.Base(basePath)
	if strings.HasSuffix(name, ".log") {
		return filepath.Join(dir, fmt.Sprintf("%s-%s.log", strings.TrimSuffix(name, ".log"), ym))
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%s.log", name, ym))
}

// CleanupMonthly deletes monthly-rotated siblings of basePath older than
// monthsToKeep months. monthsToKeep == 0 disables cleanup; negative values
// fall back to 6. Best-effort: cleanup must never take the process down.
func CleanupMonthly(basePath string, monthsToKeep int) {
	if basePath == "" {
		return
	}
	keep := monthsToKeep
	if keep < 0 {
		keep = 6
	}
	if keep == 0 {
		return
	}
	dir := filepath.Dir(basePath)
	name := filepath.Base(basePath)
	stem := strings.TrimSuffix(name, ".log")
	pat, err := regexp.Compile(`^` + regexp.QuoteMeta(stem) + `-([0-9]{4})-([0-9]{2})\.log$`)
	if err != nil {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	now := time.Now()
	for _, e := range entries {
		m := pat.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		var year, month int
		if _, err := fmt.Sscanf(m[1]+" "+m[2], "%d %d", &year, &month); err != nil {
			continue
		}
		ageMonths := (now.Year()-year)*12 + int(now.Month()) - month
		if ageMonths >= keep {
			os.Remove(filepath.Join(dir, e.Name())) //nolint:errcheck // best-effort cleanup
		}
	}
}
