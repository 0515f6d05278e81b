package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

// Logger is the logging interface passed to every component.
type Logger interface {
	Printf(format string, v ...any)
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
	// WithPrefix returns a Logger with the same configuration whose lines
	// carry the given prefix.
	WithPrefix(prefix string) Logger
}

// Level is a logging verbosity.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) prefix() string {
	return [...]string{"ERROR: ", "WARN:  ", "INFO:  ", "DEBUG: "}[l]
}

func (l Level) String() string {
	return [...]string{"error", "warn", "info", "debug"}[l]
}

// ParseLevel maps a level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "", "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Config selects where and how much a Logger writes.
type Config struct {
	Level  Level
	Prefix string
	Output io.Writer // Defaults to os.Stderr.
}

// New returns a Logger for cfg.
func New(cfg Config) Logger {
	w := cfg.Output
	if w == nil {
		w = os.Stderr
	}
	return newStandardLogger(&formatLog{w: w}, cfg.Level, cfg.Prefix)
}

// NopLogger discards everything.
var NopLogger Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any)        {}
func (nopLogger) Debugf(string, ...any)        {}
func (nopLogger) Infof(string, ...any)         {}
func (nopLogger) Warnf(string, ...any)         {}
func (nopLogger) Errorf(string, ...any)        {}
func (n nopLogger) WithPrefix(string) Logger { return n }

// formatLog writes each line in UTC with microsecond resolution.
type formatLog struct {
	mu sync.Mutex
	w  io.Writer
}

func (fl *formatLog) Write(b []byte) (int, error) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fmt.Fprintf(fl.w, "%s %s", time.Now().UTC().Format(timeFormat), b)
}

type standardLogger struct {
	logger *log.Logger
	level  Level
	out    *formatLog
}

func newStandardLogger(out *formatLog, level Level, prefix string) *standardLogger {
	if prefix != "" && !strings.HasSuffix(prefix, " ") {
		prefix += " "
	}
	return &standardLogger{
		logger: log.New(out, prefix, log.Lmsgprefix),
		level:  level,
		out:    out,
	}
}

func (s *standardLogger) printf(level Level, format string, v ...any) {
	if level > s.level {
		return
	}
	s.logger.Printf(level.prefix()+format, v...)
}

func (s *standardLogger) Printf(format string, v ...any) { s.printf(LevelInfo, format, v...) }
func (s *standardLogger) Debugf(format string, v ...any) { s.printf(LevelDebug, format, v...) }
func (s *standardLogger) Infof(format string, v ...any)  { s.printf(LevelInfo, format, v...) }
func (s *standardLogger) Warnf(format string, v ...any)  { s.printf(LevelWarn, format, v...) }
func (s *standardLogger) Errorf(format string, v ...any) { s.printf(LevelError, format, v...) }

func (s *standardLogger) WithPrefix(prefix string) Logger {
	return newStandardLogger(s.out, s.level, prefix)
}

// Logfer has only a Logf method, like testing.T.
type Logfer interface {
	Logf(format string, v ...any)
}

// LogfLogger routes every level to a Logfer.
type LogfLogger struct {
	wrapped Logfer
	prefix  string
}

// NewLogfLogger wraps l, typically a *testing.T.
func NewLogfLogger(l Logfer) *LogfLogger {
	return &LogfLogger{wrapped: l}
}

func (ll *LogfLogger) logf(format string, v ...any) {
	ll.wrapped.Logf(ll.prefix+format, v...)
}

func (ll *LogfLogger) Printf(format string, v ...any) { ll.logf(format, v...) }
func (ll *LogfLogger) Debugf(format string, v ...any) { ll.logf(format, v...) }
func (ll *LogfLogger) Infof(format string, v ...any)  { ll.logf(format, v...) }
func (ll *LogfLogger) Warnf(format string, v ...any)  { ll.logf(format, v...) }
func (ll *LogfLogger) Errorf(format string, v ...any) { ll.logf(format, v...) }

func (ll *LogfLogger) WithPrefix(prefix string) Logger {
	return &LogfLogger{wrapped: ll.wrapped, prefix: prefix + " "}
}
