// Package logging provides structured logging for the peerwall core.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel represents a log level.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// ParseLevel maps a config string onto a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Fields is the structured context attached to a log entry.
type Fields = map[string]interface{}

// Logger provides structured JSON logging.
type Logger struct {
	entry *logrus.Entry
}

var (
	// global logger instance
	global *Logger
	mu     sync.Mutex
)

// New builds a JSON logger writing to out at minLevel.
func New(out io.Writer, minLevel LogLevel) *Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(minLevel.logrus())
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	})
	return &Logger{entry: logrus.NewEntry(l)}
}

// Init replaces the global logger.
func Init(out io.Writer, minLevel LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	global = New(out, minLevel)
}

// Get returns the global logger instance.
func Get() *Logger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = New(os.Stderr, LevelInfo)
	}
	return global
}

// With returns a child logger that always carries the component name.
func (l *Logger) With(component string) *Logger {
	return &Logger{entry: l.entry.WithField("component", component)}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, context ...Fields) {
	l.fields(context).Debug(message)
}

// Info logs an info message.
func (l *Logger) Info(message string, context ...Fields) {
	l.fields(context).Info(message)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, context ...Fields) {
	l.fields(context).Warn(message)
}

// Error logs an error message.
func (l *Logger) Error(message string, err error, context ...Fields) {
	e := l.fields(context)
	if err != nil {
		e = e.WithError(err)
	}
	e.Error(message)
}

// fields merges multiple context maps into the entry.
func (l *Logger) fields(context []Fields) *logrus.Entry {
	e := l.entry
	for _, c := range context {
		if len(c) > 0 {
			e = e.WithFields(logrus.Fields(c))
		}
	}
	return e
}

// Convenience functions using global logger

func Debug(message string, context ...Fields) {
	Get().Debug(message, context...)
}

func Info(message string, context ...Fields) {
	Get().Info(message, context...)
}

func Warn(message string, context ...Fields) {
	Get().Warn(message, context...)
}

func Error(message string, err error, context ...Fields) {
	Get().Error(message, err, context...)
}

// Component returns the global logger tagged with a component name.
func Component(name string) *Logger {
	return Get().With(name)
}
