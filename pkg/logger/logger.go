// Package logger provides the structured logger shared by every service.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingConfig configures a Logger.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// Logger wraps logrus with the service name attached to every entry.
type Logger struct {
	*logrus.Logger
	name string
}

// New creates a logger from the provided configuration. Unknown levels fall
// back to info, unknown formats to text and unknown outputs to stdout.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	base.SetOutput(openOutput(cfg))
	return &Logger{Logger: base}
}

// NewDefault returns an info-level text logger tagged with name.
func NewDefault(name string) *Logger {
	l := New(LoggingConfig{Level: "info", Format: "text"})
	l.name = name
	return l
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	l := New(LoggingConfig{Level: "panic"})
	l.SetOutput(io.Discard)
	return l
}

// Named returns a copy of the logger tagged with a component name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger, name: name}
}

// Name returns the component name attached to entries.
func (l *Logger) Name() string {
	return l.name
}

// WithField starts an entry carrying the component name and one field.
func (l *Logger) WithField(key string, value any) *logrus.Entry {
	return l.entry().WithField(key, value)
}

// WithFields starts an entry carrying the component name and fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.entry().WithFields(fields)
}

// WithError starts an entry carrying the component name and err.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.entry().WithError(err)
}

// Debug logs at debug level with the component name attached.
func (l *Logger) Debug(args ...any) { l.entry().Debug(args...) }

// Info logs at info level with the component name attached.
func (l *Logger) Info(args ...any) { l.entry().Info(args...) }

// Warn logs at warn level with the component name attached.
func (l *Logger) Warn(args ...any) { l.entry().Warn(args...) }

// Error logs at error level with the component name attached.
func (l *Logger) Error(args ...any) { l.entry().Error(args...) }

// Infof logs a formatted message at info level with the component name attached.
func (l *Logger) Infof(format string, args ...any) { l.entry().Infof(format, args...) }

// Warnf logs a formatted message at warn level with the component name attached.
func (l *Logger) Warnf(format string, args ...any) { l.entry().Warnf(format, args...) }

// Errorf logs a formatted message at error level with the component name attached.
func (l *Logger) Errorf(format string, args ...any) { l.entry().Errorf(format, args...) }

func (l *Logger) entry() *logrus.Entry {
	e := logrus.NewEntry(l.Logger)
	if l.name != "" {
		e = e.WithField("component", l.name)
	}
	return e
}

func openOutput(cfg LoggingConfig) io.Writer {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "raffle"
		}
		name := fmt.Sprintf("%s-%s.log", prefix, time.Now().UTC().Format("20060102"))
		f, err := os.OpenFile(filepath.Clean(name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return os.Stdout
		}
		return f
	default:
		return os.Stdout
	}
}
