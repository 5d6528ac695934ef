// Package logger provides structured logging configuration for the access service
// with support for different log levels, formats, and output destinations.
package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

type correlationIDKey struct{}

// New creates a new configured logrus logger instance with the specified
// log level, format, and output destination.
func New(level, format, output string) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(parseLevel(level))
	logger.SetFormatter(newFormatter(format))

	switch strings.ToLower(output) {
	case "stdout", "":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		file, err := openLogFile(output)
		if err != nil {
			logger.SetOutput(os.Stdout)
			logger.WithError(err).Warn("Failed to open log file, using stdout")
			return logger
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, file))
	}

	return logger
}

// NewWithConfig builds a logger from the service logging configuration.
// When dual output is enabled the console receives ConsoleFormat while the
// file at FilePath receives FileFormat; otherwise it behaves like New.
func NewWithConfig(cfg *config.LoggingConfig) *logrus.Logger {
	if !cfg.EnableDualOutput || cfg.FilePath == "" {
		return New(cfg.Level, cfg.Format, cfg.Output)
	}

	logger := logrus.New()
	logger.SetLevel(parseLevel(cfg.Level))
	logger.SetFormatter(newFormatter(cfg.ConsoleFormat))
	logger.SetOutput(os.Stdout)

	file, err := openLogFile(cfg.FilePath)
	if err != nil {
		logger.WithError(err).Warn("Failed to open log file, console output only")
		return logger
	}

	logger.AddHook(&fileHook{
		writer:    file,
		formatter: newFormatter(cfg.FileFormat),
		levels:    logrus.AllLevels[:logger.GetLevel()+1],
	})

	return logger
}

// SetCorrelationID returns a copy of ctx carrying the given correlation ID.
func SetCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

// GetCorrelationID returns the correlation ID stored in ctx, or "" if none.
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID returns a log entry tagged with the correlation ID from ctx.
func WithCorrelationID(ctx context.Context, log *logrus.Logger) *logrus.Entry {
	entry := logrus.NewEntry(log)
	if id := GetCorrelationID(ctx); id != "" {
		entry = entry.WithField("correlation_id", id)
	}
	return entry
}

func parseLevel(level string) logrus.Level {
	logLevel, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return logLevel
}

func newFormatter(format string) logrus.Formatter {
	switch strings.ToLower(format) {
	case "text":
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		}
	default:
		return &logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		}
	}
}

func openLogFile(path string) (*os.File, error) {
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return nil, os.ErrPermission
	}

	// #nosec G304 -- Path is validated and cleaned above to prevent traversal attacks
	return os.OpenFile(cleanPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}

// fileHook mirrors every entry to a file using its own formatter.
type fileHook struct {
	writer    io.Writer
	formatter logrus.Formatter
	levels    []logrus.Level
}

func (h *fileHook) Levels() []logrus.Level {
	return h.levels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(line)
	return err
}
