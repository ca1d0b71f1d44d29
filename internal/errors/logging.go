package errors

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with structured error logging
type Logger struct {
	*logrus.Logger
}

// NewLogger creates a new structured logger
func NewLogger() *Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	return &Logger{Logger: logger}
}

// WrapLogger adds structured error logging to an existing logger. A nil
// logger gets a fresh one with default settings.
func WrapLogger(logger *logrus.Logger) *Logger {
	if logger == nil {
		logger = logrus.New()
	}
	return &Logger{Logger: logger}
}

// LogError logs an error with structured context
func (l *Logger) LogError(err error, message string, fields ...logrus.Fields) {
	l.entry(err, fields).Error(message)
}

// LogWarn logs a warning with structured context
func (l *Logger) LogWarn(err error, message string, fields ...logrus.Fields) {
	l.entry(err, fields).Warn(message)
}

// LogDebug logs an expected, silently handled failure
func (l *Logger) LogDebug(err error, message string, fields ...logrus.Fields) {
	l.entry(err, fields).Debug(message)
}

// LogRetryableError logs a retryable error at warn level, non-retryable at error level
func (l *Logger) LogRetryableError(err error, message string, fields ...logrus.Fields) {
	if IsRetryable(err) {
		l.LogWarn(err, message, fields...)
	} else {
		l.LogError(err, message, fields...)
	}
}

// WithContext adds context fields to subsequent log entries
func (l *Logger) WithContext(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// WithError adds an error to subsequent log entries
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.entry(err, nil)
}

func (l *Logger) entry(err error, fields []logrus.Fields) *logrus.Entry {
	entry := l.Logger.WithError(err)

	var appErr *AppError
	if errors.As(err, &appErr) {
		entry = entry.WithFields(logrus.Fields{
			"error_code": appErr.Code,
			"retryable":  appErr.Retryable,
		})

		if appErr.Context != nil {
			entry = entry.WithFields(logrus.Fields(appErr.Context))
		}
	}

	for _, field := range fields {
		entry = entry.WithFields(field)
	}
	return entry
}
