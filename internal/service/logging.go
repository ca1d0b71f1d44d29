package service

import (
	"context"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// recordKeyPrefixLength is how much of a record key is kept in non-verbose logs.
const recordKeyPrefixLength = 10

// WithVerboseLogging marks ctx so that message content is logged in full.
func WithVerboseLogging(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// SanitizeRecordKey shortens record keys for privacy. The time component of a
// key is kept so log lines can still be correlated.
func SanitizeRecordKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) > recordKeyPrefixLength {
		return key[:recordKeyPrefixLength] + "..."
	}
	return key
}

// SanitizeContent completely hides message content for privacy
func SanitizeContent(content string) string {
	if content == "" {
		return ""
	}
	return "[hidden]"
}

// LogWithContext creates a logger entry with optional sensitive information
func LogWithContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	return logger.WithField("verbose", IsVerboseLogging(ctx))
}

// LogOutgoingMessage logs a message handed to a thread for sending. Content is
// only included when verbose logging is enabled.
func LogOutgoingMessage(ctx context.Context, logger *logrus.Logger, roomID string, myID int, text string) {
	fields := logrus.Fields{
		"room_id": roomID,
		"from":    myID,
		"length":  len(text),
	}
	if IsVerboseLogging(ctx) {
		fields["content"] = text
	} else {
		fields["content"] = SanitizeContent(text)
	}
	logger.WithFields(fields).Info("Sending message")
}
