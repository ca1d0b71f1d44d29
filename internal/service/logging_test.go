package service

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func textLogger(buf *bytes.Buffer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(buf)
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return logger
}

func TestIsVerboseLogging(t *testing.T) {
	tests := []struct {
		name     string
		verbose  bool
		expected bool
	}{
		{
			name:     "verbose enabled",
			verbose:  true,
			expected: true,
		},
		{
			name:     "verbose disabled",
			verbose:  false,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithVerboseLogging(context.Background(), tt.verbose)
			assert.Equal(t, tt.expected, IsVerboseLogging(ctx))
		})
	}

	t.Run("no verbose in context", func(t *testing.T) {
		assert.False(t, IsVerboseLogging(context.Background()))
	})

	t.Run("untyped key is ignored", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), "verbose", true) //nolint:staticcheck
		assert.False(t, IsVerboseLogging(ctx))
	})
}

func TestSanitizeRecordKey(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{
			name:     "ulid key",
			key:      "01HZX3K9QAV7Y8M2N4P6R8T0W2",
			expected: "01HZX3K9QA...",
		},
		{
			name:     "short key",
			key:      "k001",
			expected: "k001",
		},
		{
			name:     "empty key",
			key:      "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeRecordKey(tt.key))
		})
	}
}

func TestSanitizeContent(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "short content",
			content:  "Hello",
			expected: "[hidden]",
		},
		{
			name:     "long content",
			content:  "This is a very long message that exceeds the maximum allowed length for logging purposes",
			expected: "[hidden]",
		},
		{
			name:     "empty content",
			content:  "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeContent(tt.content))
		})
	}
}

func TestLogWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := textLogger(&buf)

	entry := LogWithContext(WithVerboseLogging(context.Background(), true), logger)
	entry.Info("test message")

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "verbose=true")
}

func TestLogOutgoingMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := textLogger(&buf)

	LogOutgoingMessage(WithVerboseLogging(context.Background(), true), logger, "3_7", 3, "Hello world")

	output := buf.String()
	assert.Contains(t, output, "Sending message")
	assert.Contains(t, output, "room_id=3_7")
	assert.Contains(t, output, "from=3")
	assert.Contains(t, output, "content=\"Hello world\"")

	buf.Reset()
	LogOutgoingMessage(context.Background(), logger, "3_7", 3, "Hello world")

	output = buf.String()
	assert.Contains(t, output, "length=11")
	assert.Contains(t, output, "content=\"[hidden]\"")
	assert.NotContains(t, output, "Hello world")
}
