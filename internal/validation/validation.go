package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"chatthread/internal/constants"
	"chatthread/internal/errors"
)

// ValidateMessageText checks a message body before it is written to a room.
func ValidateMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.NewValidationError("text", text, "message text must not be empty")
	}

	if !utf8.ValidString(text) {
		return errors.NewValidationError("text", "", "message text must be valid UTF-8")
	}

	if n := utf8.RuneCountInString(text); n > constants.MaxMessageTextRunes {
		return errors.NewValidationError("text", "",
			fmt.Sprintf("message text too long: %d characters (max %d)", n, constants.MaxMessageTextRunes))
	}

	// NUL bytes are rejected by some stores and break log output
	if strings.ContainsRune(text, '\x00') {
		return errors.NewValidationError("text", "", "message text contains invalid characters")
	}

	return nil
}

// ValidatePageSize validates the number of records fetched per history page
func ValidatePageSize(size int) error {
	return ValidateNumericRange(size, "page size", 1, constants.MaxPageSize)
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}

	if timeoutSec > constants.MaxTimeoutSec {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d seconds)", fieldName, constants.MaxTimeoutSec))
	}

	return nil
}
