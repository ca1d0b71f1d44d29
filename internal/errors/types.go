package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies a failure for logs and HTTP responses
type ErrorCode string

const (
	// Request and configuration problems
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeTimeout          ErrorCode = "TIMEOUT"

	// Cursor persistence
	ErrCodeDatabaseQuery ErrorCode = "DATABASE_QUERY"

	// Realtime store
	ErrCodeBackendRead   ErrorCode = "BACKEND_READ"
	ErrCodeBackendWrite  ErrorCode = "BACKEND_WRITE"
	ErrCodeKeyGeneration ErrorCode = "KEY_GENERATION"
	ErrCodeSubscription  ErrorCode = "SUBSCRIPTION"
	ErrCodeDecode        ErrorCode = "DECODE"

	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

const defaultUserMessage = "An internal error occurred"

// surface is how a code shows up to HTTP clients. retryStatus, when set, is
// used instead of status for retryable errors.
type surface struct {
	status      int
	retryStatus int
	userMessage string
}

var surfaces = map[ErrorCode]surface{
	ErrCodeInvalidConfig:    {status: http.StatusBadRequest, userMessage: "Configuration error"},
	ErrCodeInvalidInput:     {status: http.StatusBadRequest, userMessage: "Invalid request"},
	ErrCodeValidationFailed: {status: http.StatusBadRequest, userMessage: "Invalid request"},
	ErrCodeNotFound:         {status: http.StatusNotFound, userMessage: "Not found"},
	ErrCodeTimeout:          {status: http.StatusRequestTimeout, userMessage: "Request timed out"},
	ErrCodeDatabaseQuery:    {status: http.StatusServiceUnavailable, userMessage: "Database operation failed"},
	ErrCodeBackendRead: {
		status:      http.StatusInternalServerError,
		retryStatus: http.StatusBadGateway,
		userMessage: "Message history is unavailable",
	},
	ErrCodeBackendWrite: {
		status:      http.StatusInternalServerError,
		retryStatus: http.StatusBadGateway,
		userMessage: "Message could not be sent",
	},
	ErrCodeSubscription: {
		status:      http.StatusInternalServerError,
		retryStatus: http.StatusBadGateway,
		userMessage: "Live updates are unavailable",
	},
	ErrCodeKeyGeneration: {status: http.StatusInternalServerError, userMessage: "Message could not be sent"},
	ErrCodeDecode:        {status: http.StatusInternalServerError, userMessage: "Message could not be read"},
}

// AppError is a classified failure carrying the fields that are logged with it
type AppError struct {
	Code        ErrorCode              `json:"code"`
	Message     string                 `json:"message"`
	Cause       error                  `json:"-"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Retryable   bool                   `json:"retryable"`
	UserMessage string                 `json:"user_message,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Status is the HTTP status the error is reported with
func (e *AppError) Status() int {
	s, ok := surfaces[e.Code]
	if !ok {
		return http.StatusInternalServerError
	}
	if e.Retryable && s.retryStatus != 0 {
		return s.retryStatus
	}
	return s.status
}

// PublicMessage is the text a client may see. It never includes the cause.
func (e *AppError) PublicMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	if s, ok := surfaces[e.Code]; ok {
		return s.userMessage
	}
	return defaultUserMessage
}

// WithContext attaches a field that is logged with the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithUserMessage overrides the code's default client-facing text
func (e *AppError) WithUserMessage(msg string) *AppError {
	e.UserMessage = msg
	return e
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap classifies err under code
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Cause: err}
}

// WrapRetryable classifies err under code and marks the operation as safe to
// try again
func WrapRetryable(err error, code ErrorCode, message string) *AppError {
	appErr := Wrap(err, code, message)
	appErr.Retryable = true
	return appErr
}

func asAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func IsRetryable(err error) bool {
	appErr, ok := asAppError(err)
	return ok && appErr.Retryable
}

// GetCode returns the code of the outermost AppError in err's chain. A bare
// deadline error is a timeout; anything else unclassified is internal.
func GetCode(err error) ErrorCode {
	if appErr, ok := asAppError(err); ok {
		return appErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeout
	}
	return ErrCodeInternalError
}

// GetUserMessage returns the client-facing text for err
func GetUserMessage(err error) string {
	if appErr, ok := asAppError(err); ok {
		return appErr.PublicMessage()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return surfaces[ErrCodeTimeout].userMessage
	}
	return defaultUserMessage
}
