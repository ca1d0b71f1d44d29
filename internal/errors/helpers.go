package errors

import (
	"context"
	"fmt"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	traceIDKey   contextKey = "trace_id"
	roomIDKey    contextKey = "room_id"
)

// Common error creators for frequent use cases

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewReadError wraps a failed or cancelled page read. The caller may try the
// same read again later.
func NewReadError(path string, err error) *AppError {
	return WrapRetryable(err, ErrCodeBackendRead, "page read failed").
		WithContext("path", path)
}

// NewWriteError wraps a failed record write
func NewWriteError(path, key string, err error) *AppError {
	return Wrap(err, ErrCodeBackendWrite, "record write failed").
		WithContext("path", path).
		WithContext("key", key)
}

// NewKeyGenerationError wraps a failure to allocate a key for a new record
func NewKeyGenerationError(path string, err error) *AppError {
	return Wrap(err, ErrCodeKeyGeneration, "key generation failed").
		WithContext("path", path)
}

// NewDecodeError wraps a record that could not be parsed into a message
func NewDecodeError(key string, err error) *AppError {
	return Wrap(err, ErrCodeDecode, "record could not be decoded").
		WithContext("key", key)
}

// NewSubscriptionError wraps a failure to open a live child-added stream
func NewSubscriptionError(path, startAfter string, err error) *AppError {
	return Wrap(err, ErrCodeSubscription, "live subscription failed").
		WithContext("path", path).
		WithContext("start_after", startAfter)
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// Context helpers

// WithRoomID stores the room being worked on for error reporting
func WithRoomID(ctx context.Context, roomID string) context.Context {
	return context.WithValue(ctx, roomIDKey, roomID)
}

// FromContext extracts error context from a context.Context if present
func FromContext(ctx context.Context) map[string]interface{} {
	if ctx == nil {
		return nil
	}

	errorCtx := make(map[string]interface{})

	if requestID := ctx.Value(requestIDKey); requestID != nil {
		errorCtx["request_id"] = requestID
	}
	if traceID := ctx.Value(traceIDKey); traceID != nil {
		errorCtx["trace_id"] = traceID
	}
	if roomID := ctx.Value(roomIDKey); roomID != nil {
		errorCtx["room_id"] = roomID
	}

	return errorCtx
}

// WithContextFromRequest adds request context to an error
func WithContextFromRequest(err *AppError, ctx context.Context) *AppError {
	if err == nil || ctx == nil {
		return err
	}

	for k, v := range FromContext(ctx) {
		err = err.WithContext(k, v)
	}

	return err
}

// HTTP helpers

// HTTPStatusCode is the status a handler responds with for err
func HTTPStatusCode(err error) int {
	if appErr, ok := asAppError(err); ok {
		return appErr.Status()
	}
	return (&AppError{Code: GetCode(err)}).Status()
}

// HTTPErrorResponse is the JSON body written for failed requests
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	response.Error.Code = GetCode(err)
	response.Error.Message = GetUserMessage(err)
	if appErr, ok := asAppError(err); ok && len(appErr.Context) > 0 {
		publicContext := make(map[string]interface{})
		for k, v := range appErr.Context {
			if k != "secret" && k != "value" {
				publicContext[k] = v
			}
		}
		if len(publicContext) > 0 {
			response.Error.Context = publicContext
		}
	}

	return response
}
