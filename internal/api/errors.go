// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/servo-bridge/backend/internal/models"
	"go.uber.org/zap"
)

// Error codes returned in APIError.Code
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeBadRequest        = "BAD_REQUEST"
	CodeChannelHeld       = "CHANNEL_HELD"
	CodeHardware          = "HARDWARE_ERROR"
	CodeDeviceUnavailable = "DEVICE_UNAVAILABLE"
	CodeInternal          = "INTERNAL_ERROR"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-" msgpack:"-"`
	Code    string `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
	Details string `json:"details,omitempty" msgpack:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error constructors for consistent error handling

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    CodeBadRequest,
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error
func NewValidationError(message string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    CodeValidation,
		Message: message,
	}
}

// NewConflictError creates a 409 error for a command refused by hold policy
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    CodeChannelHeld,
		Message: message,
	}
}

// NewHardwareError creates a 502 error for a write the device rejected
func NewHardwareError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadGateway,
		Code:    CodeHardware,
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 error for an absent device
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    CodeDeviceUnavailable,
		Message: message,
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternal,
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// FromError converts any error into an APIError. Command errors map by kind.
func FromError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var cerr *models.CommandError
	if errors.As(err, &cerr) {
		switch cerr.Kind {
		case models.ErrKindValidation:
			return NewValidationError(cerr.Message)
		case models.ErrKindChannelHeld:
			return NewConflictError(cerr.Message)
		case models.ErrKindHardwareRejected:
			return NewHardwareError(cerr.Message, cerr.Err)
		case models.ErrKindNotConnected:
			return NewServiceUnavailableError(cerr.Message)
		}
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		code := CodeBadRequest
		if httpErr.Code >= http.StatusInternalServerError {
			code = CodeInternal
		}
		return &APIError{
			Status:  httpErr.Code,
			Code:    code,
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	}

	return NewInternalError("An unexpected error occurred", err)
}

// ErrorHandler returns an Echo HTTPErrorHandler writing APIError bodies.
// Usage: e.HTTPErrorHandler = api.ErrorHandler(log)
func ErrorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		apiErr := FromError(err)
		if apiErr.Status >= http.StatusInternalServerError {
			log.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int("status", apiErr.Status),
				zap.Error(err))
		}

		if err := c.JSON(apiErr.Status, apiErr); err != nil {
			log.Debug("failed to write error response", zap.Error(err))
		}
	}
}

// RespondWithError is a helper to respond with an APIError
func RespondWithError(c echo.Context, err *APIError) error {
	return c.JSON(err.Status, err)
}
