// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/doc-organiser/preview-gateway/internal/docapi"
	"github.com/doc-organiser/preview-gateway/internal/preview"
	"github.com/doc-organiser/preview-gateway/internal/session"
	"github.com/doc-organiser/preview-gateway/internal/storage"
	"github.com/doc-organiser/preview-gateway/internal/upload"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int      `json:"-"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details string   `json:"details,omitempty"`
	Actions []string `json:"actions,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewBadGatewayError creates a 502 for failures of the document backend
func NewBadGatewayError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadGateway,
		Code:    "BAD_GATEWAY",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewPreviewLoadFailedError creates the 502 a viewer gets when content could
// not be fetched. It carries the actions the viewer should offer.
func NewPreviewLoadFailedError(cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadGateway,
		Code:    "PREVIEW_LOAD_FAILED",
		Message: "Failed to load preview",
		Actions: []string{preview.ActionRetry, preview.ActionDownload},
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
	}
}

// toAPIError maps domain errors onto the API taxonomy. Unknown errors come
// back as nil.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var statusErr *docapi.StatusError
	switch {
	case errors.Is(err, preview.ErrLoadFailed):
		return NewPreviewLoadFailedError(err)
	case errors.Is(err, session.ErrSessionNotFound):
		return &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: err.Error()}
	case errors.Is(err, upload.ErrItemNotFound), errors.Is(err, storage.ErrFileNotFound):
		return &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: err.Error()}
	case errors.Is(err, upload.ErrInvalidResolution):
		return NewBadRequestError(err.Error(), nil)
	case errors.Is(err, upload.ErrNoPendingConflict),
		errors.Is(err, upload.ErrBatchInProgress),
		errors.Is(err, upload.ErrItemNotPending),
		errors.Is(err, preview.ErrNoDocument):
		return NewConflictError(err.Error())
	case errors.As(err, &statusErr):
		if statusErr.Status == http.StatusNotFound {
			return &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: statusErr.Message}
		}
		return NewBadGatewayError("document service request failed", err)
	}
	return nil
}

// NewErrorHandler returns the echo error handler. Unexpected errors are
// logged; their text is only exposed when debug is set.
// Usage: e.HTTPErrorHandler = api.NewErrorHandler(logger, debug)
func NewErrorHandler(logger *zap.Logger, debug bool) echo.HTTPErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		apiErr := toAPIError(err)
		if apiErr == nil {
			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				apiErr = &APIError{
					Status:  httpErr.Code,
					Code:    "HTTP_ERROR",
					Message: fmt.Sprintf("%v", httpErr.Message),
				}
			} else {
				logger.Error("unhandled request error",
					zap.String("method", c.Request().Method),
					zap.String("path", c.Path()),
					zap.Error(err))
				apiErr = &APIError{
					Status:  http.StatusInternalServerError,
					Code:    "UNKNOWN_ERROR",
					Message: "An unexpected error occurred",
				}
				if debug {
					apiErr.Details = err.Error()
				}
			}
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(apiErr.Status)
			return
		}
		_ = c.JSON(apiErr.Status, apiErr)
	}
}

// RespondWithError is a helper to respond with an APIError
func RespondWithError(c echo.Context, err *APIError) error {
	return c.JSON(err.Status, err)
}
