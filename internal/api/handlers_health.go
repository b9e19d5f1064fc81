// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// UploadState reports whether an upload batch is running
type UploadState interface {
	Uploading() bool
}

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	uploads UploadState
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, uploads UploadState) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		uploads: uploads,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	uploading := false
	if h.uploads != nil {
		uploading = h.uploads.Uploading()
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"version":   h.version,
		"uploading": uploading,
	})
}
