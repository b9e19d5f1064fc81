// handlers_session.go - Preview session handlers
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/doc-organiser/preview-gateway/internal/models"
	"github.com/labstack/echo/v4"
)

// maxSessionWait caps how long ?wait=true holds a request open.
const maxSessionWait = 30 * time.Second

// SessionHandlerImpl implements the SessionHandler interface
type SessionHandlerImpl struct {
	sessions SessionManager
	docs     DocumentFetcher
}

// NewSessionHandler creates a new session handler instance
func NewSessionHandler(sessions SessionManager, docs DocumentFetcher) SessionHandler {
	return &SessionHandlerImpl{
		sessions: sessions,
		docs:     docs,
	}
}

type openDocumentRequest struct {
	DocumentID string `json:"documentId"`
	Name       string `json:"name"`
	MimeType   string `json:"mimeType"`
}

// HandleCreateSession opens a viewer. With a documentId it starts loading
// straight away; without one the session starts idle.
func (h *SessionHandlerImpl) HandleCreateSession(c echo.Context) error {
	var req openDocumentRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	var doc *models.Document
	if req.DocumentID != "" {
		d, err := resolveDocument(c, h.docs, req.DocumentID, req.Name, req.MimeType)
		if err != nil {
			return err
		}
		doc = &d
	}

	info := h.sessions.Create(doc)
	return c.JSON(http.StatusCreated, info)
}

// HandleGetSession returns the session state. ?wait=true blocks until the
// running load settles.
func (h *SessionHandlerImpl) HandleGetSession(c echo.Context) error {
	id := c.Param("id")

	if wait, _ := strconv.ParseBool(c.QueryParam("wait")); wait {
		ctx, cancel := context.WithTimeout(c.Request().Context(), maxSessionWait)
		defer cancel()
		info, err := h.sessions.Wait(ctx, id)
		if err != nil && ctx.Err() == nil {
			return err
		}
		return respond(c, http.StatusOK, info)
	}

	info, ok := h.sessions.Get(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	return respond(c, http.StatusOK, info)
}

// HandleOpenDocument switches the session to another document
func (h *SessionHandlerImpl) HandleOpenDocument(c echo.Context) error {
	id := c.Param("id")

	var req openDocumentRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	doc, err := resolveDocument(c, h.docs, req.DocumentID, req.Name, req.MimeType)
	if err != nil {
		return err
	}

	info, err := h.sessions.Open(id, doc)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, info)
}

// HandleRetry starts a fresh load of the open document
func (h *SessionHandlerImpl) HandleRetry(c echo.Context) error {
	info, err := h.sessions.Retry(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, info)
}

// HandleCloseSession ends a session
func (h *SessionHandlerImpl) HandleCloseSession(c echo.Context) error {
	id := c.Param("id")
	if !h.sessions.Close(id) {
		return NewNotFoundError("session", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleSessionKeepAlive keeps the session from being cleaned up
func (h *SessionHandlerImpl) HandleSessionKeepAlive(c echo.Context) error {
	id := c.Param("id")
	if !h.sessions.Touch(id) {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok": true,
	})
}
