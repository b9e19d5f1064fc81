// handlers.go - Shared helpers for the HTTP handlers
package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/doc-organiser/preview-gateway/internal/preview"
	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// MIMEApplicationMsgpack is offered as an alternative to JSON for preview
// payloads, which can carry large tables.
const MIMEApplicationMsgpack = "application/msgpack"

// DefaultMaxTextBody bounds the text accepted by the render endpoints.
const DefaultMaxTextBody int64 = 10 << 20

// wantsMsgpack reports whether the client asked for msgpack.
func wantsMsgpack(c echo.Context) bool {
	return strings.Contains(c.Request().Header.Get(echo.HeaderAccept), MIMEApplicationMsgpack)
}

// respond writes v as msgpack when negotiated and as JSON otherwise.
func respond(c echo.Context, status int, v interface{}) error {
	if !wantsMsgpack(c) {
		return c.JSON(status, v)
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(status, MIMEApplicationMsgpack, data)
}

// readText reads the request body as UTF-8 text, refusing more than limit
// bytes.
func readText(c echo.Context, limit int64) (string, error) {
	if limit <= 0 {
		limit = DefaultMaxTextBody
	}
	body := c.Request().Body
	if body == nil {
		return "", nil
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return "", NewBadRequestError("failed to read body", err)
	}
	if int64(len(data)) > limit {
		return "", &APIError{
			Status:  http.StatusRequestEntityTooLarge,
			Code:    "PAYLOAD_TOO_LARGE",
			Message: fmt.Sprintf("body exceeds %d bytes", limit),
		}
	}
	text, err := preview.DecodeText(data)
	if err != nil {
		return "", NewBadRequestError("body is not valid text", err)
	}
	return text, nil
}
