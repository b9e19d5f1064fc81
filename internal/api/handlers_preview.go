// handlers_preview.go - Stateless preview handlers
package api

import (
	"net/http"

	"github.com/doc-organiser/preview-gateway/internal/models"
	"github.com/doc-organiser/preview-gateway/internal/parser"
	"github.com/doc-organiser/preview-gateway/internal/preview"
	"github.com/labstack/echo/v4"
)

// PreviewHandlerImpl implements the PreviewHandler interface
type PreviewHandlerImpl struct {
	docs     DocumentFetcher
	previews PreviewLoader
	maxBody  int64
}

// NewPreviewHandler creates a new preview handler. docs may be nil when
// metadata always comes from the query string.
func NewPreviewHandler(docs DocumentFetcher, previews PreviewLoader, maxBody int64) PreviewHandler {
	return &PreviewHandlerImpl{
		docs:     docs,
		previews: previews,
		maxBody:  maxBody,
	}
}

type classifyResponse struct {
	Type             preview.PreviewType `json:"type" msgpack:"type"`
	NeedsTextContent bool                `json:"needsTextContent" msgpack:"needsTextContent"`
	Language         string              `json:"language,omitempty" msgpack:"language,omitempty"`
}

// HandleClassify returns the preview type for a MIME type and file name
func (h *PreviewHandlerImpl) HandleClassify(c echo.Context) error {
	mimeType := c.QueryParam("mimeType")
	name := c.QueryParam("name")
	if mimeType == "" && name == "" {
		return NewValidationError("name")
	}

	typ := preview.Classify(mimeType, name)
	resp := classifyResponse{
		Type:             typ,
		NeedsTextContent: preview.NeedsTextContent(typ),
	}
	if typ == preview.TypeCode {
		resp.Language = h.labeler().Label(name)
	}
	return respond(c, http.StatusOK, resp)
}

// HandleRenderMarkdown compiles the request body to HTML
func (h *PreviewHandlerImpl) HandleRenderMarkdown(c echo.Context) error {
	text, err := readText(c, h.maxBody)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, map[string]string{
		"html": parser.RenderMarkdown(text),
	})
}

// HandleParseCSV tokenizes the request body into rows
func (h *PreviewHandlerImpl) HandleParseCSV(c echo.Context) error {
	text, err := readText(c, h.maxBody)
	if err != nil {
		return err
	}
	rows := parser.ParseCSV(text)
	return respond(c, http.StatusOK, map[string]interface{}{
		"rows":  rows,
		"width": rows.Width(),
	})
}

// HandleDocumentPreview performs one load of a stored document.
// GET /api/documents/:id/preview?mimeType=&name=
func (h *PreviewHandlerImpl) HandleDocumentPreview(c echo.Context) error {
	doc, err := resolveDocument(c, h.docs, c.Param("id"), c.QueryParam("name"), c.QueryParam("mimeType"))
	if err != nil {
		return err
	}

	content, err := h.previews.Load(c.Request().Context(), doc)
	if err != nil {
		return NewPreviewLoadFailedError(err)
	}
	return respond(c, http.StatusOK, content)
}

func (h *PreviewHandlerImpl) labeler() *preview.Labeler {
	if h.previews != nil {
		if l := h.previews.Labeler(); l != nil {
			return l
		}
	}
	return preview.NewLabeler(nil)
}

// resolveDocument builds the document to preview. Name and MIME type from
// the caller win; otherwise the document service is asked.
func resolveDocument(c echo.Context, docs DocumentFetcher, id, name, mimeType string) (models.Document, error) {
	if id == "" {
		return models.Document{}, NewValidationError("documentId")
	}
	if name != "" && mimeType != "" {
		return models.Document{ID: id, Name: name, MimeType: mimeType}, nil
	}
	if docs == nil {
		return models.Document{}, NewValidationError("mimeType")
	}

	doc, err := docs.GetDocument(c.Request().Context(), id)
	if err != nil {
		if apiErr := toAPIError(err); apiErr != nil {
			return models.Document{}, apiErr
		}
		return models.Document{}, NewBadGatewayError("failed to fetch document metadata", err)
	}
	return *doc, nil
}
