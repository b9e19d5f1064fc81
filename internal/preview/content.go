package preview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doc-organiser/preview-gateway/internal/logging"
	"github.com/doc-organiser/preview-gateway/internal/metrics"
	"github.com/doc-organiser/preview-gateway/internal/models"
	"github.com/doc-organiser/preview-gateway/internal/parser"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrLoadFailed wraps every failure to fetch preview content.
var ErrLoadFailed = errors.New("preview load failed")

// ContentSource fetches document bytes and short-lived preview URLs.
type ContentSource interface {
	FetchContent(ctx context.Context, documentID string) ([]byte, error)
	FetchPreviewURL(ctx context.Context, documentID string) (string, error)
}

// Content is what a renderer needs for one document. Exactly one of URL,
// Text, HTML or Rows is set, depending on Type.
type Content struct {
	Type      PreviewType  `json:"type" msgpack:"type"`
	URL       string       `json:"url,omitempty" msgpack:"url,omitempty"`
	Text      string       `json:"text,omitempty" msgpack:"text,omitempty"`
	Language  string       `json:"language,omitempty" msgpack:"language,omitempty"`
	Highlight string       `json:"highlight,omitempty" msgpack:"highlight,omitempty"`
	HTML      string       `json:"html,omitempty" msgpack:"html,omitempty"`
	Rows      parser.Table `json:"rows,omitempty" msgpack:"rows,omitempty"`
	Width     int          `json:"width,omitempty" msgpack:"width,omitempty"`
}

// Service loads previews from a ContentSource.
type Service struct {
	source  ContentSource
	labeler *Labeler
	logger  *zap.Logger
}

// NewService creates a preview service. A nil labeler uses the built-in
// language table.
func NewService(source ContentSource, labeler *Labeler, logger *zap.Logger) *Service {
	if labeler == nil {
		labeler = defaultLabeler
	}
	return &Service{
		source:  source,
		labeler: labeler,
		logger:  logging.Component(logger, "preview"),
	}
}

// Labeler returns the labeler used for code previews.
func (s *Service) Labeler() *Labeler {
	return s.labeler
}

// Load performs one fetch attempt for doc. Text-based types fetch and
// decode the full body; every other type fetches a preview URL.
func (s *Service) Load(ctx context.Context, doc models.Document) (*Content, error) {
	start := time.Now()
	typ := Classify(doc.MimeType, doc.Name)

	content, err := s.load(ctx, typ, doc)
	metrics.ObservePreview(string(typ), start, err)

	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("preview load failed",
				zap.String("documentId", doc.ID),
				zap.String("type", string(typ)),
				zap.Error(err))
		}
		return nil, err
	}

	s.logger.Debug("preview loaded",
		zap.String("documentId", doc.ID),
		zap.String("type", string(typ)),
		zap.Duration("took", time.Since(start)))
	return content, nil
}

func (s *Service) load(ctx context.Context, typ PreviewType, doc models.Document) (*Content, error) {
	if !NeedsTextContent(typ) {
		url, err := s.source.FetchPreviewURL(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: fetching preview url: %w", ErrLoadFailed, err)
		}
		return &Content{Type: typ, URL: url}, nil
	}

	data, err := s.source.FetchContent(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching content: %w", ErrLoadFailed, err)
	}

	content, err := Render(typ, doc.Name, data, s.labeler)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	return content, nil
}

// Render builds the preview content for a text-based type from raw bytes.
func Render(typ PreviewType, fileName string, data []byte, labeler *Labeler) (*Content, error) {
	if !NeedsTextContent(typ) {
		return nil, fmt.Errorf("preview type %q is not rendered from text", typ)
	}
	if labeler == nil {
		labeler = defaultLabeler
	}

	text, err := DecodeText(data)
	if err != nil {
		return nil, err
	}

	content := &Content{Type: typ}
	switch typ {
	case TypeCSV:
		content.Rows = parser.ParseCSV(text)
		content.Width = content.Rows.Width()
	case TypeMarkdown:
		content.HTML = parser.RenderMarkdown(text)
	case TypeCode:
		content.Text = text
		content.Language = labeler.Label(fileName)
		content.Highlight = Highlight(fileName, data)
	}
	return content, nil
}

// DecodeText decodes data as UTF-8. A leading byte order mark is dropped
// and invalid sequences become U+FFFD.
func DecodeText(data []byte) (string, error) {
	out, _, err := transform.Bytes(unicode.UTF8BOM.NewDecoder(), data)
	if err != nil {
		return "", fmt.Errorf("decoding utf-8: %w", err)
	}
	return string(out), nil
}
