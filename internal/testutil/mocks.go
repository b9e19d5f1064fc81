// Package testutil holds testify mocks for the gateway's collaborators.
package testutil

import (
	"context"

	"github.com/doc-organiser/preview-gateway/internal/invalidate"
	"github.com/doc-organiser/preview-gateway/internal/models"
	"github.com/doc-organiser/preview-gateway/internal/preview"
	"github.com/doc-organiser/preview-gateway/internal/upload"
	"github.com/stretchr/testify/mock"
)

// MockContentSource implements preview.ContentSource
type MockContentSource struct {
	mock.Mock
}

func (m *MockContentSource) FetchContent(ctx context.Context, documentID string) ([]byte, error) {
	args := m.Called(ctx, documentID)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockContentSource) FetchPreviewURL(ctx context.Context, documentID string) (string, error) {
	args := m.Called(ctx, documentID)
	return args.String(0), args.Error(1)
}

// MockDocumentFetcher looks up document metadata
type MockDocumentFetcher struct {
	mock.Mock
}

func (m *MockDocumentFetcher) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	args := m.Called(ctx, id)
	doc, _ := args.Get(0).(*models.Document)
	return doc, args.Error(1)
}

// MockPreviewLoader performs single preview loads
type MockPreviewLoader struct {
	mock.Mock
}

func (m *MockPreviewLoader) Load(ctx context.Context, doc models.Document) (*preview.Content, error) {
	args := m.Called(ctx, doc)
	content, _ := args.Get(0).(*preview.Content)
	return content, args.Error(1)
}

// Labeler returns the built-in labeler; it is not recorded.
func (m *MockPreviewLoader) Labeler() *preview.Labeler {
	return preview.NewLabeler(nil)
}

// MockUploader implements upload.Uploader. Progress callbacks are not
// invoked; tests that need them script the callback via Run.
type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) Upload(ctx context.Context, req upload.Request, onProgress func(percent int)) (*models.Document, error) {
	args := m.Called(ctx, req, onProgress)
	doc, _ := args.Get(0).(*models.Document)
	return doc, args.Error(1)
}

// MockInvalidator implements invalidate.Invalidator
type MockInvalidator struct {
	mock.Mock
}

func (m *MockInvalidator) Invalidate(ctx context.Context, collections ...invalidate.Collection) error {
	args := m.Called(ctx, collections)
	return args.Error(0)
}

var (
	_ preview.ContentSource  = (*MockContentSource)(nil)
	_ upload.Uploader        = (*MockUploader)(nil)
	_ invalidate.Invalidator = (*MockInvalidator)(nil)
)
