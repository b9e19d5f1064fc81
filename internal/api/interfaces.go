// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"
	"io"

	"github.com/doc-organiser/preview-gateway/internal/models"
	"github.com/doc-organiser/preview-gateway/internal/preview"
	"github.com/doc-organiser/preview-gateway/internal/session"
	"github.com/doc-organiser/preview-gateway/internal/storage"
	"github.com/doc-organiser/preview-gateway/internal/upload"
	"github.com/labstack/echo/v4"
)

// PreviewHandler handles stateless preview operations
type PreviewHandler interface {
	HandleClassify(c echo.Context) error
	HandleRenderMarkdown(c echo.Context) error
	HandleParseCSV(c echo.Context) error
	HandleDocumentPreview(c echo.Context) error
}

// SessionHandler handles preview sessions
type SessionHandler interface {
	HandleCreateSession(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleOpenDocument(c echo.Context) error
	HandleRetry(c echo.Context) error
	HandleCloseSession(c echo.Context) error
	HandleSessionKeepAlive(c echo.Context) error
}

// UploadHandler handles the upload queue
type UploadHandler interface {
	HandleUploadFiles(c echo.Context) error
	HandleUploadChunk(c echo.Context) error
	HandleCompleteUpload(c echo.Context) error
	HandleListUploads(c echo.Context) error
	HandleGetConflict(c echo.Context) error
	HandleResolveConflict(c echo.Context) error
	HandleRemoveUpload(c echo.Context) error
	HandleClearCompleted(c echo.Context) error
	HandleClearAll(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// UploadStreamHandler streams queue events over a websocket
type UploadStreamHandler interface {
	HandleWebSocket(c echo.Context) error
}

// DocumentFetcher looks up document metadata.
// This allows mocking in tests
type DocumentFetcher interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
}

// PreviewLoader performs single preview loads
type PreviewLoader interface {
	Load(ctx context.Context, doc models.Document) (*preview.Content, error)
	Labeler() *preview.Labeler
}

// SessionManager defines the interface for preview session management
type SessionManager interface {
	Create(doc *models.Document) session.Info
	Get(id string) (session.Info, bool)
	Open(id string, doc models.Document) (session.Info, error)
	Retry(id string) (session.Info, error)
	Wait(ctx context.Context, id string) (session.Info, error)
	Touch(id string) bool
	Close(id string) bool
}

// UploadQueue is the part of the upload coordinator the API drives
type UploadQueue interface {
	StartBatch(files []upload.Source, folderID string) []string
	RunBatch(ctx context.Context, ids []string) []models.UploadItem
	Snapshot() []models.UploadItem
	Uploading() bool
	PendingConflict() (upload.Conflict, bool)
	Resolve(conflictID string, resolution models.ConflictResolution) error
	Remove(id string) error
	ClearCompleted() int
	ClearAll() error
	Subscribe() (<-chan upload.Event, func())
}

// Stager keeps posted files on disk until they join a batch
type Stager interface {
	Save(name string, r io.Reader) (*models.FileInfo, error)
	SaveChunk(uploadID string, chunkIndex int, r io.Reader) error
	CompleteChunkedUpload(uploadID, name string, totalChunks int, encoding string) (*models.FileInfo, error)
	Stage(id string) (*storage.StagedFile, error)
}
