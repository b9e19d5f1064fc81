// handlers_upload.go - Upload queue handlers
package api

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/doc-organiser/preview-gateway/internal/logging"
	"github.com/doc-organiser/preview-gateway/internal/models"
	"github.com/doc-organiser/preview-gateway/internal/storage"
	"github.com/doc-organiser/preview-gateway/internal/upload"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	queue  UploadQueue
	stager Stager
	// batches drain under ctx, so shutdown interrupts them
	ctx    context.Context
	logger *zap.Logger
}

// NewUploadHandler creates a new upload handler instance
func NewUploadHandler(ctx context.Context, queue UploadQueue, stager Stager, logger *zap.Logger) UploadHandler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &UploadHandlerImpl{
		queue:  queue,
		stager: stager,
		ctx:    ctx,
		logger: logging.Component(logger, "upload-api"),
	}
}

// HandleUploadFiles stages multipart files and starts a batch.
// POST /api/uploads (files[], folderId)
func (h *UploadHandlerImpl) HandleUploadFiles(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return NewBadRequestError("invalid multipart form", err)
	}

	headers := form.File["files[]"]
	if len(headers) == 0 {
		headers = form.File["files"]
	}
	if len(headers) == 0 {
		return NewValidationError("files")
	}

	sources := make([]upload.Source, 0, len(headers))
	for _, fh := range headers {
		staged, err := h.stageHeader(fh)
		if err != nil {
			h.releaseAll(sources)
			return NewInternalError(fmt.Sprintf("failed to stage %s", fh.Filename), err)
		}
		sources = append(sources, staged)
	}

	ids := h.startBatch(sources, c.FormValue("folderId"))
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"itemIds": ids,
	})
}

func (h *UploadHandlerImpl) stageHeader(fh *multipart.FileHeader) (*storage.StagedFile, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	info, err := h.stager.Save(fh.Filename, src)
	if err != nil {
		return nil, err
	}
	return h.stager.Stage(info.ID)
}

func (h *UploadHandlerImpl) releaseAll(sources []upload.Source) {
	for _, s := range sources {
		if r, ok := s.(upload.Releaser); ok {
			if err := r.Release(); err != nil {
				h.logger.Warn("failed to release staged file", zap.String("file", s.Name()), zap.Error(err))
			}
		}
	}
}

// startBatch enqueues sources and drains them in the background. The batch
// is already running when the ids are returned.
func (h *UploadHandlerImpl) startBatch(sources []upload.Source, folderID string) []string {
	ids := h.queue.StartBatch(sources, folderID)
	h.logger.Info("upload batch accepted", zap.Int("items", len(ids)), zap.String("folderId", folderID))
	go h.queue.RunBatch(h.ctx, ids)
	return ids
}

// HandleUploadChunk stores one chunk of a chunked upload.
// POST /api/uploads/chunk (multipart: file, uploadId, chunkIndex)
func (h *UploadHandlerImpl) HandleUploadChunk(c echo.Context) error {
	uploadID := c.FormValue("uploadId")
	if uploadID == "" {
		return NewValidationError("uploadId")
	}
	chunkIndex, err := strconv.Atoi(c.FormValue("chunkIndex"))
	if err != nil || chunkIndex < 0 {
		return NewValidationError("chunkIndex")
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no chunk provided", err)
	}
	src, err := fh.Open()
	if err != nil {
		return NewInternalError("failed to open chunk", err)
	}
	defer src.Close()

	if err := h.stager.SaveChunk(uploadID, chunkIndex, src); err != nil {
		return NewInternalError("failed to save chunk", err)
	}
	return c.NoContent(http.StatusAccepted)
}

type completeUploadRequest struct {
	UploadID    string `json:"uploadId"`
	Name        string `json:"name"`
	TotalChunks int    `json:"totalChunks"`
	Encoding    string `json:"encoding"`
	FolderID    string `json:"folderId"`
}

func (r *completeUploadRequest) validate() error {
	if r.UploadID == "" {
		return NewValidationError("uploadId")
	}
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.TotalChunks <= 0 {
		return NewValidationError("totalChunks")
	}
	switch r.Encoding {
	case storage.EncodingNone, storage.EncodingGzip:
	default:
		return NewValidationError("encoding")
	}
	return nil
}

// HandleCompleteUpload joins the chunks and queues the file
func (h *UploadHandlerImpl) HandleCompleteUpload(c echo.Context) error {
	var req completeUploadRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	info, err := h.stager.CompleteChunkedUpload(req.UploadID, req.Name, req.TotalChunks, req.Encoding)
	if err != nil {
		return NewBadRequestError("failed to assemble upload", err)
	}
	staged, err := h.stager.Stage(info.ID)
	if err != nil {
		return NewInternalError("failed to queue file", err)
	}

	ids := h.startBatch([]upload.Source{staged}, req.FolderID)
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"itemIds": ids,
	})
}

type queueResponse struct {
	Items     []models.UploadItem `json:"items"`
	Uploading bool                `json:"uploading"`
	Conflict  *upload.Conflict    `json:"conflict,omitempty"`
}

func queueSnapshot(q UploadQueue) queueResponse {
	resp := queueResponse{
		Items:     q.Snapshot(),
		Uploading: q.Uploading(),
	}
	if c, ok := q.PendingConflict(); ok {
		resp.Conflict = &c
	}
	return resp
}

// HandleListUploads returns every item plus the batch flag and any
// pending conflict
func (h *UploadHandlerImpl) HandleListUploads(c echo.Context) error {
	return c.JSON(http.StatusOK, queueSnapshot(h.queue))
}

// HandleGetConflict returns the conflict the running batch waits on
func (h *UploadHandlerImpl) HandleGetConflict(c echo.Context) error {
	conflict, ok := h.queue.PendingConflict()
	if !ok {
		return &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "no pending conflict"}
	}
	return c.JSON(http.StatusOK, conflict)
}

type resolveConflictRequest struct {
	ConflictID string                    `json:"conflictId"`
	Resolution models.ConflictResolution `json:"resolution"`
}

// HandleResolveConflict answers the pending conflict
func (h *UploadHandlerImpl) HandleResolveConflict(c echo.Context) error {
	var req resolveConflictRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.ConflictID == "" {
		return NewValidationError("conflictId")
	}
	if !req.Resolution.Valid() {
		return NewValidationError("resolution")
	}

	if err := h.queue.Resolve(req.ConflictID, req.Resolution); err != nil {
		if errors.Is(err, upload.ErrNoPendingConflict) {
			return NewConflictError("conflict is no longer pending")
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleRemoveUpload drops a pending item
func (h *UploadHandlerImpl) HandleRemoveUpload(c echo.Context) error {
	id := c.Param("id")
	if err := h.queue.Remove(id); err != nil {
		if errors.Is(err, upload.ErrItemNotFound) {
			return NewNotFoundError("upload item", id)
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleClearCompleted drops completed items
func (h *UploadHandlerImpl) HandleClearCompleted(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"removed": h.queue.ClearCompleted(),
	})
}

// HandleClearAll drops every item unless a batch is running
func (h *UploadHandlerImpl) HandleClearAll(c echo.Context) error {
	if err := h.queue.ClearAll(); err != nil {
		if errors.Is(err, upload.ErrBatchInProgress) {
			return NewConflictError("an upload batch is in progress")
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
