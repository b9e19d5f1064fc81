// Package upload drains batches of files against the document API one at a
// time, pausing on name conflicts until a resolution arrives.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/doc-organiser/preview-gateway/internal/invalidate"
	"github.com/doc-organiser/preview-gateway/internal/logging"
	"github.com/doc-organiser/preview-gateway/internal/metrics"
	"github.com/doc-organiser/preview-gateway/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrConflict is what an Uploader returns (wrapped) when the target
	// folder already holds a file with the same name.
	ErrConflict = errors.New("file already exists")

	ErrNoPendingConflict = errors.New("no pending conflict")
	ErrInvalidResolution = errors.New("invalid conflict resolution")
	ErrBatchInProgress   = errors.New("upload batch in progress")
	ErrItemNotFound      = errors.New("upload item not found")
	ErrItemNotPending    = errors.New("upload item is not pending")
)

// Terminal messages recorded on items.
const (
	SkipMessage        = "Skipped – file already exists"
	InterruptedMessage = "Upload interrupted"
)

// Source is a file waiting to be uploaded.
type Source interface {
	Name() string
	Size() int64
	Open() (io.ReadCloser, error)
}

// Releaser is implemented by sources holding resources that can be freed
// once their item is terminal.
type Releaser interface {
	Release() error
}

// Request describes one upload call.
type Request struct {
	File      Source
	FileName  string
	FolderID  string
	Overwrite bool
}

// Uploader sends a file to the document API. onProgress receives whole
// percentages.
type Uploader interface {
	Upload(ctx context.Context, req Request, onProgress func(percent int)) (*models.Document, error)
}

type entry struct {
	item models.UploadItem
	file Source
}

// Queue owns the upload items. It is the only writer of their status and
// progress; everyone else reads snapshots or subscribes to events.
type Queue struct {
	uploader    Uploader
	invalidator invalidate.Invalidator
	logger      *zap.Logger

	mu       sync.Mutex
	items    []*entry
	index    map[string]*entry
	batches  int
	conflict *pendingConflict

	// drain serializes batches so at most one conflict slot is ever live.
	drain sync.Mutex

	events
}

// NewQueue creates an empty queue. A nil invalidator is replaced by
// invalidate.Nop.
func NewQueue(uploader Uploader, invalidator invalidate.Invalidator, logger *zap.Logger) *Queue {
	if invalidator == nil {
		invalidator = invalidate.Nop{}
	}
	return &Queue{
		uploader:    uploader,
		invalidator: invalidator,
		logger:      logging.Component(logger, "upload"),
		index:       make(map[string]*entry),
	}
}

// Enqueue adds files as pending items and returns their ids in order.
func (q *Queue) Enqueue(files []Source, folderID string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueueLocked(files, folderID)
}

// StartBatch enqueues files and marks a batch as running under one lock
// hold, so the pending items are never visible without the uploading flag
// and ClearAll cannot drop them. The ids must be passed to RunBatch.
func (q *Queue) StartBatch(files []Source, folderID string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := q.enqueueLocked(files, folderID)
	q.addBatchLocked(+1)
	return ids
}

func (q *Queue) enqueueLocked(files []Source, folderID string) []string {
	ids := make([]string, 0, len(files))
	for _, f := range files {
		e := &entry{
			item: models.UploadItem{
				ID:        uuid.New().String(),
				FileName:  f.Name(),
				Size:      f.Size(),
				Status:    models.UploadStatusPending,
				FolderID:  folderID,
				CreatedAt: time.Now(),
			},
			file: f,
		}
		q.items = append(q.items, e)
		q.index[e.item.ID] = e
		ids = append(ids, e.item.ID)
		q.publishItemLocked(e)
	}
	return ids
}

// UploadFiles enqueues files and drains them. It returns the terminal state
// of every item.
func (q *Queue) UploadFiles(ctx context.Context, files []Source, folderID string) []models.UploadItem {
	return q.RunBatch(ctx, q.StartBatch(files, folderID))
}

// Drain uploads items added with Enqueue. See RunBatch.
func (q *Queue) Drain(ctx context.Context, ids []string) []models.UploadItem {
	q.setBatch(+1)
	return q.RunBatch(ctx, ids)
}

// RunBatch uploads the items of a batch opened by StartBatch strictly in
// order and closes the batch when done. It waits for any running batch
// first. Once every item is terminal the read caches are invalidated
// exactly once. If ctx ends, the items not yet finished are marked as
// errors and invalidation still runs.
func (q *Queue) RunBatch(ctx context.Context, ids []string) []models.UploadItem {
	defer q.setBatch(-1)

	q.drain.Lock()
	defer q.drain.Unlock()

	start := time.Now()
	q.logger.Info("upload batch started", zap.Int("items", len(ids)))

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			q.abort(ids[i:], err)
			break
		}
		q.process(ctx, id)
	}

	err := q.invalidator.Invalidate(context.WithoutCancel(ctx), invalidate.AfterUpload...)
	metrics.ObserveInvalidation(err)
	if err != nil {
		q.logger.Warn("cache invalidation failed", zap.Error(err))
	}

	metrics.UploadBatchDuration.Observe(time.Since(start).Seconds())
	q.logger.Info("upload batch finished",
		zap.Int("items", len(ids)),
		zap.Duration("took", time.Since(start)))

	return q.snapshotOf(ids)
}

// Uploading reports whether a batch is draining or waiting to drain.
func (q *Queue) Uploading() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.batches > 0
}

func (q *Queue) setBatch(delta int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.addBatchLocked(delta)
}

func (q *Queue) addBatchLocked(delta int) {
	before := q.batches > 0
	q.batches += delta
	if after := q.batches > 0; after != before {
		q.publishLocked(Event{Kind: EventBatch, Uploading: after})
	}
}

func (q *Queue) process(ctx context.Context, id string) {
	req, ok := q.begin(id)
	if !ok {
		// removed before its turn
		return
	}
	defer q.release(req.File)

	log := q.logger.With(zap.String("itemId", logging.ShortID(id)), zap.String("file", req.FileName))

	doc, err := q.uploader.Upload(ctx, req, q.progressFunc(id))
	if errors.Is(err, ErrConflict) {
		log.Info("upload conflict, waiting for resolution")

		resolution, werr := q.awaitResolution(ctx, id, req.FileName)
		if werr != nil {
			q.fail(id, werr.Error())
			return
		}
		metrics.UploadConflictsTotal.WithLabelValues(string(resolution)).Inc()
		log.Info("upload conflict resolved", zap.String("resolution", string(resolution)))

		switch resolution {
		case models.ResolutionSkip:
			q.fail(id, SkipMessage)
			return
		case models.ResolutionKeepBoth:
			req.FileName = KeepBothName(req.FileName)
		case models.ResolutionReplace:
			req.Overwrite = true
		}

		q.resetProgress(id)
		doc, err = q.uploader.Upload(ctx, req, q.progressFunc(id))
	}

	if err != nil {
		log.Warn("upload failed", zap.Error(err))
		q.fail(id, err.Error())
		return
	}
	q.complete(id, doc)
}

// begin moves a pending item to uploading and returns its request.
func (q *Queue) begin(id string) (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.index[id]
	if !ok || e.item.Status != models.UploadStatusPending {
		return Request{}, false
	}
	e.item.Status = models.UploadStatusUploading
	e.item.Progress = 0
	q.publishItemLocked(e)

	return Request{File: e.file, FileName: e.item.FileName, FolderID: e.item.FolderID}, true
}

func (q *Queue) progressFunc(id string) func(int) {
	return func(percent int) {
		percent = min(max(percent, 0), 100)

		q.mu.Lock()
		defer q.mu.Unlock()

		e, ok := q.index[id]
		if !ok || e.item.Status != models.UploadStatusUploading || e.item.Progress == percent {
			return
		}
		e.item.Progress = percent
		q.publishItemLocked(e)
	}
}

func (q *Queue) resetProgress(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.index[id]; ok {
		e.item.Progress = 0
		q.publishItemLocked(e)
	}
}

func (q *Queue) complete(id string, doc *models.Document) {
	q.finish(id, func(item *models.UploadItem) {
		item.Status = models.UploadStatusCompleted
		item.Progress = 100
		if doc != nil {
			item.DocumentID = doc.ID
		}
	})
}

func (q *Queue) fail(id, msg string) {
	q.finish(id, func(item *models.UploadItem) {
		item.Status = models.UploadStatusError
		item.Error = msg
	})
}

func (q *Queue) finish(id string, apply func(*models.UploadItem)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.index[id]
	if !ok || e.item.Status.Terminal() {
		return
	}
	apply(&e.item)
	now := time.Now()
	e.item.CompletedAt = &now
	e.file = nil
	metrics.UploadItemsTotal.WithLabelValues(string(e.item.Status)).Inc()
	q.publishItemLocked(e)
}

// abort fails every listed item that has not finished yet.
func (q *Queue) abort(ids []string, cause error) {
	q.logger.Warn("upload batch cancelled", zap.Int("remaining", len(ids)), zap.Error(cause))
	for _, id := range ids {
		q.mu.Lock()
		var file Source
		if e, ok := q.index[id]; ok {
			file = e.file
		}
		q.mu.Unlock()

		q.fail(id, cause.Error())
		q.release(file)
	}
}

func (q *Queue) release(file Source) {
	r, ok := file.(Releaser)
	if !ok {
		return
	}
	if err := r.Release(); err != nil {
		q.logger.Warn("failed to release upload source", zap.String("file", file.Name()), zap.Error(err))
	}
}

// Get returns a copy of one item.
func (q *Queue) Get(id string) (models.UploadItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.index[id]
	if !ok {
		return models.UploadItem{}, false
	}
	return e.item, true
}

// Snapshot returns copies of all items in enqueue order.
func (q *Queue) Snapshot() []models.UploadItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.UploadItem, len(q.items))
	for i, e := range q.items {
		out[i] = e.item
	}
	return out
}

func (q *Queue) snapshotOf(ids []string) []models.UploadItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.UploadItem, 0, len(ids))
	for _, id := range ids {
		if e, ok := q.index[id]; ok {
			out = append(out, e.item)
		}
	}
	return out
}

// Remove drops a pending item. Items that started uploading stay.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	e, ok := q.index[id]
	if !ok {
		q.mu.Unlock()
		return ErrItemNotFound
	}
	if e.item.Status != models.UploadStatusPending {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrItemNotPending, e.item.Status)
	}
	q.removeLocked(func(x *entry) bool { return x == e })
	q.publishLocked(Event{Kind: EventRemoved, ItemID: id})
	q.mu.Unlock()

	q.release(e.file)
	return nil
}

// ClearCompleted drops every completed item and returns how many went.
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.removeLocked(func(e *entry) bool {
		return e.item.Status == models.UploadStatusCompleted
	})
	if n > 0 {
		q.publishLocked(Event{Kind: EventCleared})
	}
	return n
}

// ClearAll drops every item. It is refused while a batch is running.
func (q *Queue) ClearAll() error {
	q.mu.Lock()
	if q.batches > 0 {
		q.mu.Unlock()
		return ErrBatchInProgress
	}
	items := q.items
	q.items = nil
	q.index = make(map[string]*entry)
	q.publishLocked(Event{Kind: EventCleared})
	q.mu.Unlock()

	for _, e := range items {
		if e.file != nil {
			q.release(e.file)
		}
	}
	return nil
}

func (q *Queue) removeLocked(drop func(*entry) bool) int {
	kept := q.items[:0]
	removed := 0
	for _, e := range q.items {
		if drop(e) {
			delete(q.index, e.item.ID)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	return removed
}

func (q *Queue) publishItemLocked(e *entry) {
	item := e.item
	q.publishLocked(Event{Kind: EventItem, ItemID: item.ID, Item: &item})
}
