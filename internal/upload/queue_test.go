package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/doc-organiser/preview-gateway/internal/invalidate"
	"github.com/doc-organiser/preview-gateway/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memSource struct {
	name     string
	data     []byte
	released atomic.Bool
}

func newSource(name string) *memSource {
	return &memSource{name: name, data: []byte("content of " + name)}
}

func (s *memSource) Name() string { return s.name }
func (s *memSource) Size() int64  { return int64(len(s.data)) }
func (s *memSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}
func (s *memSource) Release() error {
	s.released.Store(true)
	return nil
}

func sources(names ...string) ([]Source, []*memSource) {
	out := make([]Source, len(names))
	mem := make([]*memSource, len(names))
	for i, n := range names {
		mem[i] = newSource(n)
		out[i] = mem[i]
	}
	return out, mem
}

// scriptedUploader answers each file name with queued errors, succeeding
// once the script for that name runs out.
type scriptedUploader struct {
	mu      sync.Mutex
	calls   []Request
	results map[string][]error
}

func newScriptedUploader() *scriptedUploader {
	return &scriptedUploader{results: make(map[string][]error)}
}

func (u *scriptedUploader) script(name string, errs ...error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.results[name] = append(u.results[name], errs...)
}

func (u *scriptedUploader) Upload(ctx context.Context, req Request, onProgress func(int)) (*models.Document, error) {
	u.mu.Lock()
	u.calls = append(u.calls, req)
	var err error
	if queued := u.results[req.FileName]; len(queued) > 0 {
		err = queued[0]
		u.results[req.FileName] = queued[1:]
	}
	u.mu.Unlock()

	if err != nil {
		return nil, err
	}
	onProgress(-5)
	onProgress(50)
	onProgress(150)
	return &models.Document{ID: "doc-" + req.FileName, Name: req.FileName}, nil
}

func (u *scriptedUploader) names() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, len(u.calls))
	for i, c := range u.calls {
		out[i] = c.FileName
	}
	return out
}

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, req Request, onProgress func(int)) (*models.Document, error) {
	args := m.Called(ctx, req, onProgress)
	doc, _ := args.Get(0).(*models.Document)
	return doc, args.Error(1)
}

type countingInvalidator struct {
	calls       atomic.Int32
	collections []invalidate.Collection
	check       func()
}

func (c *countingInvalidator) Invalidate(_ context.Context, cs ...invalidate.Collection) error {
	c.calls.Add(1)
	c.collections = cs
	if c.check != nil {
		c.check()
	}
	return nil
}

func conflictErr() error {
	return fmt.Errorf("status 409: %w", ErrConflict)
}

func waitForConflict(t *testing.T, events <-chan Event) Conflict {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("subscription dropped while waiting for conflict")
			}
			if ev.Kind == EventConflict {
				return *ev.Conflict
			}
		case <-timeout:
			t.Fatal("timed out waiting for conflict")
		}
	}
}

func runAsync(q *Queue, ctx context.Context, files []Source) <-chan []models.UploadItem {
	done := make(chan []models.UploadItem, 1)
	go func() { done <- q.UploadFiles(ctx, files, "folder-1") }()
	return done
}

func waitResult(t *testing.T, done <-chan []models.UploadItem) []models.UploadItem {
	t.Helper()
	select {
	case items := <-done:
		return items
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
		return nil
	}
}

func TestQueue_UploadsAll(t *testing.T) {
	up := newScriptedUploader()
	inv := &countingInvalidator{}
	q := NewQueue(up, inv, zap.NewNop())

	files, mem := sources("a.txt", "b.txt", "c.txt")
	items := q.UploadFiles(context.Background(), files, "folder-1")

	require.Len(t, items, 3)
	for i, item := range items {
		assert.Equal(t, models.UploadStatusCompleted, item.Status)
		assert.Equal(t, 100, item.Progress)
		assert.Equal(t, "folder-1", item.FolderID)
		assert.Equal(t, "doc-"+mem[i].name, item.DocumentID)
		assert.NotNil(t, item.CompletedAt)
		assert.True(t, mem[i].released.Load())
	}
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, up.names())
	assert.Equal(t, int32(1), inv.calls.Load())
	assert.Equal(t, invalidate.AfterUpload, inv.collections)
	assert.False(t, q.Uploading())
}

func TestQueue_ConflictBlocksLaterItems(t *testing.T) {
	up := newScriptedUploader()
	up.script("b.txt", conflictErr())
	q := NewQueue(up, nil, zap.NewNop())

	events, cancel := q.Subscribe()
	defer cancel()

	files, _ := sources("a.txt", "b.txt", "c.txt")
	done := runAsync(q, context.Background(), files)

	c := waitForConflict(t, events)
	assert.Equal(t, "b.txt", c.FileName)

	// the third file must not start while the conflict is open
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []string{"a.txt", "b.txt"}, up.names())
	assert.True(t, q.Uploading())

	pending, ok := q.PendingConflict()
	require.True(t, ok)
	assert.Equal(t, c.ID, pending.ID)

	snapshot := q.Snapshot()
	assert.Equal(t, models.UploadStatusCompleted, snapshot[0].Status)
	assert.Equal(t, models.UploadStatusUploading, snapshot[1].Status)
	assert.Equal(t, models.UploadStatusPending, snapshot[2].Status)

	require.NoError(t, q.Resolve(c.ID, models.ResolutionKeepBoth))
	items := waitResult(t, done)

	assert.Equal(t, []string{"a.txt", "b.txt", "b (1).txt", "c.txt"}, up.names())
	for _, item := range items {
		assert.Equal(t, models.UploadStatusCompleted, item.Status)
	}
	assert.Equal(t, "doc-b (1).txt", items[1].DocumentID)

	_, ok = q.PendingConflict()
	assert.False(t, ok)
}

func TestQueue_PartialFailure(t *testing.T) {
	up := newScriptedUploader()
	up.script("3.pdf", errors.New("disk full"))

	var q *Queue
	inv := &countingInvalidator{}
	inv.check = func() {
		for _, item := range q.Snapshot() {
			assert.True(t, item.Status.Terminal(), "item %s not terminal at invalidation", item.FileName)
		}
	}
	q = NewQueue(up, inv, zap.NewNop())

	files, _ := sources("1.pdf", "2.pdf", "3.pdf", "4.pdf", "5.pdf")
	items := q.UploadFiles(context.Background(), files, "")

	require.Len(t, items, 5)
	for i, item := range items {
		if i == 2 {
			assert.Equal(t, models.UploadStatusError, item.Status)
			assert.Equal(t, "disk full", item.Error)
			continue
		}
		assert.Equal(t, models.UploadStatusCompleted, item.Status)
	}
	assert.Equal(t, int32(1), inv.calls.Load())
}

func TestQueue_SkipResolution(t *testing.T) {
	up := newScriptedUploader()
	up.script("report.pdf", conflictErr())
	q := NewQueue(up, nil, zap.NewNop())
	events, cancel := q.Subscribe()
	defer cancel()

	files, mem := sources("report.pdf")
	done := runAsync(q, context.Background(), files)

	c := waitForConflict(t, events)
	require.NoError(t, q.Resolve(c.ID, models.ResolutionSkip))
	items := waitResult(t, done)

	require.Len(t, items, 1)
	assert.Equal(t, models.UploadStatusError, items[0].Status)
	assert.Equal(t, "Skipped – file already exists", items[0].Error)
	assert.Equal(t, []string{"report.pdf"}, up.names())
	assert.True(t, mem[0].released.Load())
}

func TestQueue_ReplaceResolution(t *testing.T) {
	up := &mockUploader{}
	up.On("Upload", mock.Anything, mock.MatchedBy(func(r Request) bool { return !r.Overwrite }), mock.Anything).
		Return(nil, conflictErr()).Once()
	up.On("Upload", mock.Anything, mock.MatchedBy(func(r Request) bool {
		return r.Overwrite && r.FileName == "report.pdf" && r.FolderID == "folder-1"
	}), mock.Anything).
		Return(&models.Document{ID: "doc-1"}, nil).Once()

	q := NewQueue(up, nil, zap.NewNop())
	events, cancel := q.Subscribe()
	defer cancel()

	files, _ := sources("report.pdf")
	done := runAsync(q, context.Background(), files)

	c := waitForConflict(t, events)
	require.NoError(t, q.Resolve(c.ID, models.ResolutionReplace))
	items := waitResult(t, done)

	assert.Equal(t, models.UploadStatusCompleted, items[0].Status)
	assert.Equal(t, "doc-1", items[0].DocumentID)
	up.AssertExpectations(t)
}

func TestQueue_RetryFailureIsRecorded(t *testing.T) {
	up := newScriptedUploader()
	up.script("a.txt", conflictErr())
	up.script("a (1).txt", errors.New("quota exceeded"))
	q := NewQueue(up, nil, zap.NewNop())
	events, cancel := q.Subscribe()
	defer cancel()

	files, _ := sources("a.txt", "b.txt")
	done := runAsync(q, context.Background(), files)

	c := waitForConflict(t, events)
	require.NoError(t, q.Resolve(c.ID, models.ResolutionKeepBoth))
	items := waitResult(t, done)

	assert.Equal(t, models.UploadStatusError, items[0].Status)
	assert.Equal(t, "quota exceeded", items[0].Error)
	assert.Equal(t, models.UploadStatusCompleted, items[1].Status)
}

func TestQueue_ResolveErrors(t *testing.T) {
	up := newScriptedUploader()
	up.script("a.txt", conflictErr())
	q := NewQueue(up, nil, zap.NewNop())

	assert.ErrorIs(t, q.Resolve("nothing", models.ResolutionSkip), ErrNoPendingConflict)

	events, cancel := q.Subscribe()
	defer cancel()
	files, _ := sources("a.txt")
	done := runAsync(q, context.Background(), files)
	c := waitForConflict(t, events)

	assert.ErrorIs(t, q.Resolve(c.ID, "overwrite-maybe"), ErrInvalidResolution)
	assert.ErrorIs(t, q.Resolve("stale-id", models.ResolutionSkip), ErrNoPendingConflict)

	require.NoError(t, q.Resolve(c.ID, models.ResolutionSkip))
	assert.ErrorIs(t, q.Resolve(c.ID, models.ResolutionReplace), ErrNoPendingConflict)

	waitResult(t, done)
}

func TestQueue_CancelWhileWaiting(t *testing.T) {
	up := newScriptedUploader()
	up.script("b.txt", conflictErr())
	inv := &countingInvalidator{}
	q := NewQueue(up, inv, zap.NewNop())
	events, unsubscribe := q.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	files, mem := sources("a.txt", "b.txt", "c.txt")
	done := runAsync(q, ctx, files)

	waitForConflict(t, events)
	cancel()
	items := waitResult(t, done)

	assert.Equal(t, models.UploadStatusCompleted, items[0].Status)
	assert.Equal(t, models.UploadStatusError, items[1].Status)
	assert.Equal(t, context.Canceled.Error(), items[1].Error)
	assert.Equal(t, models.UploadStatusError, items[2].Status)
	assert.Equal(t, context.Canceled.Error(), items[2].Error)
	assert.True(t, mem[2].released.Load())

	assert.Equal(t, int32(1), inv.calls.Load())
	_, ok := q.PendingConflict()
	assert.False(t, ok)
	assert.False(t, q.Uploading())
}

func TestQueue_BatchesAreSerialized(t *testing.T) {
	up := newScriptedUploader()
	up.script("first.txt", conflictErr())
	q := NewQueue(up, nil, zap.NewNop())
	events, cancel := q.Subscribe()
	defer cancel()

	first, _ := sources("first.txt")
	second, _ := sources("second.txt")

	done1 := runAsync(q, context.Background(), first)
	c := waitForConflict(t, events)
	done2 := runAsync(q, context.Background(), second)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []string{"first.txt"}, up.names())

	require.NoError(t, q.Resolve(c.ID, models.ResolutionReplace))
	waitResult(t, done1)
	waitResult(t, done2)

	assert.Equal(t, []string{"first.txt", "first.txt", "second.txt"}, up.names())
}

func TestQueue_ProgressIsClamped(t *testing.T) {
	q := NewQueue(newScriptedUploader(), nil, zap.NewNop())
	events, cancel := q.Subscribe()
	defer cancel()

	files, _ := sources("a.txt")
	q.UploadFiles(context.Background(), files, "")

	var seen []int
	for {
		select {
		case ev := <-events:
			if ev.Kind == EventItem {
				seen = append(seen, ev.Item.Progress)
			}
			continue
		default:
		}
		break
	}

	require.NotEmpty(t, seen)
	for _, p := range seen {
		assert.GreaterOrEqual(t, p, 0)
		assert.LessOrEqual(t, p, 100)
	}
	assert.Equal(t, 100, seen[len(seen)-1])
}

func TestQueue_Management(t *testing.T) {
	up := newScriptedUploader()
	up.script("blocked.txt", conflictErr())
	q := NewQueue(up, nil, zap.NewNop())

	files, mem := sources("keep.txt", "drop.txt")
	ids := q.Enqueue(files, "")
	require.Len(t, ids, 2)

	require.NoError(t, q.Remove(ids[1]))
	assert.True(t, mem[1].released.Load())
	assert.ErrorIs(t, q.Remove(ids[1]), ErrItemNotFound)

	items := q.Drain(context.Background(), ids)
	require.Len(t, items, 1)
	assert.Equal(t, models.UploadStatusCompleted, items[0].Status)
	assert.ErrorIs(t, q.Remove(ids[0]), ErrItemNotPending)

	assert.Equal(t, 1, q.ClearCompleted())
	assert.Empty(t, q.Snapshot())

	events, cancel := q.Subscribe()
	defer cancel()
	blocked, _ := sources("blocked.txt")
	done := runAsync(q, context.Background(), blocked)
	c := waitForConflict(t, events)

	assert.ErrorIs(t, q.ClearAll(), ErrBatchInProgress)

	require.NoError(t, q.Resolve(c.ID, models.ResolutionSkip))
	waitResult(t, done)

	assert.Equal(t, 0, q.ClearCompleted())
	require.NoError(t, q.ClearAll())
	assert.Empty(t, q.Snapshot())
}

func TestQueue_StartBatchMarksUploading(t *testing.T) {
	q := NewQueue(newScriptedUploader(), nil, zap.NewNop())
	events, cancel := q.Subscribe()
	defer cancel()

	files, mem := sources("a.txt", "b.txt")
	ids := q.StartBatch(files, "folder-1")
	require.Len(t, ids, 2)

	// nothing may clear the accepted items before the batch drains them
	assert.True(t, q.Uploading())
	assert.ErrorIs(t, q.ClearAll(), ErrBatchInProgress)
	require.Len(t, q.Snapshot(), 2)

	var kinds []EventKind
	for i := 0; i < 3; i++ {
		kinds = append(kinds, (<-events).Kind)
	}
	assert.Equal(t, []EventKind{EventItem, EventItem, EventBatch}, kinds)

	items := q.RunBatch(context.Background(), ids)
	require.Len(t, items, 2)
	for i, item := range items {
		assert.Equal(t, models.UploadStatusCompleted, item.Status)
		assert.True(t, mem[i].released.Load())
	}
	assert.False(t, q.Uploading())
	require.NoError(t, q.ClearAll())
}

func TestSubscribe_SlowSubscriberIsDropped(t *testing.T) {
	up := newScriptedUploader()
	up.script("last.txt", conflictErr())
	q := NewQueue(up, nil, zap.NewNop())

	slow, cancelSlow := q.Subscribe()
	defer cancelSlow()

	names := make([]string, 0, 31)
	for i := 0; i < 30; i++ {
		names = append(names, fmt.Sprintf("f%02d.txt", i))
	}
	files, _ := sources(append(names, "last.txt")...)
	done := runAsync(q, context.Background(), files)

	require.Eventually(t, func() bool {
		_, ok := q.PendingConflict()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	// the buffered events are still delivered, then the channel closes
	received := 0
	for range slow {
		received++
	}
	assert.Equal(t, subscriberBuffer, received)

	// a new subscriber resyncs from the snapshot and sees the open conflict
	events, cancel := q.Subscribe()
	defer cancel()
	c, ok := q.PendingConflict()
	require.True(t, ok)
	assert.Equal(t, "last.txt", c.FileName)
	assert.True(t, q.Uploading())
	snapshot := q.Snapshot()
	require.Len(t, snapshot, 31)
	assert.Equal(t, models.UploadStatusCompleted, snapshot[29].Status)
	assert.Equal(t, models.UploadStatusUploading, snapshot[30].Status)

	require.NoError(t, q.Resolve(c.ID, models.ResolutionSkip))
	ev := <-events
	assert.Equal(t, EventResolved, ev.Kind)

	items := waitResult(t, done)
	assert.Equal(t, models.UploadStatusError, items[30].Status)
	assert.Equal(t, SkipMessage, items[30].Error)
}

func TestSubscribe_Cancel(t *testing.T) {
	q := NewQueue(newScriptedUploader(), nil, zap.NewNop())
	events, cancel := q.Subscribe()
	cancel()
	cancel()

	_, open := <-events
	assert.False(t, open)

	// publishing after cancel must not panic
	files, _ := sources("a.txt")
	q.Enqueue(files, "")
}

func TestKeepBothName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report (1).pdf"},
		{"README", "README (1)"},
		{"archive.tar.gz", "archive.tar (1).gz"},
		{".env", ".env (1)"},
		{"photo.JPG", "photo (1).JPG"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, KeepBothName(tt.in))
		})
	}
}
