package preview

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/doc-organiser/preview-gateway/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestLoader_LoadsDocument(t *testing.T) {
	src := newFakeSource()
	src.content["doc-1"] = []byte("a,b\n")
	l := NewService(src, nil, zap.NewNop()).NewLoader(context.Background())

	assert.Equal(t, StatusIdle, l.State().Status)

	l.Open(models.Document{ID: "doc-1", Name: "x.csv", MimeType: "text/csv"})
	state, err := l.Wait(waitCtx(t))
	require.NoError(t, err)

	assert.Equal(t, StatusReady, state.Status)
	require.NotNil(t, state.Content)
	assert.Equal(t, TypeCSV, state.Content.Type)
	assert.Equal(t, "doc-1", state.Document.ID)
}

func TestLoader_ShowsLoadingWhileFetching(t *testing.T) {
	src := newFakeSource()
	src.urls["slow"] = "https://cdn.example/slow"
	gate := src.gate("slow")
	l := NewService(src, nil, zap.NewNop()).NewLoader(context.Background())

	l.Open(models.Document{ID: "slow", Name: "a.png", MimeType: "image/png"})
	assert.Equal(t, StatusLoading, l.State().Status)

	close(gate)
	state, err := l.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, StatusReady, state.Status)
	assert.Equal(t, "https://cdn.example/slow", state.Content.URL)
}

func TestLoader_DiscardsStaleResponse(t *testing.T) {
	src := newFakeSource()
	src.ignoreCancel = true
	src.urls["first"] = "https://cdn.example/first"
	src.urls["second"] = "https://cdn.example/second"
	gate := src.gate("first")

	l := NewService(src, nil, zap.NewNop()).NewLoader(context.Background())

	l.Open(models.Document{ID: "first", Name: "a.png", MimeType: "image/png"})
	l.Open(models.Document{ID: "second", Name: "b.png", MimeType: "image/png"})

	state, err := l.Wait(waitCtx(t))
	require.NoError(t, err)
	require.Equal(t, StatusReady, state.Status)
	assert.Equal(t, "https://cdn.example/second", state.Content.URL)

	// let the first fetch answer late
	src.mu.Lock()
	returned := src.returned["first"]
	src.mu.Unlock()
	close(gate)
	<-returned
	time.Sleep(20 * time.Millisecond)

	state = l.State()
	assert.Equal(t, "second", state.Document.ID)
	assert.Equal(t, "https://cdn.example/second", state.Content.URL)
}

func TestLoader_CloseDiscardsInFlight(t *testing.T) {
	src := newFakeSource()
	src.ignoreCancel = true
	src.urls["doc"] = "https://cdn.example/doc"
	gate := src.gate("doc")

	l := NewService(src, nil, zap.NewNop()).NewLoader(context.Background())
	l.Open(models.Document{ID: "doc", Name: "a.png", MimeType: "image/png"})
	l.Close()

	src.mu.Lock()
	returned := src.returned["doc"]
	src.mu.Unlock()
	close(gate)
	<-returned
	time.Sleep(20 * time.Millisecond)

	state := l.State()
	assert.Equal(t, StatusIdle, state.Status)
	assert.Nil(t, state.Content)
	assert.Nil(t, state.Document)
}

func TestLoader_ErrorOffersRetryAndDownload(t *testing.T) {
	src := newFakeSource()
	src.fail["doc"] = errors.New("connection reset")
	l := NewService(src, nil, zap.NewNop()).NewLoader(context.Background())

	l.Open(models.Document{ID: "doc", Name: "notes.md", MimeType: "text/markdown"})
	state, err := l.Wait(waitCtx(t))
	require.NoError(t, err)

	assert.Equal(t, StatusError, state.Status)
	assert.Contains(t, state.Error, "preview load failed")
	assert.Contains(t, state.Error, "connection reset")
	assert.Equal(t, []string{ActionRetry, ActionDownload}, state.Actions)
	assert.Nil(t, state.Content)
}

func TestLoader_RetryIsFreshAttempt(t *testing.T) {
	src := newFakeSource()
	src.fail["doc"] = errors.New("temporary")
	l := NewService(src, nil, zap.NewNop()).NewLoader(context.Background())

	l.Open(models.Document{ID: "doc", Name: "notes.md", MimeType: "text/markdown"})
	state, _ := l.Wait(waitCtx(t))
	require.Equal(t, StatusError, state.Status)

	src.mu.Lock()
	delete(src.fail, "doc")
	src.content["doc"] = []byte("ok")
	src.mu.Unlock()

	require.NoError(t, l.Retry())
	state, err := l.Wait(waitCtx(t))
	require.NoError(t, err)

	assert.Equal(t, StatusReady, state.Status)
	assert.Equal(t, "<p>ok</p>", state.Content.HTML)
	assert.Equal(t, 2, src.callCount())
}

func TestLoader_RetryWithoutDocument(t *testing.T) {
	l := NewService(newFakeSource(), nil, zap.NewNop()).NewLoader(context.Background())
	assert.ErrorIs(t, l.Retry(), ErrNoDocument)

	state, err := l.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, state.Status)
}
