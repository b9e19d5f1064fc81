package preview

import (
	"context"
	"errors"
	"sync"

	"github.com/doc-organiser/preview-gateway/internal/models"
)

// LoadStatus is the lifecycle of a Loader.
type LoadStatus string

const (
	StatusIdle    LoadStatus = "idle"
	StatusLoading LoadStatus = "loading"
	StatusReady   LoadStatus = "ready"
	StatusError   LoadStatus = "error"
)

// Actions offered to the viewer when a load fails.
const (
	ActionRetry    = "retry"
	ActionDownload = "download"
)

// ErrNoDocument is returned by Retry when the loader is closed.
var ErrNoDocument = errors.New("no document open")

// State is a snapshot of what a viewer should display.
type State struct {
	Status   LoadStatus       `json:"status" msgpack:"status"`
	Document *models.Document `json:"document,omitempty" msgpack:"document,omitempty"`
	Content  *Content         `json:"content,omitempty" msgpack:"content,omitempty"`
	Error    string           `json:"error,omitempty" msgpack:"error,omitempty"`
	Actions  []string         `json:"actions,omitempty" msgpack:"actions,omitempty"`
}

// Loader drives preview loading for a single viewer. At most one fetch is
// in flight: opening another document, closing, or retrying cancels the
// running attempt, and a superseded attempt never writes its result.
type Loader struct {
	svc  *Service
	base context.Context

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	doc    *models.Document
	state  State
}

// NewLoader creates an idle loader. Attempts run under ctx, so cancelling
// it stops every future fetch.
func (s *Service) NewLoader(ctx context.Context) *Loader {
	return &Loader{
		svc:   s,
		base:  ctx,
		state: State{Status: StatusIdle},
	}
}

// Open shows doc, discarding whatever was loading before.
func (l *Loader) Open(doc models.Document) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.doc = &doc
	l.startLocked()
}

// Retry starts a fresh attempt for the open document.
func (l *Loader) Retry() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.doc == nil {
		return ErrNoDocument
	}
	l.startLocked()
	return nil
}

// Close cancels any attempt and returns the loader to idle.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopLocked()
	l.gen++
	l.doc = nil
	l.done = nil
	l.state = State{Status: StatusIdle}
}

// State returns the current snapshot.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Wait blocks until the latest attempt settles or ctx is done, and returns
// the state at that point.
func (l *Loader) Wait(ctx context.Context) (State, error) {
	for {
		l.mu.Lock()
		done := l.done
		l.mu.Unlock()

		if done == nil {
			return l.State(), nil
		}

		select {
		case <-done:
		case <-ctx.Done():
			return l.State(), ctx.Err()
		}

		l.mu.Lock()
		settled := l.done == done
		state := l.state
		l.mu.Unlock()
		if settled {
			return state, nil
		}
	}
}

func (l *Loader) startLocked() {
	l.stopLocked()

	l.gen++
	gen := l.gen
	doc := *l.doc

	ctx, cancel := context.WithCancel(l.base)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	l.state = State{Status: StatusLoading, Document: &doc}

	go l.run(ctx, gen, doc, done)
}

func (l *Loader) stopLocked() {
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

func (l *Loader) run(ctx context.Context, gen uint64, doc models.Document, done chan struct{}) {
	defer close(done)

	content, err := l.svc.Load(ctx, doc)

	l.mu.Lock()
	defer l.mu.Unlock()

	// superseded by Open, Retry or Close
	if gen != l.gen {
		return
	}
	l.stopLocked()

	if err != nil {
		l.state = State{
			Status:   StatusError,
			Document: &doc,
			Error:    err.Error(),
			Actions:  []string{ActionRetry, ActionDownload},
		}
		return
	}
	l.state = State{Status: StatusReady, Document: &doc, Content: content}
}
