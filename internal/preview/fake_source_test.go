package preview

import (
	"context"
	"errors"
	"sync"
)

// fakeSource serves canned bytes and URLs. A gate blocks fetches for one
// document until it is closed; ignoreCancel makes the gate deaf to context
// cancellation so late responses can be simulated.
type fakeSource struct {
	mu           sync.Mutex
	content      map[string][]byte
	urls         map[string]string
	fail         map[string]error
	gates        map[string]chan struct{}
	returned     map[string]chan struct{}
	ignoreCancel bool
	calls        []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		content:  make(map[string][]byte),
		urls:     make(map[string]string),
		fail:     make(map[string]error),
		gates:    make(map[string]chan struct{}),
		returned: make(map[string]chan struct{}),
	}
}

func (f *fakeSource) gate(id string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := make(chan struct{})
	f.gates[id] = g
	f.returned[id] = make(chan struct{})
	return g
}

func (f *fakeSource) wait(ctx context.Context, id string) error {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	g := f.gates[id]
	f.mu.Unlock()

	if g == nil {
		return nil
	}
	if f.ignoreCancel {
		<-g
		return nil
	}
	select {
	case <-g:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeSource) markReturned(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.returned[id]; ok {
		close(ch)
		delete(f.returned, id)
	}
}

func (f *fakeSource) FetchContent(ctx context.Context, id string) ([]byte, error) {
	defer f.markReturned(id)
	if err := f.wait(ctx, id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	data, ok := f.content[id]
	if !ok {
		return nil, errors.New("document not found")
	}
	return data, nil
}

func (f *fakeSource) FetchPreviewURL(ctx context.Context, id string) (string, error) {
	defer f.markReturned(id)
	if err := f.wait(ctx, id); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[id]; err != nil {
		return "", err
	}
	url, ok := f.urls[id]
	if !ok {
		return "", errors.New("document not found")
	}
	return url, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
