package upload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/doc-organiser/preview-gateway/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// State is the part of the queue that survives a restart. File handles
// do not.
type State struct {
	Items     []models.UploadItem `msgpack:"items"`
	Uploading bool                `msgpack:"uploading"`
	SavedAt   time.Time           `msgpack:"savedAt"`
}

// State captures the current items and batch flag.
func (q *Queue) State() State {
	return State{
		Items:     q.Snapshot(),
		Uploading: q.Uploading(),
		SavedAt:   time.Now(),
	}
}

// Restore replaces the queue contents with s. Items that were not terminal
// lost their file when the process stopped, so they become errors.
func (q *Queue) Restore(s State) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.batches > 0 {
		return ErrBatchInProgress
	}

	now := time.Now()
	q.items = make([]*entry, 0, len(s.Items))
	q.index = make(map[string]*entry, len(s.Items))
	for _, item := range s.Items {
		if item.ID == "" {
			continue
		}
		if !item.Status.Terminal() {
			item.Status = models.UploadStatusError
			item.Error = InterruptedMessage
			completed := now
			item.CompletedAt = &completed
		}
		e := &entry{item: item}
		q.items = append(q.items, e)
		q.index[item.ID] = e
	}
	q.publishLocked(Event{Kind: EventCleared})
	return nil
}

// EncodeState serializes s with msgpack.
func EncodeState(s State) ([]byte, error) {
	data, err := msgpack.Marshal(&s)
	if err != nil {
		return nil, fmt.Errorf("encoding upload state: %w", err)
	}
	return data, nil
}

// DecodeState parses data written by EncodeState.
func DecodeState(data []byte) (State, error) {
	var s State
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("decoding upload state: %w", err)
	}
	return s, nil
}

// SaveStateFile writes the queue state to path atomically.
func (q *Queue) SaveStateFile(path string) error {
	data, err := EncodeState(q.State())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing upload state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing upload state: %w", err)
	}
	return nil
}

// LoadStateFile restores the queue from path. A missing file is not an
// error.
func (q *Queue) LoadStateFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading upload state: %w", err)
	}

	s, err := DecodeState(data)
	if err != nil {
		return err
	}
	return q.Restore(s)
}
