package storage

import (
	"io"
	"sync"
)

// StagedFile is a staged file handed to the upload queue. Releasing it
// deletes the staged bytes.
type StagedFile struct {
	store *LocalStore
	id    string
	name  string
	size  int64
	once  sync.Once
}

// Stage marks a staged file as queued and wraps it for the upload queue.
func (s *LocalStore) Stage(id string) (*StagedFile, error) {
	info, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	s.setStatus(id, StatusQueued)
	return &StagedFile{store: s, id: id, name: info.Name, size: info.Size}, nil
}

func (f *StagedFile) ID() string   { return f.id }
func (f *StagedFile) Name() string { return f.name }
func (f *StagedFile) Size() int64  { return f.size }

// Open reads the staged bytes. Each call returns a fresh reader, so an
// upload can be retried.
func (f *StagedFile) Open() (io.ReadCloser, error) {
	return f.store.Open(f.id)
}

// Release deletes the staged bytes. Only the first call does anything.
func (f *StagedFile) Release() error {
	var err error
	f.once.Do(func() {
		f.store.setStatus(f.id, StatusReleased)
		err = f.store.Delete(f.id)
	})
	return err
}
