// Package storage holds the gateway's file staging area and the object
// store content source.
package storage

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/doc-organiser/preview-gateway/internal/logging"
	"github.com/doc-organiser/preview-gateway/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Staged file states.
const (
	StatusStaged   = "staged"
	StatusQueued   = "queued"
	StatusReleased = "released"
)

// Chunk encodings accepted by CompleteChunkedUpload.
const (
	EncodingNone = ""
	EncodingGzip = "gzip"
)

// ErrFileNotFound is returned for unknown staged file ids.
var ErrFileNotFound = errors.New("staged file not found")

// LocalStore keeps files posted to the gateway on disk until their upload
// item is terminal.
type LocalStore struct {
	mu       sync.RWMutex
	stageDir string
	files    map[string]*models.FileInfo
	logger   *zap.Logger
}

// NewLocalStore creates the staging directory if needed.
func NewLocalStore(stageDir string, logger *zap.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	return &LocalStore{
		stageDir: stageDir,
		files:    make(map[string]*models.FileInfo),
		logger:   logging.Component(logger, "staging"),
	}, nil
}

func (s *LocalStore) path(id string) string {
	return filepath.Join(s.stageDir, id)
}

func (s *LocalStore) chunkDir(uploadID string) string {
	return filepath.Join(s.stageDir, "chunks", filepath.Base(uploadID))
}

// Save stages the contents of r under a new id.
func (s *LocalStore) Save(name string, r io.Reader) (*models.FileInfo, error) {
	id := uuid.New().String()
	path := s.path(id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}

	return s.register(id, name, size), nil
}

func (s *LocalStore) register(id, name string, size int64) *models.FileInfo {
	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		Size:       size,
		UploadedAt: time.Now(),
		Status:     StatusStaged,
	}

	s.mu.Lock()
	s.files[id] = info
	s.mu.Unlock()

	return info
}

// Get returns a copy of a staged file's metadata.
func (s *LocalStore) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	cp := *info
	return &cp, nil
}

// List returns the most recently staged files first.
func (s *LocalStore) List(limit int) []*models.FileInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.FileInfo, 0, len(s.files))
	for _, info := range s.files {
		cp := *info
		list = append(list, &cp)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

// Open returns a reader over a staged file.
func (s *LocalStore) Open(id string) (io.ReadCloser, error) {
	s.mu.RLock()
	_, ok := s.files[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}

	f, err := os.Open(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("opening staged file: %w", err)
	}
	return f, nil
}

// Delete removes a staged file.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}

	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}

	delete(s.files, id)
	return nil
}

func (s *LocalStore) setStatus(id, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.files[id]; ok {
		info.Status = status
	}
}

// SaveChunk stores one chunk of a chunked upload.
func (s *LocalStore) SaveChunk(uploadID string, chunkIndex int, r io.Reader) error {
	if chunkIndex < 0 {
		return fmt.Errorf("invalid chunk index %d", chunkIndex)
	}

	dir := s.chunkDir(uploadID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating chunk directory: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("chunk_%d", chunkIndex)))
	if err != nil {
		return fmt.Errorf("creating chunk file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}
	return nil
}

// CompleteChunkedUpload joins chunks 0..totalChunks-1 into one staged file.
// With EncodingGzip the joined bytes are decompressed as they are written.
func (s *LocalStore) CompleteChunkedUpload(uploadID, name string, totalChunks int, encoding string) (*models.FileInfo, error) {
	if totalChunks <= 0 {
		return nil, fmt.Errorf("invalid chunk count %d", totalChunks)
	}
	if encoding != EncodingNone && encoding != EncodingGzip {
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}

	dir := s.chunkDir(uploadID)
	readers := make([]io.Reader, 0, totalChunks)
	for i := 0; i < totalChunks; i++ {
		in, err := os.Open(filepath.Join(dir, fmt.Sprintf("chunk_%d", i)))
		if err != nil {
			closeAll(readers)
			return nil, fmt.Errorf("opening chunk %d: %w", i, err)
		}
		readers = append(readers, in)
	}
	defer closeAll(readers)

	var src io.Reader = io.MultiReader(readers...)
	if encoding == EncodingGzip {
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("reading gzip stream: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	id := uuid.New().String()
	path := s.path(id)
	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating final file: %w", err)
	}

	size, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("assembling chunks: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn("failed to remove chunk directory", zap.String("uploadId", uploadID), zap.Error(err))
	}

	s.logger.Debug("chunked upload assembled",
		zap.String("fileId", logging.ShortID(id)),
		zap.Int("chunks", totalChunks),
		zap.Int64("size", size))

	return s.register(id, name, size), nil
}

func closeAll(readers []io.Reader) {
	for _, r := range readers {
		if c, ok := r.(io.Closer); ok {
			c.Close()
		}
	}
}

// CleanupStale removes staged files and chunk directories older than
// maxAge. Files still attached to an upload item are kept.
func (s *LocalStore) CleanupStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	s.mu.Lock()
	for id, info := range s.files {
		if info.Status == StatusQueued || info.UploadedAt.After(cutoff) {
			continue
		}
		if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove stale file", zap.String("fileId", id), zap.Error(err))
			continue
		}
		delete(s.files, id)
		removed++
	}
	s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.stageDir, "chunks"))
	if err != nil {
		return removed
	}
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil || fi.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.stageDir, "chunks", e.Name())); err == nil {
			removed++
		}
	}
	return removed
}
