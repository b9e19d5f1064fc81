package models

import "time"

// UploadStatus represents the lifecycle state of a queued upload.
type UploadStatus string

const (
	UploadStatusPending   UploadStatus = "pending"
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusCompleted UploadStatus = "completed"
	UploadStatusError     UploadStatus = "error"
)

// Terminal reports whether no further transition can happen.
func (s UploadStatus) Terminal() bool {
	return s == UploadStatusCompleted || s == UploadStatusError
}

// ConflictResolution is the choice made when an upload collides with an
// existing file name.
type ConflictResolution string

const (
	ResolutionReplace  ConflictResolution = "replace"
	ResolutionKeepBoth ConflictResolution = "keep-both"
	ResolutionSkip     ConflictResolution = "skip"
)

// Valid reports whether r is one of the known resolutions.
func (r ConflictResolution) Valid() bool {
	switch r {
	case ResolutionReplace, ResolutionKeepBoth, ResolutionSkip:
		return true
	}
	return false
}

// UploadItem is one file in an upload batch. The file handle itself lives
// with the queue; this is the observable part.
type UploadItem struct {
	ID          string       `json:"id" msgpack:"id"`
	FileName    string       `json:"fileName" msgpack:"fileName"`
	Size        int64        `json:"size" msgpack:"size"`
	Progress    int          `json:"progress" msgpack:"progress"` // 0-100
	Status      UploadStatus `json:"status" msgpack:"status"`
	Error       string       `json:"error,omitempty" msgpack:"error,omitempty"`
	FolderID    string       `json:"folderId,omitempty" msgpack:"folderId,omitempty"`
	DocumentID  string       `json:"documentId,omitempty" msgpack:"documentId,omitempty"`
	CreatedAt   time.Time    `json:"createdAt" msgpack:"createdAt"`
	CompletedAt *time.Time   `json:"completedAt,omitempty" msgpack:"completedAt,omitempty"`
}
