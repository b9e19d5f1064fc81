package models

import "time"

// Document is the metadata the document API returns for a stored file.
type Document struct {
	ID           string    `json:"id" msgpack:"id"`
	Name         string    `json:"name" msgpack:"name"`
	OriginalName string    `json:"originalName,omitempty" msgpack:"originalName,omitempty"`
	FileSize     int64     `json:"fileSize" msgpack:"fileSize"`
	FileType     string    `json:"fileType,omitempty" msgpack:"fileType,omitempty"`
	MimeType     string    `json:"mimeType" msgpack:"mimeType"`
	Category     string    `json:"category,omitempty" msgpack:"category,omitempty"`
	Version      int       `json:"version,omitempty" msgpack:"version,omitempty"`
	FolderID     string    `json:"folderId,omitempty" msgpack:"folderId,omitempty"`
	CreatedAt    time.Time `json:"createdAt,omitempty" msgpack:"createdAt,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty" msgpack:"updatedAt,omitempty"`
}
