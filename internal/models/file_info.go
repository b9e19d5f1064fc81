package models

import "time"

// FileInfo represents metadata about a file staged on the gateway before it
// joins an upload batch.
type FileInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
	Status     string    `json:"status"` // "staged", "queued", "released"
}
