package upload

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/doc-organiser/preview-gateway/internal/models"
	"github.com/google/uuid"
)

// Conflict is a name collision waiting for someone to pick a resolution.
type Conflict struct {
	ID        string    `json:"id" msgpack:"id"`
	ItemID    string    `json:"itemId" msgpack:"itemId"`
	FileName  string    `json:"fileName" msgpack:"fileName"`
	CreatedAt time.Time `json:"createdAt" msgpack:"createdAt"`
}

type pendingConflict struct {
	Conflict
	resolved chan models.ConflictResolution
}

// PendingConflict returns the conflict the running batch is waiting on.
func (q *Queue) PendingConflict() (Conflict, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.conflict == nil {
		return Conflict{}, false
	}
	return q.conflict.Conflict, true
}

// Resolve answers the pending conflict. The id must match the conflict
// being waited on, so an answer to an old prompt cannot leak into a new
// one. Each conflict accepts exactly one resolution.
func (q *Queue) Resolve(conflictID string, resolution models.ConflictResolution) error {
	if !resolution.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidResolution, resolution)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	c := q.conflict
	if c == nil || c.ID != conflictID {
		return ErrNoPendingConflict
	}
	q.conflict = nil
	c.resolved <- resolution

	q.publishLocked(Event{Kind: EventResolved, ItemID: c.ItemID, Conflict: &c.Conflict, Resolution: resolution})
	return nil
}

// awaitResolution parks the batch in the conflict slot until Resolve is
// called or ctx ends.
func (q *Queue) awaitResolution(ctx context.Context, itemID, fileName string) (models.ConflictResolution, error) {
	c := &pendingConflict{
		Conflict: Conflict{
			ID:        uuid.New().String(),
			ItemID:    itemID,
			FileName:  fileName,
			CreatedAt: time.Now(),
		},
		resolved: make(chan models.ConflictResolution, 1),
	}

	q.mu.Lock()
	q.conflict = c
	q.publishLocked(Event{Kind: EventConflict, ItemID: itemID, Conflict: &c.Conflict})
	q.mu.Unlock()

	select {
	case r := <-c.resolved:
		return r, nil
	case <-ctx.Done():
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.conflict == c {
			q.conflict = nil
			return "", ctx.Err()
		}
		// Resolve won the race; honour it.
		return <-c.resolved, nil
	}
}

// KeepBothName inserts " (1)" before the extension: "report.pdf" becomes
// "report (1).pdf". Names without an extension, including dotfiles, get
// the suffix at the end.
func KeepBothName(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return name + " (1)"
	}
	return name[:i] + " (1)" + name[i:]
}
