package upload

import (
	"sync"

	"github.com/doc-organiser/preview-gateway/internal/models"
)

// EventKind tells subscribers what changed.
type EventKind string

const (
	EventItem     EventKind = "item"     // an item was added or changed
	EventRemoved  EventKind = "removed"  // an item was removed
	EventCleared  EventKind = "cleared"  // items were dropped in bulk
	EventBatch    EventKind = "batch"    // the uploading flag flipped
	EventConflict EventKind = "conflict" // a conflict is waiting for a resolution
	EventResolved EventKind = "resolved" // the pending conflict was resolved
)

// Event is a change notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind       EventKind                 `json:"kind"`
	ItemID     string                    `json:"itemId,omitempty"`
	Item       *models.UploadItem        `json:"item,omitempty"`
	Uploading  bool                      `json:"uploading"`
	Conflict   *Conflict                 `json:"conflict,omitempty"`
	Resolution models.ConflictResolution `json:"resolution,omitempty"`
}

const subscriberBuffer = 64

type events struct {
	subMu sync.Mutex
	subs  map[int]chan Event
	next  int
}

// Subscribe returns a channel of events and a func that ends the
// subscription. A subscriber whose buffer fills up is dropped and its
// channel closed; it has missed events and must take a fresh Snapshot.
func (ev *events) Subscribe() (<-chan Event, func()) {
	ev.subMu.Lock()
	defer ev.subMu.Unlock()

	if ev.subs == nil {
		ev.subs = make(map[int]chan Event)
	}
	id := ev.next
	ev.next++
	ch := make(chan Event, subscriberBuffer)
	ev.subs[id] = ch

	return ch, func() {
		ev.subMu.Lock()
		defer ev.subMu.Unlock()
		if _, ok := ev.subs[id]; ok {
			delete(ev.subs, id)
			close(ch)
		}
	}
}

// publishLocked is called with the queue lock held so subscribers see
// events in the order the changes happened.
func (ev *events) publishLocked(e Event) {
	ev.subMu.Lock()
	defer ev.subMu.Unlock()

	for id, ch := range ev.subs {
		select {
		case ch <- e:
		default:
			delete(ev.subs, id)
			close(ch)
		}
	}
}
