package queue

import (
	"errors"
	"strings"

	kit "postbot/internal/transport"
)

var (
	// ErrDuplicate is returned by Enqueue when an item with the same unique id is queued.
	ErrDuplicate = errors.New("queue: duplicate item")
	// ErrPersist wraps failures writing the queue file. The queue is left unchanged.
	ErrPersist = errors.New("queue: persist failed")
	ErrInvalid = errors.New("queue: invalid item")
)

// Item is one queued media reference. ID is the platform file reference used to
// publish; UniqueID is the stable deduplication key.
type Item struct {
	ID       string        `json:"id"`
	UniqueID string        `json:"uniqueId"`
	Kind     kit.MediaKind `json:"kind,omitempty"`
}

func (it Item) validate() error {
	if strings.TrimSpace(it.ID) == "" || strings.TrimSpace(it.UniqueID) == "" {
		return ErrInvalid
	}
	return nil
}

// Media converts the item into a sendable media reference.
func (it Item) Media() kit.Media {
	k := it.Kind
	if k == "" {
		k = kit.MediaPhoto
	}
	return kit.Media{Kind: k, FileID: it.ID, UniqueID: it.UniqueID}
}

// FromMedia builds a queue item from received media.
func FromMedia(m kit.Media) Item {
	return Item{ID: m.FileID, UniqueID: m.UniqueID, Kind: m.Kind}
}
