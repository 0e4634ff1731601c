package matching

import (
	"errors"
	"time"
)

// Pairing states for a registered connection.
const (
	StateIdle    = "idle"
	StateWaiting = "waiting"
	StateMatched = "matched"
)

// ErrDuplicateID is returned when registering an id that is already present.
// It should not occur in practice since ids are server-assigned UUIDs.
var ErrDuplicateID = errors.New("matching: duplicate connection id")

// Entry tracks one live participant connection and its pairing state. RoomID
// is non-empty if and only if State is StateMatched. EnqueuedAt records when
// the connection entered the waiting queue, for wait-time reporting.
type Entry struct {
	ID         string
	State      string
	RoomID     string
	EnqueuedAt time.Time
}

// registry is the single source of truth for live connections. It is not
// safe for concurrent use on its own; the owning Service serializes access.
type registry struct {
	entries map[string]*Entry
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*Entry)}
}

// register creates an Idle entry for id.
func (r *registry) register(id string) error {
	if _, ok := r.entries[id]; ok {
		return ErrDuplicateID
	}
	r.entries[id] = &Entry{ID: id, State: StateIdle}
	return nil
}

// lookup returns the entry for id, or nil if not registered.
func (r *registry) lookup(id string) *Entry {
	return r.entries[id]
}

// remove deletes the entry and returns its last known state so callers can
// perform cleanup. Removing an absent id is a no-op, not an error.
func (r *registry) remove(id string) (state string, roomID string, ok bool) {
	e, ok := r.entries[id]
	if !ok {
		return "", "", false
	}
	delete(r.entries, id)
	return e.State, e.RoomID, true
}

func (r *registry) count() int {
	return len(r.entries)
}
