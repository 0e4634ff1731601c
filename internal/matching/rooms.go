package matching

import (
	"time"

	"github.com/google/uuid"
)

// Room is the server-side record of one active one-to-one pairing. Room ids
// are UUIDs so they are unguessable and collision-free across concurrent
// creations. CreatedAt is used only for diagnostics and duration reporting.
type Room struct {
	ID        string
	MemberA   string
	MemberB   string
	CreatedAt time.Time
}

// Has reports whether id is one of the room's two members.
func (r *Room) Has(id string) bool {
	return r.MemberA == id || r.MemberB == id
}

// Other returns the room member that is not id. Calling it with an id that
// is not a member returns the empty string.
func (r *Room) Other(id string) string {
	switch id {
	case r.MemberA:
		return r.MemberB
	case r.MemberB:
		return r.MemberA
	}
	return ""
}

// roomTable owns the set of active rooms, keyed by room id. Serialized by
// the owning Service.
type roomTable struct {
	rooms map[string]*Room
}

func newRoomTable() *roomTable {
	return &roomTable{rooms: make(map[string]*Room)}
}

func (t *roomTable) create(memberA, memberB string) *Room {
	room := &Room{
		ID:        uuid.New().String(),
		MemberA:   memberA,
		MemberB:   memberB,
		CreatedAt: time.Now(),
	}
	t.rooms[room.ID] = room
	return room
}

func (t *roomTable) get(roomID string) *Room {
	return t.rooms[roomID]
}

func (t *roomTable) destroy(roomID string) {
	delete(t.rooms, roomID)
}

func (t *roomTable) count() int {
	return len(t.rooms)
}

// Initiator returns the room member that must create the offer: the
// lexicographically lesser of the two ids. It is a pure function, so both
// sides independently compute the same answer without coordination. The ids
// must be distinct; the matching algorithm removes a participant from the
// queue before it can be offered as its own partner, and this assertion
// makes that invariant explicit.
func Initiator(a, b string) string {
	if a == b {
		panic("matching: initiator tie-break requires two distinct ids")
	}
	if a < b {
		return a
	}
	return b
}
