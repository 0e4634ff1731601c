package matching

import (
	"fmt"
	"testing"
)

// newTestService builds a service with n registered participants named
// c0..c(n-1) and returns their ids.
func newTestService(t *testing.T, n int) (*Service, []string) {
	t.Helper()
	svc := NewService()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("c%d", i)
		if err := svc.Register(ids[i]); err != nil {
			t.Fatalf("register %s: %v", ids[i], err)
		}
	}
	return svc, ids
}

// mustJoin joins id and fails the test on error.
func mustJoin(t *testing.T, svc *Service, id string) JoinResult {
	t.Helper()
	res, err := svc.RequestJoin(id)
	if err != nil {
		t.Fatalf("join %s: %v", id, err)
	}
	return res
}

// ---------------------------------------------------------------------------
// Test: Registration
// ---------------------------------------------------------------------------

func TestRegister_Duplicate(t *testing.T) {
	svc, ids := newTestService(t, 1)

	if err := svc.Register(ids[0]); err == nil {
		t.Fatal("expected error registering a duplicate id, got nil")
	}
}

func TestRequestJoin_Unregistered(t *testing.T) {
	svc := NewService()

	if _, err := svc.RequestJoin("ghost"); err != ErrNotRegistered {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Test: Queue entry and the first match (waiting -> matched scenario)
// ---------------------------------------------------------------------------

func TestRequestJoin_FirstJoinerWaits(t *testing.T) {
	svc, ids := newTestService(t, 1)

	res := mustJoin(t, svc, ids[0])
	if res.Matched {
		t.Fatal("expected the lone joiner to wait, got a match")
	}

	stats := svc.Snapshot()
	if stats.WaitingCount != 1 {
		t.Errorf("expected 1 waiting, got %d", stats.WaitingCount)
	}
	if stats.ActiveRoomCount != 0 {
		t.Errorf("expected 0 rooms, got %d", stats.ActiveRoomCount)
	}
}

func TestRequestJoin_SecondJoinerMatches(t *testing.T) {
	svc, ids := newTestService(t, 2)

	mustJoin(t, svc, ids[0])
	res := mustJoin(t, svc, ids[1])

	if !res.Matched {
		t.Fatal("expected the second joiner to match")
	}
	if res.PartnerID != ids[0] {
		t.Errorf("expected partner %s, got %s", ids[0], res.PartnerID)
	}
	if res.RoomID == "" {
		t.Error("expected a non-empty room id")
	}

	// Both sides must resolve each other through the room.
	partner, roomID, ok := svc.PartnerOf(ids[0])
	if !ok || partner != ids[1] || roomID != res.RoomID {
		t.Errorf("PartnerOf(%s) = (%s, %s, %v), want (%s, %s, true)",
			ids[0], partner, roomID, ok, ids[1], res.RoomID)
	}

	stats := svc.Snapshot()
	if stats.WaitingCount != 0 {
		t.Errorf("expected empty queue after match, got %d waiting", stats.WaitingCount)
	}
	if stats.ActiveRoomCount != 1 {
		t.Errorf("expected 1 room, got %d", stats.ActiveRoomCount)
	}
}

// ---------------------------------------------------------------------------
// Test: FIFO order and no duplicate queue entries
// ---------------------------------------------------------------------------

func TestRequestJoin_FIFOOrder(t *testing.T) {
	svc, ids := newTestService(t, 4)

	// c0, c1, c2 queue in that order; c3 must get c0, the longest waiter.
	mustJoin(t, svc, ids[0])
	mustJoin(t, svc, ids[1])
	mustJoin(t, svc, ids[2])

	res := mustJoin(t, svc, ids[3])
	if !res.Matched || res.PartnerID != ids[0] {
		t.Fatalf("expected c3 to match the longest waiter c0, got matched=%v partner=%s",
			res.Matched, res.PartnerID)
	}

	// Next joiner gets c1, not c2.
	if err := svc.Register("c4"); err != nil {
		t.Fatalf("register c4: %v", err)
	}
	res = mustJoin(t, svc, "c4")
	if !res.Matched || res.PartnerID != ids[1] {
		t.Fatalf("expected c4 to match c1, got matched=%v partner=%s",
			res.Matched, res.PartnerID)
	}
}

func TestRequestJoin_RepeatJoinKeepsQueuePosition(t *testing.T) {
	svc, ids := newTestService(t, 3)

	mustJoin(t, svc, ids[0])
	mustJoin(t, svc, ids[1])

	// c0 joins again while waiting: it must not be enqueued twice and must
	// keep its head-of-queue position.
	res := mustJoin(t, svc, ids[0])
	if res.Matched {
		t.Fatal("repeated join while waiting must not produce a match")
	}

	stats := svc.Snapshot()
	if stats.WaitingCount != 2 {
		t.Fatalf("expected 2 waiting after repeated join, got %d", stats.WaitingCount)
	}

	res = mustJoin(t, svc, ids[2])
	if !res.Matched || res.PartnerID != ids[0] {
		t.Fatalf("expected c2 to match c0 at the head, got matched=%v partner=%s",
			res.Matched, res.PartnerID)
	}
}

// ---------------------------------------------------------------------------
// Test: Rejoin while matched is an implicit leave
// ---------------------------------------------------------------------------

func TestRequestJoin_WhileMatchedTearsDownOldRoom(t *testing.T) {
	svc, ids := newTestService(t, 2)

	mustJoin(t, svc, ids[0])
	first := mustJoin(t, svc, ids[1])
	if !first.Matched {
		t.Fatal("setup: expected a match")
	}

	// c1 joins again without a stop: old room torn down, c0 named as the
	// stale partner, c1 back in the queue.
	res := mustJoin(t, svc, ids[1])
	if res.Matched {
		t.Fatal("rejoin must not self-match against the stale room")
	}
	if res.StalePartnerID != ids[0] {
		t.Errorf("expected stale partner %s, got %q", ids[0], res.StalePartnerID)
	}

	if _, _, ok := svc.PartnerOf(ids[0]); ok {
		t.Error("old partner must not resolve a room after teardown")
	}

	stats := svc.Snapshot()
	if stats.ActiveRoomCount != 0 {
		t.Errorf("expected 0 rooms after implicit leave, got %d", stats.ActiveRoomCount)
	}
	if stats.WaitingCount != 1 {
		t.Errorf("expected rejoiner to be waiting, got %d waiting", stats.WaitingCount)
	}
}

// ---------------------------------------------------------------------------
// Test: Next-partner flow (leave with requeue)
// ---------------------------------------------------------------------------

func TestLeave_Requeue(t *testing.T) {
	svc, ids := newTestService(t, 2)

	mustJoin(t, svc, ids[0])
	mustJoin(t, svc, ids[1])

	res := svc.Leave(ids[0], true)
	if res.PartnerID != ids[1] {
		t.Fatalf("expected partner %s to be named, got %q", ids[1], res.PartnerID)
	}
	if !res.Requeued {
		t.Fatal("expected leaver to be requeued")
	}

	// The abandoned partner is Idle, not auto-requeued: it must send its own
	// join to get a new match.
	stats := svc.Snapshot()
	if stats.ActiveRoomCount != 0 {
		t.Errorf("expected 0 rooms, got %d", stats.ActiveRoomCount)
	}
	if stats.WaitingCount != 1 {
		t.Errorf("expected only the leaver waiting, got %d", stats.WaitingCount)
	}

	// When the abandoned partner rejoins, the leaver is the longest waiter.
	rejoined := mustJoin(t, svc, ids[1])
	if !rejoined.Matched || rejoined.PartnerID != ids[0] {
		t.Fatalf("expected rejoin to match the requeued leaver, got matched=%v partner=%s",
			rejoined.Matched, rejoined.PartnerID)
	}
}

// ---------------------------------------------------------------------------
// Test: Stop flow (leave without requeue)
// ---------------------------------------------------------------------------

func TestLeave_StopFromRoom(t *testing.T) {
	svc, ids := newTestService(t, 2)

	mustJoin(t, svc, ids[0])
	mustJoin(t, svc, ids[1])

	res := svc.Leave(ids[1], false)
	if res.PartnerID != ids[0] {
		t.Fatalf("expected partner %s, got %q", ids[0], res.PartnerID)
	}
	if res.Requeued {
		t.Error("stop must not requeue the leaver")
	}

	stats := svc.Snapshot()
	if stats.WaitingCount != 0 {
		t.Errorf("expected empty queue, got %d waiting", stats.WaitingCount)
	}
}

func TestLeave_StopWhileWaitingWithdrawsJoin(t *testing.T) {
	svc, ids := newTestService(t, 2)

	mustJoin(t, svc, ids[0])

	res := svc.Leave(ids[0], false)
	if res.PartnerID != "" {
		t.Errorf("expected no partner for a waiting leaver, got %q", res.PartnerID)
	}

	// c0 must no longer be matchable.
	joined := mustJoin(t, svc, ids[1])
	if joined.Matched {
		t.Fatal("a withdrawn waiter must not be matched")
	}
}

func TestLeave_IdempotentProducesOnePartner(t *testing.T) {
	svc, ids := newTestService(t, 2)

	mustJoin(t, svc, ids[0])
	mustJoin(t, svc, ids[1])

	first := svc.Leave(ids[0], false)
	second := svc.Leave(ids[0], false)

	if first.PartnerID != ids[1] {
		t.Errorf("first leave: expected partner %s, got %q", ids[1], first.PartnerID)
	}
	if second.PartnerID != "" {
		t.Errorf("second leave must name no partner, got %q", second.PartnerID)
	}
}

// ---------------------------------------------------------------------------
// Test: Disconnect semantics
// ---------------------------------------------------------------------------

func TestDisconnect_WhileMatched(t *testing.T) {
	svc, ids := newTestService(t, 2)

	mustJoin(t, svc, ids[0])
	mustJoin(t, svc, ids[1])

	res := svc.Disconnect(ids[0])
	if res.PartnerID != ids[1] {
		t.Fatalf("expected partner %s, got %q", ids[1], res.PartnerID)
	}

	// A second disconnect of the same id is a harmless no-op.
	if res := svc.Disconnect(ids[0]); res.PartnerID != "" {
		t.Errorf("repeated disconnect must name no partner, got %q", res.PartnerID)
	}

	stats := svc.Snapshot()
	if stats.ConnectedCount != 1 {
		t.Errorf("expected 1 connected, got %d", stats.ConnectedCount)
	}
	if stats.ActiveRoomCount != 0 {
		t.Errorf("expected 0 rooms, got %d", stats.ActiveRoomCount)
	}
}

func TestDisconnect_WhileWaitingNeverMatchesLater(t *testing.T) {
	svc, ids := newTestService(t, 3)

	// c0 waits, disconnects, then c1 and c2 join. c1 must wait (the queue no
	// longer holds c0) and c2 must match c1.
	mustJoin(t, svc, ids[0])
	svc.Disconnect(ids[0])

	res := mustJoin(t, svc, ids[1])
	if res.Matched {
		t.Fatalf("c1 matched %s, but the queue should have been empty", res.PartnerID)
	}

	res = mustJoin(t, svc, ids[2])
	if !res.Matched || res.PartnerID != ids[1] {
		t.Fatalf("expected c2 to match c1, got matched=%v partner=%s",
			res.Matched, res.PartnerID)
	}
}

// ---------------------------------------------------------------------------
// Test: State partition invariant
// ---------------------------------------------------------------------------

// After an arbitrary operation mix, every room holds exactly two members, no
// member appears in two rooms, and nobody is simultaneously waiting and in a
// room.
func TestSnapshot_RoomsPartitionMembers(t *testing.T) {
	svc, ids := newTestService(t, 6)

	for _, id := range ids {
		mustJoin(t, svc, id) // pairs (c0,c1), (c2,c3), (c4,c5)
	}
	svc.Leave(ids[2], true)  // breaks (c2,c3); c2 waits
	svc.Disconnect(ids[5])   // breaks (c4,c5)
	mustJoin(t, svc, ids[4]) // c4 matches the waiting c2

	stats := svc.Snapshot()
	if stats.ActiveRoomCount != 2 {
		t.Fatalf("expected 2 rooms, got %d", stats.ActiveRoomCount)
	}

	seen := make(map[string]string)
	for _, room := range stats.Rooms {
		if len(room.Members) != 2 {
			t.Fatalf("room %s has %d members", room.RoomID, len(room.Members))
		}
		if room.Members[0] == room.Members[1] {
			t.Fatalf("room %s pairs %s with itself", room.RoomID, room.Members[0])
		}
		for _, member := range room.Members {
			if prev, dup := seen[member]; dup {
				t.Fatalf("%s is in both room %s and room %s", member, prev, room.RoomID)
			}
			seen[member] = room.RoomID
			if _, _, ok := svc.PartnerOf(member); !ok {
				t.Errorf("room member %s does not resolve a partner", member)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Initiator tie-break
// ---------------------------------------------------------------------------

func TestInitiator_Deterministic(t *testing.T) {
	cases := []struct {
		a, b, want string
	}{
		{"aaa", "bbb", "aaa"},
		{"bbb", "aaa", "aaa"},
		{"0f9d", "0f9c", "0f9c"},
	}
	for _, tc := range cases {
		if got := Initiator(tc.a, tc.b); got != tc.want {
			t.Errorf("Initiator(%q, %q) = %q, want %q", tc.a, tc.b, got, tc.want)
		}
		// Symmetric: both sides compute the same winner.
		if Initiator(tc.a, tc.b) != Initiator(tc.b, tc.a) {
			t.Errorf("Initiator(%q, %q) disagrees with the swapped call", tc.a, tc.b)
		}
	}
}

func TestInitiator_PanicsOnEqualIDs(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for equal ids")
		}
	}()
	Initiator("same", "same")
}
