package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pairwave/video-chat/internal/matching"
	"github.com/pairwave/video-chat/internal/protocol"
)

// sentMessage is one delivery captured by the recording sender.
type sentMessage struct {
	connID string
	data   []byte
}

// recorder captures every delivery the relay makes.
type recorder struct {
	messages []sentMessage
}

func (r *recorder) send(connID string, data []byte) error {
	r.messages = append(r.messages, sentMessage{connID: connID, data: data})
	return nil
}

// to returns the captured messages delivered to connID.
func (r *recorder) to(connID string) []sentMessage {
	var out []sentMessage
	for _, m := range r.messages {
		if m.connID == connID {
			out = append(out, m)
		}
	}
	return out
}

// newMatchedPair builds a relay over a service where "alice" and "bob" share
// a room.
func newMatchedPair(t *testing.T) (*Relay, *recorder) {
	t.Helper()
	svc := matching.NewService()
	rec := &recorder{}
	for _, id := range []string{"alice", "bob", "carol"} {
		if err := svc.Register(id); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	if _, err := svc.RequestJoin("alice"); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	res, err := svc.RequestJoin("bob")
	if err != nil {
		t.Fatalf("join bob: %v", err)
	}
	if !res.Matched {
		t.Fatal("setup: expected alice and bob to match")
	}
	return New(svc, rec.send), rec
}

func decode(t *testing.T, data []byte) (string, interface{}) {
	t.Helper()
	msgType, msg, err := protocol.ParseServerMessage(data)
	if err != nil {
		t.Fatalf("relayed message does not parse: %v", err)
	}
	return msgType, msg
}

// ---------------------------------------------------------------------------
// Test: Offer is forwarded verbatim to exactly the partner
// ---------------------------------------------------------------------------

func TestOffer_ForwardedToPartner(t *testing.T) {
	r, rec := newMatchedPair(t)

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	r.Offer("alice", offer)

	if len(rec.messages) != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", len(rec.messages))
	}
	if rec.messages[0].connID != "bob" {
		t.Fatalf("expected delivery to bob, got %s", rec.messages[0].connID)
	}

	msgType, msg := decode(t, rec.messages[0].data)
	if msgType != protocol.TypeOffer {
		t.Fatalf("expected type %q, got %q", protocol.TypeOffer, msgType)
	}
	om := msg.(protocol.OfferMsg)
	if om.From != "alice" {
		t.Errorf("expected from alice, got %q", om.From)
	}
	if string(om.Offer) != string(offer) {
		t.Errorf("offer payload altered:\n  sent %s\n  got  %s", offer, om.Offer)
	}
}

// ---------------------------------------------------------------------------
// Test: Candidates relay individually, in order
// ---------------------------------------------------------------------------

func TestCandidate_RelayedInOrder(t *testing.T) {
	r, rec := newMatchedPair(t)

	first := json.RawMessage(`{"candidate":"candidate:1"}`)
	second := json.RawMessage(`{"candidate":"candidate:2"}`)
	r.Candidate("bob", first)
	r.Candidate("bob", second)

	got := rec.to("alice")
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries to alice, got %d", len(got))
	}
	for i, want := range []json.RawMessage{first, second} {
		_, msg := decode(t, got[i].data)
		cm := msg.(protocol.ICECandidateMsg)
		if string(cm.Candidate) != string(want) {
			t.Errorf("candidate %d: expected %s, got %s", i, want, cm.Candidate)
		}
		if cm.From != "bob" {
			t.Errorf("candidate %d: expected from bob, got %q", i, cm.From)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: No room means drop, not deliver and not fail
// ---------------------------------------------------------------------------

func TestForward_NoRoomDropsSilently(t *testing.T) {
	r, rec := newMatchedPair(t)

	// carol is registered but unmatched.
	r.Offer("carol", json.RawMessage(`{"type":"offer","sdp":"v=0"}`))
	r.Answer("carol", json.RawMessage(`{"type":"answer","sdp":"v=0"}`))

	if len(rec.messages) != 0 {
		t.Fatalf("expected 0 deliveries for a roomless sender, got %d", len(rec.messages))
	}

	// The pipeline still works for the matched pair afterwards.
	r.Offer("alice", json.RawMessage(`{"type":"offer","sdp":"v=0"}`))
	if len(rec.to("bob")) != 1 {
		t.Fatal("expected relay to keep working after a drop")
	}
}

// ---------------------------------------------------------------------------
// Test: Chat relays with timestamp and acknowledges the sender
// ---------------------------------------------------------------------------

func TestChat_RelayAndAck(t *testing.T) {
	r, rec := newMatchedPair(t)

	before := time.Now().UnixMilli()
	if err := r.Chat("alice", "hello bob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after := time.Now().UnixMilli()

	toBob := rec.to("bob")
	if len(toBob) != 1 {
		t.Fatalf("expected 1 delivery to bob, got %d", len(toBob))
	}
	msgType, msg := decode(t, toBob[0].data)
	if msgType != protocol.TypeChatMessage {
		t.Fatalf("expected type %q, got %q", protocol.TypeChatMessage, msgType)
	}
	cm := msg.(protocol.ChatMessageMsg)
	if cm.Message != "hello bob" || cm.From != "alice" {
		t.Errorf("relayed chat = (%q, from %q)", cm.Message, cm.From)
	}
	if cm.Timestamp < before || cm.Timestamp > after {
		t.Errorf("timestamp %d outside [%d, %d]", cm.Timestamp, before, after)
	}

	toAlice := rec.to("alice")
	if len(toAlice) != 1 {
		t.Fatalf("expected 1 ack to alice, got %d", len(toAlice))
	}
	ackType, ackMsg := decode(t, toAlice[0].data)
	if ackType != protocol.TypeChatSent {
		t.Fatalf("expected ack type %q, got %q", protocol.TypeChatSent, ackType)
	}
	ack := ackMsg.(protocol.ChatSentMsg)
	if ack.Timestamp != cm.Timestamp {
		t.Errorf("ack timestamp %d differs from relayed %d", ack.Timestamp, cm.Timestamp)
	}
}

func TestChat_InvalidMessageRejected(t *testing.T) {
	r, rec := newMatchedPair(t)

	if err := r.Chat("alice", ""); err == nil {
		t.Fatal("expected a validation error for an empty message")
	}
	if len(rec.messages) != 0 {
		t.Fatalf("expected no deliveries for a rejected message, got %d", len(rec.messages))
	}
}

func TestChat_NoRoomDropped(t *testing.T) {
	r, rec := newMatchedPair(t)

	if err := r.Chat("carol", "anyone there?"); err != nil {
		t.Fatalf("a roomless chat drop must not error, got %v", err)
	}
	if len(rec.messages) != 0 {
		t.Fatalf("expected no deliveries, got %d", len(rec.messages))
	}
}
