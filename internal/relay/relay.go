// Package relay implements the stateless signaling pass-through between the
// two members of a room. Payloads are forwarded verbatim, tagged with the
// sender's id, to exactly the other member — never broadcast and never echoed
// to the sender. Messages from a connection with no current room are dropped
// with a diagnostic; that is malformed or out-of-order client behavior, not a
// server error, so the connection stays up.
package relay

import (
	"encoding/json"
	"log"
	"time"

	"github.com/pairwave/video-chat/internal/chat"
	"github.com/pairwave/video-chat/internal/matching"
	"github.com/pairwave/video-chat/internal/metrics"
	"github.com/pairwave/video-chat/internal/protocol"
)

// SendFunc delivers raw bytes to the connection identified by connID.
// Delivery is fire-and-forget from the relay's perspective; errors are
// logged, never propagated back to the sender.
type SendFunc func(connID string, data []byte) error

// Relay routes signaling messages by room membership, looked up through the
// matching service. It holds no state of its own.
type Relay struct {
	svc  *matching.Service
	send SendFunc
}

// New creates a Relay that resolves room membership via svc and delivers
// through send.
func New(svc *matching.Service, send SendFunc) *Relay {
	return &Relay{svc: svc, send: send}
}

// Offer forwards a session-description offer to the sender's room partner.
func (r *Relay) Offer(from string, offer json.RawMessage) {
	r.forward(from, protocol.TypeOffer, protocol.OfferMsg{Offer: offer, From: from})
}

// Answer forwards a session-description answer to the sender's room partner.
func (r *Relay) Answer(from string, answer json.RawMessage) {
	r.forward(from, protocol.TypeAnswer, protocol.AnswerMsg{Answer: answer, From: from})
}

// Candidate forwards a single connectivity candidate to the sender's room
// partner. Candidates are relayed one at a time, as they arrive.
func (r *Relay) Candidate(from string, candidate json.RawMessage) {
	r.forward(from, protocol.TypeICECandidate, protocol.ICECandidateMsg{Candidate: candidate, From: from})
}

// Chat validates a text message, forwards it to the sender's room partner,
// and acknowledges delivery to the sender with the server-assigned timestamp.
// A validation error is returned so the caller can surface it to the sender.
func (r *Relay) Chat(from, text string) error {
	if err := chat.ValidateMessage(text); err != nil {
		return err
	}

	partnerID, _, ok := r.svc.PartnerOf(from)
	if !ok {
		r.drop(from, protocol.TypeChatMessage)
		return nil
	}

	ts := time.Now().UnixMilli()

	relayed, err := protocol.NewServerMessage(protocol.TypeChatMessage, protocol.ChatMessageMsg{
		Message:   text,
		From:      from,
		Timestamp: ts,
	})
	if err != nil {
		log.Printf("relay: failed to build chat-message from=%s: %v", from, err)
		return nil
	}
	if err := r.send(partnerID, relayed); err != nil {
		log.Printf("relay: deliver chat-message to %s failed: %v", partnerID, err)
	}
	metrics.MessagesRelayed.WithLabelValues(protocol.TypeChatMessage).Inc()

	ack, err := protocol.NewServerMessage(protocol.TypeChatSent, protocol.ChatSentMsg{
		Message:   text,
		Timestamp: ts,
	})
	if err != nil {
		log.Printf("relay: failed to build chat-message-sent for %s: %v", from, err)
		return nil
	}
	if err := r.send(from, ack); err != nil {
		log.Printf("relay: deliver chat-message-sent to %s failed: %v", from, err)
	}
	return nil
}

// forward looks up the sender's partner and delivers the payload. The room
// lookup and the delivery are deliberately not atomic: a teardown racing a
// relay at worst sends one message to a connection that no longer cares,
// which the ws layer absorbs.
func (r *Relay) forward(from, msgType string, payload interface{}) {
	partnerID, _, ok := r.svc.PartnerOf(from)
	if !ok {
		r.drop(from, msgType)
		return
	}

	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("relay: failed to build %s from=%s: %v", msgType, from, err)
		return
	}
	if err := r.send(partnerID, data); err != nil {
		log.Printf("relay: deliver %s to %s failed: %v", msgType, partnerID, err)
		return
	}
	metrics.MessagesRelayed.WithLabelValues(msgType).Inc()
}

func (r *Relay) drop(from, msgType string) {
	log.Printf("relay: dropping %s from %s (no room)", msgType, from)
	metrics.MessagesDropped.WithLabelValues(msgType).Inc()
}
