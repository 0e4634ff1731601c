// Package negotiation drives a participant's local peer transport through the
// offer/answer/candidate exchange, using the signaling relay as its only
// channel to the partner. The state machine depends on an injected
// PeerTransport capability rather than a concrete WebRTC implementation, so
// it can be unit-tested with a fake.
package negotiation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/pairwave/video-chat/internal/matching"
)

// Negotiation states. Closed is terminal and reachable from any state via
// partner-left, explicit stop, or transport failure.
const (
	StateIdle           = "idle"
	StateAwaitingMatch  = "awaiting-match"
	StateOffering       = "offering"
	StateAwaitingOffer  = "awaiting-offer"
	StateAwaitingAnswer = "awaiting-answer"
	StateAnswering      = "answering"
	StateConnected      = "connected"
	StateClosed         = "closed"
)

// Description is a session description exchanged during negotiation. The
// server relays it verbatim; only the two peers interpret it.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// PeerTransport is the opaque peer-transport capability provided by the
// runtime environment. Connectivity checks, encryption, and media transport
// all live behind it; the state machine only negotiates.
type PeerTransport interface {
	CreateOffer() (Description, error)
	CreateAnswer() (Description, error)
	SetLocalDescription(Description) error
	SetRemoteDescription(Description) error
	AddRemoteCandidate(candidate json.RawMessage) error

	// OnCandidate registers the callback for locally-discovered connectivity
	// candidates. Each candidate must be relayed immediately and
	// individually, in discovery order.
	OnCandidate(func(candidate json.RawMessage))

	// OnConnectionStateChange registers the callback for transport
	// connection-state transitions (connecting/connected/failed/
	// disconnected/closed).
	OnConnectionStateChange(func(state string))

	Close() error
}

// TransportFactory constructs a PeerTransport bound to a room. The initiator
// flag lets implementations pre-create outbound channels before offering.
type TransportFactory func(roomID string, initiator bool) (PeerTransport, error)

// Signaler delivers local negotiation messages to the partner through the
// relay.
type Signaler interface {
	SendOffer(Description) error
	SendAnswer(Description) error
	SendCandidate(candidate json.RawMessage) error
}

// ErrSelfMatch is returned if the server ever pairs a participant with
// itself. The matching algorithm removes a participant from the queue before
// it can be offered as a partner, so this guards an invariant rather than an
// expected path.
var ErrSelfMatch = errors.New("negotiation: matched with own id")

// Machine is the per-participant negotiation state machine. A participant is
// in at most one room at a time, so there is exactly one Machine per active
// room membership. All handlers are safe for concurrent use: signaling
// messages and transport callbacks may arrive in any order relative to each
// other.
type Machine struct {
	selfID   string
	factory  TransportFactory
	signaler Signaler

	mu        sync.Mutex
	state     string
	roomID    string
	partnerID string
	initiator bool
	transport PeerTransport
	remoteSet bool
	pending   []json.RawMessage // remote candidates buffered until a remote description exists

	onStateChange func(state string) // optional observer, called outside the lock
}

// NewMachine creates an Idle machine for the participant with the given id.
func NewMachine(selfID string, factory TransportFactory, signaler Signaler) *Machine {
	return &Machine{
		selfID:   selfID,
		factory:  factory,
		signaler: signaler,
		state:    StateIdle,
	}
}

// SetOnStateChange registers an observer for state transitions. Must be set
// before the machine starts handling events.
func (m *Machine) SetOnStateChange(fn func(state string)) {
	m.onStateChange = fn
}

// State returns the current negotiation state.
func (m *Machine) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AwaitMatch marks the machine as waiting for the server to pair it. Called
// when the join request is sent.
func (m *Machine) AwaitMatch() {
	m.mu.Lock()
	m.setStateLocked(StateAwaitingMatch)
	m.mu.Unlock()
}

// HandleMatched reacts to the matched event: it computes the initiator role
// from the two ids, constructs the local peer transport bound to the room,
// and either sends an offer (initiator) or waits for one.
func (m *Machine) HandleMatched(roomID, partnerID string) error {
	if m.selfID == partnerID {
		return ErrSelfMatch
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return nil
	}

	// Both sides compute the same initiator from {selfID, partnerID} alone;
	// no further coordination is needed.
	m.initiator = matching.Initiator(m.selfID, partnerID) == m.selfID
	m.roomID = roomID
	m.partnerID = partnerID
	m.remoteSet = false
	m.pending = nil

	transport, err := m.factory(roomID, m.initiator)
	if err != nil {
		m.setStateLocked(StateClosed)
		return fmt.Errorf("negotiation: create transport: %w", err)
	}
	m.transport = transport

	// Candidate relay is direct: no batching, no delay, discovery order.
	transport.OnCandidate(func(candidate json.RawMessage) {
		if err := m.signaler.SendCandidate(candidate); err != nil {
			log.Printf("negotiation: send candidate: %v", err)
		}
	})
	transport.OnConnectionStateChange(m.handleTransportState)

	if !m.initiator {
		m.setStateLocked(StateAwaitingOffer)
		return nil
	}

	m.setStateLocked(StateOffering)
	offer, err := transport.CreateOffer()
	if err != nil {
		m.closeLocked()
		return fmt.Errorf("negotiation: create offer: %w", err)
	}
	if err := transport.SetLocalDescription(offer); err != nil {
		m.closeLocked()
		return fmt.Errorf("negotiation: set local offer: %w", err)
	}
	if err := m.signaler.SendOffer(offer); err != nil {
		m.closeLocked()
		return fmt.Errorf("negotiation: send offer: %w", err)
	}
	m.setStateLocked(StateAwaitingAnswer)
	return nil
}

// HandleOffer reacts to a relayed offer. Only the non-initiator expects one;
// an offer in any other state is a protocol-ordering anomaly (renegotiation
// attempt or duplicate delivery) and is logged and ignored, never fatal.
func (m *Machine) HandleOffer(offer Description) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAwaitingOffer {
		log.Printf("negotiation: ignoring offer in state %s", m.state)
		return nil
	}

	if err := m.transport.SetRemoteDescription(offer); err != nil {
		m.closeLocked()
		return fmt.Errorf("negotiation: set remote offer: %w", err)
	}
	m.remoteSet = true
	m.flushPendingLocked()

	answer, err := m.transport.CreateAnswer()
	if err != nil {
		m.closeLocked()
		return fmt.Errorf("negotiation: create answer: %w", err)
	}
	if err := m.transport.SetLocalDescription(answer); err != nil {
		m.closeLocked()
		return fmt.Errorf("negotiation: set local answer: %w", err)
	}
	if err := m.signaler.SendAnswer(answer); err != nil {
		m.closeLocked()
		return fmt.Errorf("negotiation: send answer: %w", err)
	}
	m.setStateLocked(StateAnswering)
	return nil
}

// HandleAnswer reacts to a relayed answer. Only the initiator expects one;
// anything else is logged and ignored.
func (m *Machine) HandleAnswer(answer Description) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAwaitingAnswer {
		log.Printf("negotiation: ignoring answer in state %s", m.state)
		return nil
	}

	if err := m.transport.SetRemoteDescription(answer); err != nil {
		m.closeLocked()
		return fmt.Errorf("negotiation: set remote answer: %w", err)
	}
	m.remoteSet = true
	m.flushPendingLocked()
	return nil
}

// HandleCandidate hands a relayed connectivity candidate to the transport.
// Candidates that arrive before a remote description exists are buffered and
// flushed once it does, rather than dropped.
func (m *Machine) HandleCandidate(candidate json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed || m.state == StateIdle {
		return
	}
	if m.transport == nil || !m.remoteSet {
		m.pending = append(m.pending, candidate)
		return
	}
	if err := m.transport.AddRemoteCandidate(candidate); err != nil {
		log.Printf("negotiation: add candidate: %v", err)
	}
}

// HandlePartnerLeft tears down the local transport and returns the machine
// to Idle so a new join can reuse it.
func (m *Machine) HandlePartnerLeft() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked(StateIdle)
}

// Stop terminates negotiation permanently: the transport is torn down and
// the machine enters the Closed state.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked(StateClosed)
}

// handleTransportState observes transport connection-state changes. They are
// surfaced but never trigger renegotiation: a failed transport is terminal
// for the room, and recovery requires a new partner request.
func (m *Machine) handleTransportState(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log.Printf("negotiation: transport state %s (room %s)", state, m.roomID)

	switch state {
	case "connected":
		if m.state != StateClosed && m.state != StateIdle {
			m.setStateLocked(StateConnected)
		}
	case "failed":
		log.Printf("negotiation: transport failed for room %s", m.roomID)
		m.resetLocked(StateClosed)
	}
}

// flushPendingLocked hands buffered remote candidates to the transport in
// arrival order. Must be called with mu held and a remote description set.
func (m *Machine) flushPendingLocked() {
	for _, candidate := range m.pending {
		if err := m.transport.AddRemoteCandidate(candidate); err != nil {
			log.Printf("negotiation: add buffered candidate: %v", err)
		}
	}
	m.pending = nil
}

// resetLocked discards all negotiation state and moves to next (StateIdle or
// StateClosed). Must be called with mu held.
func (m *Machine) resetLocked(next string) {
	m.closeLocked()
	m.setStateLocked(next)
}

// closeLocked tears down the transport without changing state beyond Closed
// on error paths. Must be called with mu held.
func (m *Machine) closeLocked() {
	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			log.Printf("negotiation: close transport: %v", err)
		}
		m.transport = nil
	}
	m.roomID = ""
	m.partnerID = ""
	m.remoteSet = false
	m.pending = nil
	if m.state != StateClosed && m.state != StateIdle {
		m.state = StateClosed
	}
}

func (m *Machine) setStateLocked(state string) {
	if m.state == state {
		return
	}
	m.state = state
	if m.onStateChange != nil {
		fn := m.onStateChange
		go fn(state)
	}
}
