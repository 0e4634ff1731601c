// Package protocol defines the WebSocket message types and structures exchanged
// between clients and the signaling server. All messages are serialized as JSON
// and follow a consistent envelope format with a type discriminator. Session
// descriptions and ICE candidates are carried as raw JSON: the server relays
// them verbatim and never interprets their contents.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinChat    = "join-chat"
	TypeNextPartner = "next-partner"
	TypeStop        = "stop"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeConnected   = "connected"
	TypeWaiting     = "waiting"
	TypeMatched     = "matched"
	TypeChatSent    = "chat-message-sent"
	TypePartnerLeft = "partner-left"
	TypeError       = "error"
	TypePong        = "pong"
)

// Bidirectional message types. Sent by a client, forwarded by the server to
// the client's room partner with a "from" tag.
const (
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeChatMessage  = "chat-message"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinChatMsg is sent by the client to request a partner. The server either
// matches it with the longest-waiting participant or enqueues it.
type JoinChatMsg struct {
	Type string `json:"type"`
}

// NextPartnerMsg is sent by the client to leave its current room and re-enter
// the waiting queue.
type NextPartnerMsg struct {
	Type string `json:"type"`
}

// StopMsg is sent by the client to end its current pairing without requesting
// a new one.
type StopMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Bidirectional signaling message structs
// ---------------------------------------------------------------------------

// OfferMsg carries a session-description offer. From is empty when sent by a
// client and filled in by the server before forwarding to the partner.
type OfferMsg struct {
	Type  string          `json:"type"`
	Offer json.RawMessage `json:"offer"`
	From  string          `json:"from,omitempty"`
}

// AnswerMsg carries a session-description answer. From is set by the server
// on the forwarded copy.
type AnswerMsg struct {
	Type   string          `json:"type"`
	Answer json.RawMessage `json:"answer"`
	From   string          `json:"from,omitempty"`
}

// ICECandidateMsg carries a single connectivity candidate. Candidates are
// relayed individually, in discovery order, never batched.
type ICECandidateMsg struct {
	Type      string          `json:"type"`
	Candidate json.RawMessage `json:"candidate"`
	From      string          `json:"from,omitempty"`
}

// ChatMessageMsg is a text message sent by a client to its room partner. On
// the relayed copy the server sets From and Timestamp.
type ChatMessageMsg struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	From      string `json:"from,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg is sent once after the WebSocket upgrade. Clients need their
// own id to compute the offer-initiator tie-break against a future partner.
type ConnectedMsg struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

// WaitingMsg tells the client it has been placed in the waiting queue.
type WaitingMsg struct {
	Type string `json:"type"`
}

// MatchedMsg tells the client it has been paired. Both room members receive
// it with the same room id and each other's client id.
type MatchedMsg struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	PartnerID string `json:"partnerId"`
}

// ChatSentMsg is the delivery acknowledgment for a chat message, echoing the
// original text with the server-assigned timestamp.
type ChatSentMsg struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// PartnerLeftMsg tells the client its room partner has left, disconnected, or
// requested a new partner.
type PartnerLeftMsg struct {
	Type string `json:"type"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinChat:
		var m JoinChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeNextPartner:
		var m NextPartnerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStop:
		var m StopMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeOffer:
		var m OfferMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeAnswer:
		var m AnswerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeICECandidate:
		var m ICECandidateMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeChatMessage:
		var m ChatMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// ParseServerMessage parses raw bytes into a typed server message. It is used
// by the headless client to decode everything the server can send, including
// relayed signaling messages.
func ParseServerMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeConnected:
		var m ConnectedMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeWaiting:
		var m WaitingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMatched:
		var m MatchedMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeOffer:
		var m OfferMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeAnswer:
		var m AnswerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeICECandidate:
		var m ICECandidateMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeChatMessage:
		var m ChatMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeChatSent:
		var m ChatSentMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePartnerLeft:
		var m PartnerLeftMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeError:
		var m ErrorMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePong:
		var m PongMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown server message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the message structs above; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
