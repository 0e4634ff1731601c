// Package matching owns all pairing state for the signaling server: the
// connection registry, the FIFO waiting queue, and the room table. Every
// mutation goes through Service, which guards the three structures with a
// single lock so that no operation can observe a partially-updated state
// between a queue pop and the dual room-membership update.
package matching

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/pairwave/video-chat/internal/metrics"
)

// ErrNotRegistered is returned for operations on an id with no live
// registry entry.
var ErrNotRegistered = errors.New("matching: connection not registered")

// Service serializes access to the registry, waiting queue, and room table.
// Mutating operations take the write lock for their whole critical section;
// Snapshot takes the read lock so diagnostic queries can run alongside
// in-flight matching without tearing.
type Service struct {
	mu    sync.RWMutex
	reg   *registry
	queue *waitQueue
	rooms *roomTable
}

// NewService creates an empty matching service.
func NewService() *Service {
	return &Service{
		reg:   newRegistry(),
		queue: newWaitQueue(),
		rooms: newRoomTable(),
	}
}

// Register creates an Idle registry entry for a newly-connected participant.
func (s *Service) Register(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reg.register(id); err != nil {
		return err
	}
	metrics.ConnectedClients.Inc()
	return nil
}

// JoinResult describes the outcome of a join request. If Matched is false
// the participant was placed (or already sat) in the waiting queue.
// StalePartnerID is non-empty when the join tore down a previous room (a
// rejoin without a clean stop) and names the partner that must be told.
type JoinResult struct {
	Matched        bool
	RoomID         string
	PartnerID      string
	StalePartnerID string
}

// RequestJoin pairs id with the longest-waiting participant, or enqueues it
// if nobody is waiting. A join from a connection that is still Matched is
// treated as an implicit leave of its current room first: this models
// recovery from a client that reconnects without signaling a clean stop.
func (s *Service) RequestJoin(id string) (JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.reg.lookup(id)
	if e == nil {
		return JoinResult{}, ErrNotRegistered
	}

	var res JoinResult
	if e.State == StateMatched {
		res.StalePartnerID = s.teardownRoomLocked(id)
	}

	// Already queued: keep the original position, never enqueue twice.
	if e.State == StateWaiting {
		return res, nil
	}

	// FIFO: serve the oldest waiter first. The loop is defensive — the
	// queue can only hold registered ids, since disconnects dequeue under
	// the same lock.
	for {
		partnerID, ok := s.queue.pop()
		if !ok {
			break
		}
		p := s.reg.lookup(partnerID)
		if p == nil {
			log.Printf("matching: dropping unregistered id %s from queue", partnerID)
			continue
		}
		metrics.WaitingClients.Dec()
		metrics.MatchWaitTime.Observe(time.Since(p.EnqueuedAt).Seconds())

		room := s.rooms.create(id, partnerID)
		e.State, e.RoomID = StateMatched, room.ID
		p.State, p.RoomID = StateMatched, room.ID
		metrics.ActiveRooms.Inc()

		res.Matched = true
		res.RoomID = room.ID
		res.PartnerID = partnerID
		return res, nil
	}

	s.queue.push(id)
	e.State = StateWaiting
	e.EnqueuedAt = time.Now()
	metrics.WaitingClients.Inc()
	return res, nil
}

// LeaveResult describes the outcome of an explicit leave. PartnerID is
// non-empty when a room existed; the caller owes that partner exactly one
// partner-left notification.
type LeaveResult struct {
	PartnerID string
	Requeued  bool
}

// Leave tears down id's current room. With requeue set (the "next partner"
// flow) the leaver re-enters the waiting queue at the tail; without it (the
// "stop" flow) the leaver returns to Idle, and if it was still waiting it is
// dequeued. Calling Leave for an id with no room is a no-op, so a disconnect
// racing a next-partner request cannot double-notify the partner.
func (s *Service) Leave(id string, requeue bool) LeaveResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.reg.lookup(id)
	if e == nil {
		return LeaveResult{}
	}

	partnerID := s.teardownRoomLocked(id)
	if partnerID == "" {
		// No room. A stop while still queued withdraws the join request.
		if !requeue && e.State == StateWaiting {
			if s.queue.remove(id) {
				metrics.WaitingClients.Dec()
			}
			e.State = StateIdle
		}
		return LeaveResult{}
	}

	if requeue {
		s.queue.push(id)
		e.State = StateWaiting
		e.EnqueuedAt = time.Now()
		metrics.WaitingClients.Inc()
	}
	return LeaveResult{PartnerID: partnerID, Requeued: requeue}
}

// DisconnectResult names the partner to notify after a transport disconnect,
// if the departed connection was in a room.
type DisconnectResult struct {
	PartnerID string
}

// Disconnect removes id everywhere: its room (partner notified by the
// caller), the waiting queue, and the registry. Safe to call at any point
// relative to in-flight matching or relay operations, and idempotent.
func (s *Service) Disconnect(id string) DisconnectResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	partnerID := s.teardownRoomLocked(id)
	if s.queue.remove(id) {
		metrics.WaitingClients.Dec()
	}
	if _, _, ok := s.reg.remove(id); ok {
		metrics.ConnectedClients.Dec()
	}
	return DisconnectResult{PartnerID: partnerID}
}

// PartnerOf returns the room partner of id, for relay routing. ok is false
// when id has no current room.
func (s *Service) PartnerOf(id string) (partnerID, roomID string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.reg.lookup(id)
	if e == nil || e.State != StateMatched {
		return "", "", false
	}
	room := s.rooms.get(e.RoomID)
	if room == nil {
		return "", "", false
	}
	return room.Other(id), room.ID, true
}

// teardownRoomLocked destroys id's room, resets both members to Idle, and
// returns the other member's id ("" if id had no room). Callers decide what
// the leaving member transitions to next. Must be called with mu held.
func (s *Service) teardownRoomLocked(id string) string {
	e := s.reg.lookup(id)
	if e == nil || e.RoomID == "" {
		return ""
	}
	room := s.rooms.get(e.RoomID)
	if room == nil {
		// Referential consistency means this cannot happen; recover anyway.
		e.State, e.RoomID = StateIdle, ""
		return ""
	}

	partnerID := room.Other(id)
	s.rooms.destroy(room.ID)
	metrics.ActiveRooms.Dec()
	metrics.RoomDuration.Observe(time.Since(room.CreatedAt).Seconds())

	e.State, e.RoomID = StateIdle, ""
	if p := s.reg.lookup(partnerID); p != nil {
		p.State, p.RoomID = StateIdle, ""
	}
	log.Printf("matching: room %s closed (%s, %s) after %s",
		room.ID, room.MemberA, room.MemberB, time.Since(room.CreatedAt).Round(time.Millisecond))
	return partnerID
}

// RoomInfo is one row of the diagnostic rooms listing.
type RoomInfo struct {
	RoomID          string   `json:"roomId"`
	Members         []string `json:"members"`
	DurationSeconds float64  `json:"durationSeconds"`
}

// Stats is a read-only snapshot of the pairing state.
type Stats struct {
	ConnectedCount  int        `json:"connectedCount"`
	WaitingCount    int        `json:"waitingCount"`
	ActiveRoomCount int        `json:"activeRoomCount"`
	Rooms           []RoomInfo `json:"rooms"`
}

// Snapshot returns a consistent view of the registry, queue, and room table.
func (s *Service) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		ConnectedCount:  s.reg.count(),
		WaitingCount:    s.queue.size(),
		ActiveRoomCount: s.rooms.count(),
		Rooms:           make([]RoomInfo, 0, s.rooms.count()),
	}
	for _, room := range s.rooms.rooms {
		stats.Rooms = append(stats.Rooms, RoomInfo{
			RoomID:          room.ID,
			Members:         []string{room.MemberA, room.MemberB},
			DurationSeconds: time.Since(room.CreatedAt).Seconds(),
		})
	}
	return stats
}
