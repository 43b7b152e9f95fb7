package server

import "sync"

// occupancyHub tracks which sessions currently occupy which room. A
// session occupies at most one room at a time; occupancy is distinct
// from durable membership and vanishes on leave or disconnect.
type occupancyHub struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]*clientSession
	assigned map[string]string
}

func newOccupancyHub() *occupancyHub {
	return &occupancyHub{
		rooms:    make(map[string]map[string]*clientSession),
		assigned: make(map[string]string),
	}
}

// Assign moves the session into the named room and returns the room it
// previously occupied ("" if none). Assigning the current room again
// is a no-op that still returns it.
func (h *occupancyHub) Assign(s *clientSession, room string) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	previous := h.assigned[s.id]
	if previous == room {
		return previous
	}
	if previous != "" {
		h.removeLocked(previous, s.id)
	}
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[string]*clientSession)
	}
	h.rooms[room][s.id] = s
	h.assigned[s.id] = room
	return previous
}

// Drop clears the session's occupancy, reporting the room it was in.
// Safe to call for sessions that never completed a join.
func (h *occupancyHub) Drop(s *clientSession) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.assigned[s.id]
	if !ok {
		return "", false
	}
	h.removeLocked(room, s.id)
	delete(h.assigned, s.id)
	return room, true
}

func (h *occupancyHub) removeLocked(room, sessionID string) {
	if occupants, ok := h.rooms[room]; ok {
		delete(occupants, sessionID)
		if len(occupants) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Occupants returns the sessions currently assigned to the room.
func (h *occupancyHub) Occupants(room string) []*clientSession {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*clientSession, 0, len(h.rooms[room]))
	for _, s := range h.rooms[room] {
		out = append(out, s)
	}
	return out
}

// Count reports the live occupancy of a single room.
func (h *occupancyHub) Count(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Counts reports live occupancy per room for roster aggregation.
func (h *occupancyHub) Counts() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]int, len(h.rooms))
	for room, occupants := range h.rooms {
		out[room] = len(occupants)
	}
	return out
}
