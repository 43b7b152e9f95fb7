package server

import (
	"sync"
	"time"

	"github.com/okvee/parlor/internal/identity"
)

// presenceEntry is one online user: identity plus the live session
// that owns the entry.
type presenceEntry struct {
	identity    identity.Identity
	session     *clientSession
	connectedAt time.Time
}

// presenceRegistry is the process-wide source of truth for who is
// online. Entries keep insertion order so roster rendering is
// deterministic; a second connection for the same identity overwrites
// the entry in place.
type presenceRegistry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*presenceEntry
}

func newPresenceRegistry() *presenceRegistry {
	return &presenceRegistry{entries: make(map[string]*presenceEntry)}
}

// Add registers the session for the identity and returns the session
// it displaced, if any. Last writer wins; the original roster slot is
// retained on overwrite.
func (r *presenceRegistry) Add(id identity.Identity, s *clientSession, connectedAt time.Time) *clientSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	var displaced *clientSession
	if prev, ok := r.entries[id.ID]; ok {
		displaced = prev.session
	} else {
		r.order = append(r.order, id.ID)
	}
	r.entries[id.ID] = &presenceEntry{identity: id, session: s, connectedAt: connectedAt}
	return displaced
}

// Remove deletes the entry for the identity, but only while it is
// still owned by the given session. A stale disconnect from a
// displaced connection must not evict its successor. Reports whether
// an entry was removed.
func (r *presenceRegistry) Remove(userID string, s *clientSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[userID]
	if !ok || entry.session != s {
		return false
	}
	delete(r.entries, userID)
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Snapshot returns the online entries in insertion order.
func (r *presenceRegistry) Snapshot() []presenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]presenceEntry, 0, len(r.order))
	for _, id := range r.order {
		if entry, ok := r.entries[id]; ok {
			out = append(out, *entry)
		}
	}
	return out
}

// Sessions returns the live session of every online identity.
func (r *presenceRegistry) Sessions() []*clientSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*clientSession, 0, len(r.order))
	for _, id := range r.order {
		if entry, ok := r.entries[id]; ok {
			out = append(out, entry.session)
		}
	}
	return out
}

// Len reports the number of online identities.
func (r *presenceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
