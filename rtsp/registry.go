package rtsp

import (
	"fmt"
	"net"
	"sort"
	"sync"
)

// Registry owns the live sessions and allocates their identifiers.
// Identifiers start at 1 and are never reused.
type Registry struct {
	video PacketWriter

	sessions     map[uint64]*Session
	sessionsLock sync.RWMutex
	nextID       uint64
}

// NewRegistry allocates a Registry whose sessions send video through w.
func NewRegistry(w PacketWriter) *Registry {
	return &Registry{
		video:    w,
		sessions: map[uint64]*Session{},
		nextID:   1,
	}
}

// Create allocates an identifier and registers a new paused session.
func (r *Registry) Create(ip net.IP, zone string, ports []int) (uint64, *Session) {
	r.sessionsLock.Lock()
	defer r.sessionsLock.Unlock()

	id := r.nextID
	r.nextID++

	s := newSession(id, ip, zone, ports, r.video)
	r.sessions[id] = s

	return id, s
}

// Lookup returns a live session.
func (r *Registry) Lookup(id uint64) (*Session, error) {
	r.sessionsLock.RLock()
	defer r.sessionsLock.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSession, id)
	}

	return s, nil
}

// Remove deletes a session and returns it. It returns false when the
// session was not registered; in that case someone else already removed it.
func (r *Registry) Remove(id uint64) (*Session, bool) {
	r.sessionsLock.Lock()
	defer r.sessionsLock.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}

	delete(r.sessions, id)
	return s, true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.sessionsLock.RLock()
	defer r.sessionsLock.RUnlock()
	return len(r.sessions)
}

// IDs returns the identifiers of live sessions in ascending order.
func (r *Registry) IDs() []uint64 {
	r.sessionsLock.RLock()
	ids := make([]uint64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.sessionsLock.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close removes and tears down every session.
func (r *Registry) Close() {
	r.sessionsLock.Lock()
	sessions := r.sessions
	r.sessions = map[uint64]*Session{}
	r.sessionsLock.Unlock()

	for _, s := range sessions {
		s.Teardown()
	}
}
