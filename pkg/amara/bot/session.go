package bot

import "sync"

// session is the in-memory state of one user.
type session struct {
	pending   []string
	scheduled bool
}

// Registry holds per-user sessions. Sessions are created on first use and
// live for the process lifetime; every operation is one short critical
// section over a single session.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session)}
}

func (r *Registry) get(userID string) *session {
	s, ok := r.sessions[userID]
	if !ok {
		s = &session{}
		r.sessions[userID] = s
	}
	return s
}

// Append buffers text and reports whether the caller must arm a flush,
// which is true only when none is outstanding.
func (r *Registry) Append(userID, text string) (arm bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.get(userID)
	s.pending = append(s.pending, text)
	if s.scheduled {
		return false
	}
	s.scheduled = true
	return true
}

// Drain returns the buffered messages and clears the buffer atomically.
func (r *Registry) Drain(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.get(userID)
	out := s.pending
	s.pending = nil
	return out
}

// Clear empties the buffer without touching the flush flag.
func (r *Registry) Clear(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(userID).pending = nil
}

// Release marks the outstanding flush as finished. When messages arrived
// while it ran, the flag stays set and Release reports that a new flush
// must be armed.
func (r *Registry) Release(userID string) (rearm bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.get(userID)
	if len(s.pending) > 0 {
		s.scheduled = true
		return true
	}
	s.scheduled = false
	return false
}

// Snapshot returns a copy of the user's buffer and flush flag.
func (r *Registry) Snapshot(userID string) (pending []string, scheduled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok {
		return nil, false
	}
	return append([]string(nil), s.pending...), s.scheduled
}

// Len returns the number of known sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
