package server

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

// ErrDuplicateIdentity means a session id was registered twice. Ids come from
// a monotonic counter, so this always points at a bug in id assignment.
var ErrDuplicateIdentity = errors.New("duplicate session identity")

// Registry is the set of live sessions and the source of truth for the
// roster. It is not safe for concurrent use: the hub loop owns it.
type Registry struct {
	sessions []*Session
	byID     map[string]*Session
	lastID   uint64
}

// NewRegistry returns an empty registry whose first issued id is "1".
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Session)}
}

// NextID issues the next session id. Ids are never reused.
func (r *Registry) NextID() string {
	r.lastID++
	return strconv.FormatUint(r.lastID, 10)
}

// Register adds s in insertion order.
func (r *Registry) Register(s *Session) error {
	if _, exists := r.byID[s.id]; exists {
		return fmt.Errorf("register session %q: %w", s.id, ErrDuplicateIdentity)
	}
	r.byID[s.id] = s
	r.sessions = append(r.sessions, s)
	return nil
}

// Unregister removes s and reports whether it was present. Removing an
// absent session is a no-op.
func (r *Registry) Unregister(s *Session) bool {
	if current, ok := r.byID[s.id]; !ok || current != s {
		return false
	}
	delete(r.byID, s.id)
	for i, candidate := range r.sessions {
		if candidate == s {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// Roster lists joined sessions in registration order. It never returns nil.
func (r *Registry) Roster() []protocol.User {
	users := make([]protocol.User, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.joined {
			users = append(users, protocol.User{ID: s.id, Name: s.name})
		}
	}
	return users
}

// Broadcast encodes ev once and offers it to every ready session. Sessions
// that are not ready miss the event; nothing is queued for them later. It
// returns the number of sessions the event was handed to.
func (r *Registry) Broadcast(ev protocol.Event) int {
	data, err := protocol.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("type", string(ev.Kind())).Msg("Failed to encode broadcast")
		return 0
	}

	delivered := 0
	for _, s := range r.sessions {
		if s.deliver(data) {
			delivered++
		} else {
			log.Debug().Str("session", s.id).Str("type", string(ev.Kind())).Msg("Skipped session that is not ready")
		}
	}
	return delivered
}

// each calls fn for every registered session in order.
func (r *Registry) each(fn func(*Session)) {
	for _, s := range r.sessions {
		fn(s)
	}
}
