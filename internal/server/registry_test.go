package server

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

// newTestSession builds a session without a connection. Its send queue is
// the only observable output.
func newTestSession(name string, queueSize int) *Session {
	return newSession(nil, nil, "test", name, "trace-"+name, queueSize)
}

func joinSession(t *testing.T, r *Registry, s *Session) {
	t.Helper()
	s.id = r.NextID()
	s.joined = true
	require.NoError(t, r.Register(s))
}

func drain(s *Session) []protocol.Event {
	var events []protocol.Event
	for {
		select {
		case data, ok := <-s.send:
			if !ok {
				return events
			}
			ev, err := protocol.Decode(data)
			if err == nil {
				events = append(events, ev)
			}
		default:
			return events
		}
	}
}

func TestRegistryNextIDIsMonotonic(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, "1", r.NextID())
	assert.Equal(t, "2", r.NextID())
	assert.Equal(t, "3", r.NextID())
}

func TestRegistryRejectsDuplicateIdentity(t *testing.T) {
	r := NewRegistry()
	a := newTestSession("a", 4)
	joinSession(t, r, a)

	b := newTestSession("b", 4)
	b.id = a.id
	err := r.Register(b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateIdentity))
	assert.Equal(t, 1, r.Len())
}

// TestRegistryUnregisterIsIdempotent verifies a second removal reports false.
func TestRegistryUnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	s := newTestSession("a", 4)
	joinSession(t, r, s)

	assert.True(t, r.Unregister(s))
	assert.False(t, r.Unregister(s))
	assert.Equal(t, 0, r.Len())
}

func TestRegistryUnregisterIgnoresImpostor(t *testing.T) {
	r := NewRegistry()
	s := newTestSession("a", 4)
	joinSession(t, r, s)

	other := newTestSession("a", 4)
	other.id = s.id
	assert.False(t, r.Unregister(other))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRosterOrderAndJoinedOnly(t *testing.T) {
	r := NewRegistry()
	assert.NotNil(t, r.Roster())
	assert.Empty(t, r.Roster())

	alice := newTestSession("Alice", 4)
	bob := newTestSession("Bob", 4)
	carol := newTestSession("Carol", 4)
	joinSession(t, r, alice)
	joinSession(t, r, bob)
	joinSession(t, r, carol)

	bob.joined = false
	assert.Equal(t, []protocol.User{
		{ID: "1", Name: "Alice"},
		{ID: "3", Name: "Carol"},
	}, r.Roster())

	r.Unregister(alice)
	assert.Equal(t, []protocol.User{{ID: "3", Name: "Carol"}}, r.Roster())
}

// TestRegistryBroadcastSkipsSessionsThatAreNotReady checks that pending,
// closing and backed-up sessions miss the event while the rest get it.
func TestRegistryBroadcastSkipsSessionsThatAreNotReady(t *testing.T) {
	r := NewRegistry()
	ready := newTestSession("ready", 4)
	pending := newTestSession("pending", 4)
	closing := newTestSession("closing", 4)
	full := newTestSession("full", 1)

	joinSession(t, r, ready)
	joinSession(t, r, pending)
	joinSession(t, r, closing)
	joinSession(t, r, full)
	pending.joined = false
	closing.closing = true
	full.send <- []byte("backlog")

	n := r.Broadcast(protocol.System{Text: "hello", TS: 1})
	assert.Equal(t, 1, n)

	events := drain(ready)
	require.Len(t, events, 1)
	assert.Equal(t, protocol.System{Text: "hello", TS: 1}, events[0])
	assert.Empty(t, drain(pending))
	assert.Empty(t, drain(closing))
	assert.Len(t, full.send, 1)
}

func TestRegistryBroadcastToEmptyRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Broadcast(protocol.Users{}))
}
