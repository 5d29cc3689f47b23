// Package server coordinates session handshakes, message broadcast, and
// connection cleanup for the chat room via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

// inboundFrame is a text frame read from a session.
type inboundFrame struct {
	session *Session
	text    string
}

// Hub owns the registry. Every registry change and every broadcast happens on
// the goroutine running Run, so handling for one session never interleaves
// with another.
type Hub struct {
	cfg      Config
	registry *Registry
	upgrader websocket.Upgrader

	join    chan *Session
	leave   chan *Session
	inbound chan inboundFrame
	queries chan func(*Registry)

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub using cfg. Zero-valued settings fall back to defaults.
func NewHub(cfg Config) *Hub {
	cfg = sanitizeConfig(cfg)
	origins := newOriginPolicy(cfg.AllowedOrigins)
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		cfg:      cfg,
		registry: NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		join:    make(chan *Session),
		leave:   make(chan *Session),
		inbound: make(chan inboundFrame),
		queries: make(chan func(*Registry)),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Run starts the hub's event loop. It returns after Shutdown is called and
// should be run in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownSessions()
			return
		case s := <-h.join:
			h.handleJoin(s)
		case s := <-h.leave:
			h.handleLeave(s)
		case frame := <-h.inbound:
			h.handleInbound(frame)
		case query := <-h.queries:
			query(h.registry)
		}
	}
}

// accept hands a freshly upgraded session to the loop. It reports false when
// the hub is shutting down.
func (h *Hub) accept(s *Session) bool {
	select {
	case h.join <- s:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) submitLeave(s *Session) {
	select {
	case h.leave <- s:
	case <-h.ctx.Done():
	}
}

func (h *Hub) submitInbound(s *Session, text string) bool {
	select {
	case h.inbound <- inboundFrame{session: s, text: text}:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// handleJoin finalizes identity, acknowledges it to the new session alone and
// then announces it to everyone.
func (h *Hub) handleJoin(s *Session) {
	s.id = h.registry.NextID()
	s.joined = true
	if err := h.registry.Register(s); err != nil {
		log.Error().Err(err).Str("addr", s.addr).Msg("Session id invariant violated; dropping connection")
		s.joined = false
		s.closeConnection()
		return
	}

	ack, err := protocol.Encode(protocol.Ack{Of: protocol.AckJoin, ID: s.id, Name: s.name})
	if err == nil {
		s.deliver(ack)
	}

	log.Info().
		Str("session", s.id).
		Str("name", s.name).
		Str("addr", s.addr).
		Str("conn", s.trace).
		Int("clients", h.registry.Len()).
		Msg("Session joined")

	if s.conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			s.writePump()
		}()
		go func() {
			defer h.wg.Done()
			s.readPump()
		}()
	}

	h.announce(s.name + " has joined")
}

// handleLeave runs at most once per session: a second leave finds nothing to
// remove.
func (h *Hub) handleLeave(s *Session) {
	if !h.registry.Unregister(s) {
		return
	}
	wasJoined := s.ready()
	s.closing = true
	close(s.send)

	log.Info().Str("session", s.id).Str("name", s.name).Int("clients", h.registry.Len()).Msg("Session left")

	if wasJoined {
		h.announce(s.name + " has left")
	}
}

func (h *Hub) handleInbound(frame inboundFrame) {
	s := frame.session
	if !s.ready() {
		return
	}

	in, ok := protocol.ParseInput(frame.text)
	if !ok {
		return
	}

	if in.Rename {
		if in.Text == "" {
			return
		}
		old := s.name
		s.name = in.Text
		log.Info().Str("session", s.id).Str("from", old).Str("to", s.name).Msg("Session renamed")
		h.announce(old + " is now " + s.name)
		return
	}

	h.registry.Broadcast(protocol.Message{
		From: protocol.User{ID: s.id, Name: s.name},
		Text: in.Text,
		TS:   protocol.Now(),
	})
}

// announce broadcasts a system notice followed by the updated roster.
func (h *Hub) announce(text string) {
	h.registry.Broadcast(protocol.System{Text: text, TS: protocol.Now()})
	h.registry.Broadcast(protocol.Users{Users: h.registry.Roster()})
}

// Roster returns the current roster as seen by the hub loop.
func (h *Hub) Roster() []protocol.User {
	var users []protocol.User
	if !h.query(func(r *Registry) { users = r.Roster() }) {
		return []protocol.User{}
	}
	return users
}

// ClientCount returns the number of registered sessions.
func (h *Hub) ClientCount() int {
	var n int
	h.query(func(r *Registry) { n = r.Len() })
	return n
}

// query runs fn on the hub loop and waits for it.
func (h *Hub) query(fn func(*Registry)) bool {
	finished := make(chan struct{})
	wrapped := func(r *Registry) {
		defer close(finished)
		fn(r)
	}
	select {
	case h.queries <- wrapped:
	case <-h.ctx.Done():
		return false
	}
	<-finished
	return true
}

// shutdownSessions closes every connection. Read pumps then exit without
// announcing departures because the hub context is already cancelled.
func (h *Hub) shutdownSessions() {
	log.Info().Msg("Shutting down all client connections...")

	closed := 0
	h.registry.each(func(s *Session) {
		s.closeConnection()
		closed++
	})

	log.Info().Int("clients", closed).Msg("Closed client connections")
}

// Shutdown initiates graceful shutdown of the hub and waits for all
// goroutines to complete, or for the timeout to be reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Info().Msg("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Warn().Msg("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
