// Package server manages individual chat sessions, handling read/write pumps
// and lifecycle control for each WebSocket connection.
package server

import (
	"errors"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// Session is one live connection and the identity the server gave it.
// Identity fields are only touched from the hub loop.
type Session struct {
	id      string
	name    string
	joined  bool
	closing bool

	conn  *websocket.Conn
	send  chan []byte
	hub   *Hub
	addr  string
	trace string
}

// newSession wraps an upgraded connection. The session stays invisible to
// everyone until the hub completes its handshake.
func newSession(conn *websocket.Conn, hub *Hub, addr, name, trace string, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	return &Session{
		name:  name,
		conn:  conn,
		send:  make(chan []byte, queueSize),
		hub:   hub,
		addr:  addr,
		trace: trace,
	}
}

// ID returns the server-assigned id, empty before the handshake.
func (s *Session) ID() string { return s.id }

// Name returns the current display name.
func (s *Session) Name() string { return s.name }

// ready reports whether broadcasts should be handed to the session.
func (s *Session) ready() bool {
	return s.joined && !s.closing
}

// deliver queues data without blocking. A full queue counts as not ready.
func (s *Session) deliver(data []byte) bool {
	if !s.ready() {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *Session) logger() *zerolog.Logger {
	l := log.With().Str("session", s.id).Str("addr", s.addr).Str("conn", s.trace).Logger()
	return &l
}

// setupReadConnection configures the read limit, deadline and pong handler.
func (s *Session) setupReadConnection(maxMessageSize int64) {
	l := s.logger()
	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		l.Warn().Err(err).Msg("Error setting initial read deadline")
	}
	s.conn.SetPongHandler(func(string) error {
		if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			l.Warn().Err(err).Msg("Error setting read deadline in pong handler")
		}
		return nil
	})
}

// logReadError records why the read loop ended. Every read error ends it.
func (s *Session) logReadError(err error) {
	l := s.logger()
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		l.Info().Int64("limit", s.hub.cfg.MaxMessageSize).Msg("Message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure):
		l.Info().Err(err).Msg("Client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		l.Info().Err(err).Msg("Client connection closed")
	default:
		l.Warn().Err(err).Msg("WebSocket read error")
	}
}

func (s *Session) readPump() {
	defer func() {
		s.hub.submitLeave(s)
		s.closeConnection()
	}()

	s.setupReadConnection(s.hub.cfg.MaxMessageSize)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}

		if messageType != websocket.TextMessage || !utf8.Valid(data) {
			log.Debug().Str("session", s.id).Int("frame", messageType).Msg("Ignoring non-text frame")
			continue
		}

		if !s.hub.submitInbound(s, string(data)) {
			return
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.closeConnection()
	}()

	for s.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop.
func (s *Session) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-s.send:
		if !ok {
			return s.writeCloseMessage()
		}
		return s.writeTextMessage(message)
	case <-ticker.C:
		return s.writePing()
	case <-s.hub.ctx.Done():
		return false
	}
}

func (s *Session) writeTextMessage(message []byte) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.logger().Warn().Err(err).Msg("Error setting write deadline")
		return false
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			s.logger().Warn().Err(err).Msg("Error writing message")
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close frame once the hub has dropped the session.
func (s *Session) writeCloseMessage() bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil && !isExpectedCloseError(err) {
		s.logger().Warn().Err(err).Msg("Error writing close message")
	}
	return false
}

func (s *Session) writePing() bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.logger().Warn().Err(err).Msg("Error setting write deadline for ping")
		return false
	}
	if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			s.logger().Warn().Err(err).Msg("Error writing ping message")
		}
		return false
	}
	return true
}

func (s *Session) closeConnection() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.logger().Warn().Err(err).Msg("Error closing connection")
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
