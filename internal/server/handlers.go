// Package server exposes HTTP handlers: the WebSocket upgrade and the health
// check. Everything else is answered with 404.
package server

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

// ServeHTTP upgrades the request and hands the new session to the hub. The
// requested display name is read from the "name" query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	name := protocol.ResolveName(r.URL.Query().Get("name"))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	s := newSession(conn, h, r.RemoteAddr, name, uuid.NewString(), h.cfg.SendQueueSize)
	if !h.accept(s) {
		s.closeConnection()
	}
}

// HealthHandler answers liveness probes with a plain "ok".
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "ok")
}

// RootHandler routes WebSocket upgrade requests to the hub and answers every
// other request with 404.
func RootHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			hub.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	}
}
