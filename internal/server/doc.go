// Package server implements the chat room server: the connection registry,
// per-connection sessions and their handshake, the hub event loop that
// serializes all room state changes, and the HTTP surface around them.
//
// The implementation is organized into specialized files for configuration,
// origin checks, the registry, sessions, the hub, routing, and HTTP handlers.
package server
