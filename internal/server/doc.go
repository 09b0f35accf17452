// Package server implements the wschat session manager and its WebSocket
// transport.
//
// The Manager admits connections, keeps the table of active sessions and the
// ban list, and routes chat, private and ban commands between sessions. The
// Server binds a listener, upgrades HTTP requests to WebSocket connections
// and feeds their open, message and close events to the Manager. The
// implementation is organized into specialized files for configuration,
// identities, envelopes, sessions, connections and HTTP handlers.
package server
