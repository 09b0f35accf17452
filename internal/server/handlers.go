// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the stats snapshot.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

const healthBody = "wschat server is running!"

// WebSocketHandler upgrades the request and hands the new connection to the
// manager for admission. Credentials come from the username and password
// query parameters. Accepted connections get a read pump; rejected ones are
// left to the write pump, which flushes the notice and closes the socket.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := newWSConn(conn, r.RemoteAddr, s.cfg.MaxMessageSize, s.logger)
	if !s.track(client.writePump) {
		client.closeConnection()
		return
	}

	query := r.URL.Query()
	result := s.manager.Admit(AdmissionRequest{
		Username:   query.Get("username"),
		Password:   query.Get("password"),
		Origin:     r.Header.Get("Origin"),
		RemoteAddr: r.RemoteAddr,
	}, client)
	if result.Outcome != Accepted {
		return
	}

	if !s.track(func() { client.readPump(s.manager) }) {
		_ = client.Close()
	}
}

// RootHandler serves WebSocket upgrades on "/" and answers anything else
// like the health endpoint.
func (s *Server) RootHandler(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.WebSocketHandler(w, r)
		return
	}
	HealthHandler(w, r)
}

// StatsHandler responds with the current connection count, usernames and
// ban list as JSON.
func (s *Server) StatsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.manager.Stats()); err != nil {
		s.logger.Printf("Error writing stats response: %v", err)
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, healthBody)
}
