// Package server wires HTTP handlers into a ServeMux for the wschat
// application via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
// Clients may connect on "/" or "/ws"; "/health" and "/stats" are for operators.
func (s *Server) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.RootHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/stats", s.StatsHandler)
	return mux
}
