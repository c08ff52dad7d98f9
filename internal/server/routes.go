// Package server wires HTTP handlers into a ServeMux for the retroboard
// application via routing helpers.
package server

import "net/http"

// SetupRoutes configures the application routes: health check, session and
// card REST endpoints, and the WebSocket handshake endpoint. The REST
// surface is wrapped in a permissive CORS layer; WebSocket upgrades keep
// their own origin allow-list.
func SetupRoutes(api *API) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", HealthHandler)
	mux.HandleFunc("POST /api/session/create", api.handleCreateSession)
	mux.HandleFunc("GET /api/sessions", api.handleListSessions)
	mux.HandleFunc("GET /api/session/{session_id}", api.handleGetSession)
	mux.HandleFunc("PATCH /api/session/{session_id}", api.handleRenameSession)
	mux.HandleFunc("POST /api/session/{session_id}/card", api.handleCreateCard)
	mux.HandleFunc("PATCH /api/card/{card_id}", api.handleUpdateCard)
	mux.HandleFunc("DELETE /api/card/{card_id}", api.handleDeleteCard)
	mux.HandleFunc("DELETE /api/session/{session_id}/cards", api.handleClearBoard)
	mux.HandleFunc("GET /ws/{session_id}", api.HandleWebSocket)
	return corsMiddleware(mux)
}

// corsMiddleware answers preflight requests and marks responses as
// cross-origin accessible, matching the open REST posture of the original
// deployment.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
