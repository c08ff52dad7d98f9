// Package server implements the realtime core of the retroboard service:
// a session-keyed WebSocket hub that tracks per-board connections and
// presence, fans out card and board events to every live client, and a
// REST API whose write handlers notify the hub strictly after each
// persistence commit.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, the mutation relay, routing, and HTTP handlers
// to keep the codebase maintainable and testable as the project grows.
package server
