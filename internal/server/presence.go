// Package server derives the presence list of a session from its live
// connections.
package server

import "sort"

// ActiveUsers returns the distinct display names of the session's live
// connections. Two connections sharing a name (the same user in two tabs)
// count once. The list is recomputed from the registry on every call and
// never cached; names are sorted so the wire output is deterministic.
func (h *Hub) ActiveUsers(sessionID string) []string {
	clients := h.connectionsFor(sessionID)

	seen := make(map[string]bool, len(clients))
	users := make([]string, 0, len(clients))
	for _, client := range clients {
		if seen[client.displayName] {
			continue
		}
		seen[client.displayName] = true
		users = append(users, client.displayName)
	}
	sort.Strings(users)
	return users
}
