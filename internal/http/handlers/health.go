package handlers

import "net/http"

// Health answers liveness probes.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"status": "ok"})
}
