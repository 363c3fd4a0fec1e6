package server

import (
	"net/http"

	"streaming-status/backend/internal/server/respond"
)

// healthz reports liveness for load balancers and deploy checks. It bypasses
// authentication in the middleware chain.
func healthz(w http.ResponseWriter, _ *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
