// Package handler serves the schema registry routes.
package handler

import (
	"fmt"
	"net/http"

	"streaming-status/backend/internal/auth"
	"streaming-status/backend/internal/schema/domain"
	"streaming-status/backend/internal/schema/repository"
	"streaming-status/backend/internal/server/respond"
)

// Handler answers schema registry reads. Reads require devices_create, the
// permission of the onboarding flows that consume the registry.
type Handler struct {
	store repository.Store
}

// New returns a Handler over store.
func New(store repository.Store) *Handler {
	return &Handler{store: store}
}

// Register mounts the schema routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/schemas", h.list)
	mux.HandleFunc("GET /api/schemas/{schemaID}", h.get)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	if err := auth.RequirePermission(p, auth.PermissionDevicesCreate); err != nil {
		respond.Error(w, err)
		return
	}

	page, err := h.store.List(r.Context(), p.Provider, 0, r.URL.Query().Get("page"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	if page.Schemas == nil {
		page.Schemas = []*domain.Schema{}
	}
	respond.JSON(w, http.StatusOK, page)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	if err := auth.RequirePermission(p, auth.PermissionDevicesCreate); err != nil {
		respond.Error(w, err)
		return
	}

	schema, err := h.store.Find(r.Context(), p.Provider, r.PathValue("schemaID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	if schema == nil {
		respond.Error(w, fmt.Errorf("%w: no such schema", domain.ErrNotFound))
		return
	}
	respond.JSON(w, http.StatusOK, schema)
}
