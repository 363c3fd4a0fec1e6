// Package handler serves the directory listing routes.
package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"streaming-status/backend/internal/auth"
	devicedomain "streaming-status/backend/internal/device/domain"
	"streaming-status/backend/internal/directory"
	"streaming-status/backend/internal/server/respond"
)

// Handler answers provider, organization and project listings.
type Handler struct {
	service *directory.Service
}

// New returns a Handler over service.
func New(service *directory.Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the directory routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/providers", h.providers)
	mux.HandleFunc("GET /api/organizations", h.organizations)
	mux.HandleFunc("GET /api/projects", h.projects)
}

func (h *Handler) providers(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())

	page := 0
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respond.Error(w, fmt.Errorf("%w: malformed page number", devicedomain.ErrInvalidArgument))
			return
		}
		page = n
	}

	result, err := h.service.Providers(r.Context(), p, r.URL.Query().Get("query"), page)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, result)
}

func (h *Handler) organizations(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())

	orgs, err := h.service.Organizations(r.Context(), p, r.URL.Query().Get("query"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string][]string{"organizations": orgs})
}

func (h *Handler) projects(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())

	projects, err := h.service.Projects(r.Context(), p, r.URL.Query().Get("query"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string][]string{"projects": projects})
}
