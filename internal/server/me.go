package server

import (
	"fmt"
	"net/http"

	"streaming-status/backend/internal/auth"
	devicedomain "streaming-status/backend/internal/device/domain"
	"streaming-status/backend/internal/server/respond"
)

// meResponse describes the caller to the web frontend.
type meResponse struct {
	Permissions  []auth.Permission `json:"permissions"`
	Name         string            `json:"name"`
	Group        string            `json:"group"`
	Provider     string            `json:"provider,omitempty"`
	Organization string            `json:"organization,omitempty"`
}

// handleMe reports the caller's identity, primary group and permission set.
// The offline override carries no IdP groups, so the resolved provider scope
// stands in for the group there.
func handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	if p == nil {
		respond.Error(w, auth.ErrUnauthorized)
		return
	}

	group := ""
	switch {
	case len(p.Groups) > 0:
		group = devicedomain.CanonicalName(p.Groups[0])
	case p.Provider != "":
		group = p.Provider
	default:
		respond.Error(w, fmt.Errorf("%w: not part of any group", auth.ErrUnauthorized))
		return
	}

	respond.JSON(w, http.StatusOK, meResponse{
		Permissions:  permissionsOf(p),
		Name:         p.Name,
		Group:        group,
		Provider:     p.Provider,
		Organization: p.Organization,
	})
}

// handleMePermissions returns the bare permission list.
func handleMePermissions(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	if p == nil {
		respond.Error(w, auth.ErrUnauthorized)
		return
	}
	respond.JSON(w, http.StatusOK, permissionsOf(p))
}

func permissionsOf(p *auth.Principal) []auth.Permission {
	if p.Permissions == nil {
		return []auth.Permission{}
	}
	return p.Permissions
}
