// Package handler serves the per-device alarm subscription routes.
package handler

import (
	"context"
	"fmt"
	"net/http"

	"streaming-status/backend/internal/auth"
	devicedomain "streaming-status/backend/internal/device/domain"

	"streaming-status/backend/internal/alarms/subscription"
	"streaming-status/backend/internal/server/respond"
)

// DeviceGetter resolves a device within the caller's scope. A lookup failing
// with ErrNotFound doubles as the access check: callers never learn whether a
// device exists outside their provider and organization.
type DeviceGetter interface {
	Get(ctx context.Context, p *auth.Principal, name string) (*devicedomain.Device, error)
}

// Handler manages email alarm subscriptions for individual devices. The
// subscription endpoint is always the email address carried by the caller's
// token.
type Handler struct {
	subscriptions *subscription.Service
	devices       DeviceGetter
}

// New returns a Handler over the subscription service and device resolver.
func New(subscriptions *subscription.Service, devices DeviceGetter) *Handler {
	return &Handler{subscriptions: subscriptions, devices: devices}
}

// Register mounts the alarm subscription routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/devices/{deviceName}/alarms/subscription", h.status)
	mux.HandleFunc("POST /api/devices/{deviceName}/alarms/subscription/subscribe", h.subscribe)
	mux.HandleFunc("POST /api/devices/{deviceName}/alarms/subscription/unsubscribe", h.unsubscribe)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	p, name, ok := h.authorize(w, r)
	if !ok {
		return
	}

	status, err := h.subscriptions.Status(r.Context(), name, p.Email)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]subscription.Status{"subscriptionStatus": status})
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	p, name, ok := h.authorize(w, r)
	if !ok {
		return
	}

	if err := h.subscriptions.Subscribe(r.Context(), name, p.Email); err != nil {
		respond.Error(w, err)
		return
	}
	respond.NoContent(w)
}

func (h *Handler) unsubscribe(w http.ResponseWriter, r *http.Request) {
	p, name, ok := h.authorize(w, r)
	if !ok {
		return
	}

	if err := h.subscriptions.Unsubscribe(r.Context(), name, p.Email); err != nil {
		respond.Error(w, err)
		return
	}
	respond.NoContent(w)
}

// authorize checks the alarms_subscribe permission, confirms the device is
// visible to the caller and ensures the token carries an email to subscribe.
// On failure it writes the error response and reports ok=false.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (p *auth.Principal, deviceName string, ok bool) {
	p, _ = auth.PrincipalFrom(r.Context())
	if err := auth.RequirePermission(p, auth.PermissionAlarmsSubscribe); err != nil {
		respond.Error(w, err)
		return nil, "", false
	}

	name := r.PathValue("deviceName")
	if _, err := h.devices.Get(r.Context(), p, name); err != nil {
		respond.Error(w, err)
		return nil, "", false
	}
	if p.Email == "" {
		respond.Error(w, fmt.Errorf("%w: token carries no email address", devicedomain.ErrInvalidArgument))
		return nil, "", false
	}
	return p, name, true
}
