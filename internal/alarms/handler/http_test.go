package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"streaming-status/backend/internal/alarms/subscription"
	"streaming-status/backend/internal/auth"
	devicedomain "streaming-status/backend/internal/device/domain"
)

type fakeDevices struct {
	visible map[string]bool
}

func (f *fakeDevices) Get(_ context.Context, _ *auth.Principal, name string) (*devicedomain.Device, error) {
	if !f.visible[name] {
		return nil, fmt.Errorf("%w: no device %s", devicedomain.ErrNotFound, name)
	}
	return &devicedomain.Device{Name: name, Provider: "acme", Organization: "north"}, nil
}

func testPrincipal(email string, perms ...auth.Permission) *auth.Principal {
	return &auth.Principal{
		Subject:     "user-1",
		Email:       email,
		Groups:      []string{"acme"},
		Provider:    "acme",
		Permissions: perms,
	}
}

func newTestHandler() (*Handler, *subscription.MemoryNotifier) {
	notifier := subscription.NewMemoryNotifier()
	svc := subscription.NewService(subscription.NewMemoryStore(), notifier, "arn:aws:sns:eu-west-1:1:device-alarms")
	devices := &fakeDevices{visible: map[string]bool{"d1": true}}
	return New(svc, devices), notifier
}

func serve(h *Handler, p *auth.Principal, method, target string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.Register(mux)
	req := httptest.NewRequest(method, target, nil)
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestStatus_DefaultsToDisabled(t *testing.T) {
	h, _ := newTestHandler()
	p := testPrincipal("ops@example.com", auth.PermissionAlarmsSubscribe)

	rec := serve(h, p, http.MethodGet, "/api/devices/d1/alarms/subscription")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["subscriptionStatus"] != string(subscription.StatusDisabled) {
		t.Errorf("subscriptionStatus = %q, want %q", body["subscriptionStatus"], subscription.StatusDisabled)
	}
}

func TestSubscribe_CreatesPendingSubscription(t *testing.T) {
	h, _ := newTestHandler()
	p := testPrincipal("ops@example.com", auth.PermissionAlarmsSubscribe)

	rec := serve(h, p, http.MethodPost, "/api/devices/d1/alarms/subscription/subscribe")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204: %s", rec.Code, rec.Body.String())
	}

	rec = serve(h, p, http.MethodGet, "/api/devices/d1/alarms/subscription")
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["subscriptionStatus"] != string(subscription.StatusPending) {
		t.Errorf("subscriptionStatus = %q, want %q", body["subscriptionStatus"], subscription.StatusPending)
	}
}

func TestSubscribe_ConfirmedReportsEnabled(t *testing.T) {
	h, notifier := newTestHandler()
	p := testPrincipal("ops@example.com", auth.PermissionAlarmsSubscribe)

	if rec := serve(h, p, http.MethodPost, "/api/devices/d1/alarms/subscription/subscribe"); rec.Code != http.StatusNoContent {
		t.Fatalf("subscribe status = %d, want 204", rec.Code)
	}
	notifier.ConfirmAll()

	rec := serve(h, p, http.MethodGet, "/api/devices/d1/alarms/subscription")
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["subscriptionStatus"] != string(subscription.StatusEnabled) {
		t.Errorf("subscriptionStatus = %q, want %q", body["subscriptionStatus"], subscription.StatusEnabled)
	}
}

func TestSubscribe_RequiresAlarmsSubscribe(t *testing.T) {
	h, _ := newTestHandler()
	p := testPrincipal("ops@example.com", auth.PermissionDevicesUpdate)

	rec := serve(h, p, http.MethodPost, "/api/devices/d1/alarms/subscription/subscribe")
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestSubscribe_OutOfScopeDeviceIsNotFound(t *testing.T) {
	h, _ := newTestHandler()
	p := testPrincipal("ops@example.com", auth.PermissionAlarmsSubscribe)

	rec := serve(h, p, http.MethodPost, "/api/devices/d9/alarms/subscription/subscribe")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSubscribe_RejectsTokenWithoutEmail(t *testing.T) {
	h, _ := newTestHandler()
	p := testPrincipal("", auth.PermissionAlarmsSubscribe)

	rec := serve(h, p, http.MethodPost, "/api/devices/d1/alarms/subscription/subscribe")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUnsubscribe_PendingIsRejected(t *testing.T) {
	h, _ := newTestHandler()
	p := testPrincipal("ops@example.com", auth.PermissionAlarmsSubscribe)

	if rec := serve(h, p, http.MethodPost, "/api/devices/d1/alarms/subscription/subscribe"); rec.Code != http.StatusNoContent {
		t.Fatalf("subscribe status = %d, want 204", rec.Code)
	}

	rec := serve(h, p, http.MethodPost, "/api/devices/d1/alarms/subscription/unsubscribe")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 while confirmation is pending", rec.Code)
	}
}

func TestUnsubscribe_ConfirmedSubscriptionIsRemoved(t *testing.T) {
	h, notifier := newTestHandler()
	p := testPrincipal("ops@example.com", auth.PermissionAlarmsSubscribe)

	if rec := serve(h, p, http.MethodPost, "/api/devices/d1/alarms/subscription/subscribe"); rec.Code != http.StatusNoContent {
		t.Fatalf("subscribe status = %d, want 204", rec.Code)
	}
	notifier.ConfirmAll()

	rec := serve(h, p, http.MethodPost, "/api/devices/d1/alarms/subscription/unsubscribe")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unsubscribe status = %d, want 204: %s", rec.Code, rec.Body.String())
	}

	rec = serve(h, p, http.MethodGet, "/api/devices/d1/alarms/subscription")
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["subscriptionStatus"] != string(subscription.StatusDisabled) {
		t.Errorf("subscriptionStatus = %q, want %q", body["subscriptionStatus"], subscription.StatusDisabled)
	}
}
