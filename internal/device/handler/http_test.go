package handler

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"streaming-status/backend/internal/auth"
	"streaming-status/backend/internal/device/domain"
	"streaming-status/backend/internal/device/repository"
	"streaming-status/backend/internal/device/service"
)

func testPrincipal(perms ...auth.Permission) *auth.Principal {
	return &auth.Principal{
		Subject:      "user-1",
		Provider:     "big-co",
		Organization: "acme",
		Permissions:  perms,
	}
}

func fleetThing(name string) domain.FleetThing {
	return domain.FleetThing{
		Name:            name,
		Provider:        "big-co",
		Organization:    "acme",
		RegistrationWay: "claim",
		Connectivity:    &domain.Connectivity{Connected: true},
	}
}

func provisionedRecord(serial string) domain.LedgerRecord {
	status := "provisioned"
	return domain.LedgerRecord{
		Serial:             serial,
		Provider:           "big-co",
		Organization:       "acme",
		Project:            "roof",
		ProvisioningStatus: &status,
	}
}

func newTestHandler(fleet repository.FleetIndex, ledger repository.Ledger) *Handler {
	return New(service.NewDeviceService(fleet, ledger, nil, nil, 50, time.Second))
}

func serve(h *Handler, p *auth.Principal, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.Register(mux)
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestList_ReturnsScopedPage(t *testing.T) {
	h := newTestHandler(
		repository.NewMemoryFleetIndex(fleetThing("d1"), fleetThing("d2")),
		repository.NewMemoryLedger(provisionedRecord("d1"), provisionedRecord("d2")),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	rec := serve(h, testPrincipal(), req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Devices []map[string]any `json:"devices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Devices) != 2 {
		t.Fatalf("len(devices) = %d, want 2", len(body.Devices))
	}
	if body.Devices[0]["name"] != "d1" {
		t.Errorf("devices[0].name = %v, want d1", body.Devices[0]["name"])
	}
}

func TestList_InvalidLabelIsBadRequest(t *testing.T) {
	h := newTestHandler(repository.NewMemoryFleetIndex(), repository.NewMemoryLedger())

	req := httptest.NewRequest(http.MethodGet, "/api/devices?label=SHINY", nil)
	rec := serve(h, testPrincipal(), req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestList_InvalidPageSizeIsBadRequest(t *testing.T) {
	h := newTestHandler(repository.NewMemoryFleetIndex(), repository.NewMemoryLedger())

	for _, raw := range []string{"zero", "-5", "0"} {
		req := httptest.NewRequest(http.MethodGet, "/api/devices?pageSize="+raw, nil)
		rec := serve(h, testPrincipal(), req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("pageSize=%s: status = %d, want 400", raw, rec.Code)
		}
	}
}

func TestList_WithoutPrincipalIsUnauthorized(t *testing.T) {
	h := newTestHandler(repository.NewMemoryFleetIndex(), repository.NewMemoryLedger())

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	rec := serve(h, nil, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestGet_ReturnsDevice(t *testing.T) {
	h := newTestHandler(
		repository.NewMemoryFleetIndex(fleetThing("d1")),
		repository.NewMemoryLedger(provisionedRecord("d1")),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/devices/d1", nil)
	rec := serve(h, testPrincipal(), req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["name"] != "d1" || body["provider"] != "big-co" {
		t.Errorf("body = %v", body)
	}
}

func TestGet_MissingIsNotFound(t *testing.T) {
	h := newTestHandler(repository.NewMemoryFleetIndex(), repository.NewMemoryLedger())

	req := httptest.NewRequest(http.MethodGet, "/api/devices/ghost", nil)
	rec := serve(h, testPrincipal(), req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestExport_CSVAttachment(t *testing.T) {
	h := newTestHandler(
		repository.NewMemoryFleetIndex(fleetThing("d1")),
		repository.NewMemoryLedger(provisionedRecord("d1")),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/devices/export", nil)
	rec := serve(h, testPrincipal(), req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", got)
	}
	if got := rec.Header().Get("Content-Disposition"); got != "attachment;filename=devices_export.csv" {
		t.Errorf("Content-Disposition = %q", got)
	}

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want header + 1 row: %q", len(lines), rec.Body.String())
	}
	if !strings.HasPrefix(lines[0], "name,connectivity.connected") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "d1,true") {
		t.Errorf("row = %q", lines[1])
	}
}

func TestExport_JSONFormat(t *testing.T) {
	h := newTestHandler(
		repository.NewMemoryFleetIndex(fleetThing("d1")),
		repository.NewMemoryLedger(provisionedRecord("d1")),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/devices/export?format=json", nil)
	rec := serve(h, testPrincipal(), req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); got != "attachment;filename=devices_export.json" {
		t.Errorf("Content-Disposition = %q", got)
	}

	var devices []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &devices); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(devices) != 1 || devices[0]["name"] != "d1" {
		t.Errorf("devices = %v", devices)
	}
}

func TestExport_GzipWhenAccepted(t *testing.T) {
	h := newTestHandler(
		repository.NewMemoryFleetIndex(fleetThing("d1")),
		repository.NewMemoryLedger(provisionedRecord("d1")),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/devices/export", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := serve(h, testPrincipal(), req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", got)
	}

	zr, err := gzip.NewReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	plain, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("gunzip: %v", err)
	}
	if !strings.Contains(string(plain), "d1,true") {
		t.Errorf("decompressed body = %q", plain)
	}
}

func TestExport_CompressOptOut(t *testing.T) {
	h := newTestHandler(
		repository.NewMemoryFleetIndex(fleetThing("d1")),
		repository.NewMemoryLedger(provisionedRecord("d1")),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/devices/export?compress=0", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := serve(h, testPrincipal(), req)
	if got := rec.Header().Get("Content-Encoding"); got != "" {
		t.Errorf("Content-Encoding = %q, want none with compress=0", got)
	}
	if !strings.Contains(rec.Body.String(), "d1,true") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestExport_UnknownFormatIsBadRequest(t *testing.T) {
	h := newTestHandler(repository.NewMemoryFleetIndex(), repository.NewMemoryLedger())

	req := httptest.NewRequest(http.MethodGet, "/api/devices/export?format=xml", nil)
	rec := serve(h, testPrincipal(), req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); got != "" {
		t.Errorf("Content-Disposition = %q, want none on error", got)
	}
}

func TestUpdateLabel_NoContent(t *testing.T) {
	ledger := repository.NewMemoryLedger(provisionedRecord("d1"))
	h := newTestHandler(repository.NewMemoryFleetIndex(fleetThing("d1")), ledger)

	req := httptest.NewRequest(http.MethodPut, "/api/devices/d1/label", strings.NewReader(`{"label":"DEPLOYED"}`))
	rec := serve(h, testPrincipal(auth.PermissionDevicesUpdate), req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204: %s", rec.Code, rec.Body.String())
	}

	record, err := ledger.Find(req.Context(), repository.Scope{Provider: "big-co", Organization: "acme"}, "d1")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if record.Label != domain.LabelDeployed {
		t.Errorf("Label = %q, want DEPLOYED", record.Label)
	}
}

func TestUpdateLabel_MalformedBodyIsBadRequest(t *testing.T) {
	h := newTestHandler(repository.NewMemoryFleetIndex(), repository.NewMemoryLedger(provisionedRecord("d1")))

	req := httptest.NewRequest(http.MethodPut, "/api/devices/d1/label", strings.NewReader(`[1,2]`))
	rec := serve(h, testPrincipal(auth.PermissionDevicesUpdate), req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUpdateLabel_RequiresDevicesUpdate(t *testing.T) {
	h := newTestHandler(repository.NewMemoryFleetIndex(), repository.NewMemoryLedger(provisionedRecord("d1")))

	req := httptest.NewRequest(http.MethodPut, "/api/devices/d1/label", strings.NewReader(`{"label":"DEPLOYED"}`))
	rec := serve(h, testPrincipal(), req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}
