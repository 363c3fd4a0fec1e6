// Package handler serves the device query routes: listing, single-device
// lookup, streaming export and label updates.
package handler

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"streaming-status/backend/internal/auth"
	"streaming-status/backend/internal/device/domain"
	"streaming-status/backend/internal/device/service"
	"streaming-status/backend/internal/export"
	"streaming-status/backend/internal/server/respond"
)

// Handler answers device queries within the caller's resolved scope.
type Handler struct {
	devices *service.DeviceService
}

// New returns a Handler over the device service.
func New(devices *service.DeviceService) *Handler {
	return &Handler{devices: devices}
}

// Register mounts the device routes on mux. The literal export route takes
// precedence over the {deviceName} pattern.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/devices", h.list)
	mux.HandleFunc("GET /api/devices/export", h.export)
	mux.HandleFunc("GET /api/devices/{deviceName}", h.get)
	mux.HandleFunc("PUT /api/devices/{deviceName}/label", h.updateLabel)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	q := r.URL.Query()

	filters, err := filtersFrom(q)
	if err != nil {
		respond.Error(w, err)
		return
	}
	pageSize, err := pageSizeFrom(q)
	if err != nil {
		respond.Error(w, err)
		return
	}

	page, err := h.devices.List(r.Context(), p, filters, pageSize, q.Get("page"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, page)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())

	device, err := h.devices.Get(r.Context(), p, r.PathValue("deviceName"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, device)
}

// export streams the full listing as a downloadable attachment. Responses
// are gzip-compressed unless compress=0 or the client does not accept gzip.
func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	q := r.URL.Query()

	format := q.Get("format")
	if format == "" {
		format = export.FormatCSV
	}
	switch format {
	case export.FormatCSV, export.FormatJSON:
	default:
		respond.Error(w, &export.UnsupportedFormatError{Format: format})
		return
	}
	filters, err := filtersFrom(q)
	if err != nil {
		respond.Error(w, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment;filename=devices_export.%s", format))

	var out io.Writer = w
	var gz *gzip.Writer
	if q.Get("compress") != "0" && strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		gz = gzip.NewWriter(w)
		out = gz
	}

	encoder, err := export.NewEncoder(out, format)
	if err != nil {
		respond.Error(w, err)
		return
	}

	wrote := false
	err = h.devices.Export(r.Context(), p, filters, func(device *domain.Device) error {
		if err := encoder.Write(device); err != nil {
			return err
		}
		wrote = true
		return nil
	})
	if err != nil {
		if !wrote {
			// Nothing reached the wire yet; undo the attachment headers and
			// answer with the error envelope.
			w.Header().Del("Content-Encoding")
			w.Header().Del("Content-Disposition")
			respond.Error(w, err)
			return
		}
		log.Printf("device export: aborted mid-stream: %v", err)
		return
	}

	if err := encoder.Flush(); err != nil {
		log.Printf("device export: flush: %v", err)
		return
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			log.Printf("device export: gzip close: %v", err)
		}
	}
}

// labelRequest is the PUT body for label updates. An empty label clears the
// current one.
type labelRequest struct {
	Label string `json:"label"`
}

func (h *Handler) updateLabel(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())

	var body labelRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond.Error(w, fmt.Errorf("%w: body must be a json object with a label property", domain.ErrInvalidArgument))
		return
	}

	if _, err := h.devices.UpdateLabel(r.Context(), p, r.PathValue("deviceName"), body.Label); err != nil {
		respond.Error(w, err)
		return
	}
	respond.NoContent(w)
}

func filtersFrom(q url.Values) (service.Filters, error) {
	filters := service.Filters{
		NamePrefix: q.Get("query"),
		Project:    q.Get("project"),
		SchemaID:   q.Get("schema"),
	}
	if raw := q.Get("label"); raw != "" {
		label, err := domain.ParseCustomLabel(raw)
		if err != nil {
			return service.Filters{}, err
		}
		filters.Label = label
	}
	if raw := q.Get("connected"); raw != "" {
		connected, err := strconv.ParseBool(raw)
		if err != nil {
			return service.Filters{}, fmt.Errorf("%w: connected must be true or false", domain.ErrInvalidArgument)
		}
		filters.Connected = &connected
	}
	return filters, nil
}

func pageSizeFrom(q url.Values) (int, error) {
	raw := q.Get("pageSize")
	if raw == "" {
		return 0, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size < 1 {
		return 0, fmt.Errorf("%w: pageSize must be a positive integer", domain.ErrInvalidArgument)
	}
	return size, nil
}
