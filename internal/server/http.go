// Package server assembles the HTTP API: feature routes, the middleware
// chain and tracing instrumentation.
package server

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	alarmshandler "streaming-status/backend/internal/alarms/handler"
	"streaming-status/backend/internal/alarms/subscription"
	"streaming-status/backend/internal/auth"
	devicehandler "streaming-status/backend/internal/device/handler"
	deviceservice "streaming-status/backend/internal/device/service"
	"streaming-status/backend/internal/directory"
	directoryhandler "streaming-status/backend/internal/directory/handler"
	schemahandler "streaming-status/backend/internal/schema/handler"
	schemarepo "streaming-status/backend/internal/schema/repository"
	"streaming-status/backend/internal/telemetry"
)

// Deps holds the services behind the HTTP API.
type Deps struct {
	// Resolver authenticates every request outside the public routes.
	Resolver *auth.Resolver
	// Devices answers the device listing, lookup, export and label routes.
	Devices *deviceservice.DeviceService
	// Directory answers the provider, organization and project listings.
	Directory *directory.Service
	// Schemas answers the schema registry reads.
	Schemas schemarepo.Store
	// Subscriptions manages alarm email subscriptions. If nil, the alarm
	// subscription routes are not registered.
	Subscriptions *subscription.Service
	// Emitter receives http_request telemetry events. May be nil.
	Emitter telemetry.EventEmitter
	// AllowedOrigin is the CORS origin for the web frontend. Empty disables
	// the CORS headers.
	AllowedOrigin string
}

// New assembles the API handler: feature routes behind the middleware chain,
// wrapped in otelhttp tracing.
func New(deps Deps) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+healthPath, healthz)
	mux.HandleFunc("GET /api/me", handleMe)
	mux.HandleFunc("GET /api/me/permissions", handleMePermissions)

	devicehandler.New(deps.Devices).Register(mux)
	directoryhandler.New(deps.Directory).Register(mux)
	schemahandler.New(deps.Schemas).Register(mux)
	if deps.Subscriptions != nil {
		alarmshandler.New(deps.Subscriptions, deps.Devices).Register(mux)
	}

	handler := Chain(mux,
		Recover(),
		CORS(deps.AllowedOrigin),
		RequestTelemetry(deps.Emitter),
		Authenticate(deps.Resolver),
	)
	return otelhttp.NewHandler(handler, "api")
}
