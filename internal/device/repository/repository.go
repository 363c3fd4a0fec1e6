// Package repository provides access to the two device stores: the live,
// searchable fleet index and the durable device ledger. Production runs on
// AWS IoT and DynamoDB; in-memory implementations back tests and offline
// development.
package repository

import (
	"context"

	"streaming-status/backend/internal/device/domain"
)

// Scope restricts queries to a provider and optionally an organization.
// Empty fields mean unrestricted.
type Scope struct {
	Provider     string
	Organization string
}

// FleetQuery selects live things from the fleet index.
type FleetQuery struct {
	Scope      Scope
	NamePrefix string
	Label      domain.CustomLabel
	Project    string
	SchemaID   string
	Connected  *bool
}

// FleetPage is one page of fleet index hits.
type FleetPage struct {
	Things []domain.FleetThing
	// NextToken resumes the search; "" when the index is exhausted.
	NextToken string
}

// FleetIndex is the searchable live state of the fleet. It is eventually
// consistent: entries lag provisioning and may outlive deletion briefly.
type FleetIndex interface {
	// Search pages through registered things matching the query. Deactivated
	// things are excluded unless the query asks for them by label.
	Search(ctx context.Context, q FleetQuery, pageSize int, nextToken string) (*FleetPage, error)
	// Find returns the fleet entry for one device, nil when not indexed.
	Find(ctx context.Context, scope Scope, name string) (*domain.FleetThing, error)
	// SetActive moves the device out of (active) or into (inactive) the
	// deactivated thing group.
	SetActive(ctx context.Context, name string, active bool) error
}

// LedgerQuery selects device records from the ledger.
type LedgerQuery struct {
	Scope        Scope
	SerialPrefix string
	Label        domain.CustomLabel
	Project      string
	SchemaID     string
}

// LedgerPage is one page of ledger records.
type LedgerPage struct {
	Records []domain.LedgerRecord
	// NextKey resumes the scan; "" when the table is exhausted.
	NextKey string
}

// Ledger is the durable device store keyed by serial number. It owns the
// record; the fleet index is a read-through cache of live state.
type Ledger interface {
	// ListUnprovisioned pages through records that were registered but never
	// provisioned into the fleet.
	ListUnprovisioned(ctx context.Context, q LedgerQuery, limit int, startKey string) (*LedgerPage, error)
	// Find returns the record for one serial, nil when absent or out of scope.
	Find(ctx context.Context, scope Scope, serial string) (*domain.LedgerRecord, error)
	// BatchGet returns the in-scope records for the given serials, keyed by
	// serial. Missing serials are simply absent from the result.
	BatchGet(ctx context.Context, scope Scope, serials []string) (map[string]*domain.LedgerRecord, error)
	// UpdateLabel sets the custom label on an existing record.
	UpdateLabel(ctx context.Context, serial string, label domain.CustomLabel) error
	// ListOrganizations returns the distinct organizations, optionally
	// restricted to one provider.
	ListOrganizations(ctx context.Context, provider string) ([]string, error)
	// ListProjects returns the distinct projects within scope.
	ListProjects(ctx context.Context, scope Scope) ([]string, error)
}
