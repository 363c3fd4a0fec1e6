// Package service implements the device query operations: scoped listing with
// two-phase paging, single-device lookup, export iteration, and label updates.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"streaming-status/backend/internal/auth"
	"streaming-status/backend/internal/device/domain"
	"streaming-status/backend/internal/device/repository"
)

// maxPageSize caps the page size a caller may request.
const maxPageSize = 250

// Cursor phases. A listing first drains unprovisioned ledger records, then
// pages through the live fleet; the phase byte keeps the two token spaces
// apart while the whole cursor stays opaque to callers.
const (
	phaseLedger = 'l'
	phaseFleet  = 'f'
)

// Filters narrows a device listing.
type Filters struct {
	NamePrefix string
	Label      domain.CustomLabel
	Project    string
	SchemaID   string
	Connected  *bool
}

// Page is one page of devices plus the cursor for the next one.
type Page struct {
	Devices []*domain.Device `json:"devices"`
	// NextToken resumes the listing; "" when it is complete.
	NextToken string `json:"nextToken,omitempty"`
}

// SchemaStore resolves the schema spec assigned to a device. Lookups are
// best-effort: a miss never fails the device request.
type SchemaStore interface {
	FindSpec(ctx context.Context, provider, id string) (*domain.SchemaSpec, error)
}

// StreamReader fetches the head of the latest stream batch for a topic.
type StreamReader interface {
	LatestBatch(ctx context.Context, topic string) (preview string, lastModified *time.Time, err error)
}

// DeviceService answers device queries against the fleet index and ledger.
type DeviceService struct {
	fleet       repository.FleetIndex
	ledger      repository.Ledger
	schemas     SchemaStore
	streams     StreamReader
	pageSize    int
	joinTimeout time.Duration
}

// NewDeviceService returns a DeviceService. schemas and streams may be nil,
// disabling schema and stream-preview enrichment. pageSize is the default
// page size; joinTimeout bounds the ledger join during listings.
func NewDeviceService(
	fleet repository.FleetIndex,
	ledger repository.Ledger,
	schemas SchemaStore,
	streams StreamReader,
	pageSize int,
	joinTimeout time.Duration,
) *DeviceService {
	return &DeviceService{
		fleet:       fleet,
		ledger:      ledger,
		schemas:     schemas,
		streams:     streams,
		pageSize:    pageSize,
		joinTimeout: joinTimeout,
	}
}

// List returns one page of devices in the principal's scope. The page drains
// ledger-only (unprovisioned) records first, then live fleet entries joined
// with their ledger attributes. A slow or failing join degrades the page to
// fleet-only records instead of failing the request.
func (s *DeviceService) List(ctx context.Context, p *auth.Principal, filters Filters, pageSize int, nextToken string) (*Page, error) {
	if p == nil {
		return nil, auth.ErrUnauthorized
	}
	scope := scopeOf(p)
	pageSize = s.normalizePageSize(pageSize)

	phase, token, err := splitCursor(nextToken)
	if err != nil {
		return nil, err
	}

	page := &Page{Devices: []*domain.Device{}}
	if phase == phaseLedger {
		ledgerPage, err := s.listUnprovisioned(ctx, scope, filters, pageSize, token)
		if err != nil {
			return nil, err
		}
		for i := range ledgerPage.Records {
			page.Devices = append(page.Devices, domain.Compose(nil, &ledgerPage.Records[i]))
		}
		if ledgerPage.NextKey != "" {
			page.NextToken = joinCursor(phaseLedger, ledgerPage.NextKey)
			return page, nil
		}
		// Ledger drained. Fill the remainder from the fleet, or hand the
		// caller a fresh fleet cursor when the page is already full.
		if len(page.Devices) >= pageSize {
			page.NextToken = joinCursor(phaseFleet, "")
			return page, nil
		}
		phase, token = phaseFleet, ""
		pageSize -= len(page.Devices)
	}

	fleetPage, err := s.fleet.Search(ctx, repository.FleetQuery{
		Scope:      scope,
		NamePrefix: filters.NamePrefix,
		Label:      filters.Label,
		Project:    filters.Project,
		SchemaID:   filters.SchemaID,
		Connected:  filters.Connected,
	}, pageSize, token)
	if err != nil {
		return nil, err
	}

	records := s.joinLedger(ctx, scope, fleetPage.Things)
	for i := range fleetPage.Things {
		thing := &fleetPage.Things[i]
		page.Devices = append(page.Devices, domain.Compose(thing, records[thing.Name]))
	}
	if fleetPage.NextToken != "" {
		page.NextToken = joinCursor(phaseFleet, fleetPage.NextToken)
	}
	return page, nil
}

// Get returns one device with schema spec and stream preview attached. The
// ledger record is required: a device that is absent from the ledger or
// outside the principal's scope reports not found either way.
func (s *DeviceService) Get(ctx context.Context, p *auth.Principal, name string) (*domain.Device, error) {
	if p == nil {
		return nil, auth.ErrUnauthorized
	}
	if err := domain.ValidateName(name); err != nil {
		return nil, err
	}
	scope := scopeOf(p)

	var (
		thing  *domain.FleetThing
		record *domain.LedgerRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		thing, err = s.fleet.Find(gctx, scope, name)
		return err
	})
	g.Go(func() error {
		var err error
		record, err = s.ledger.Find(gctx, scope, name)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: device %s", domain.ErrNotFound, name)
	}

	device := domain.Compose(thing, record)
	s.attachSchema(ctx, device, record)
	s.attachStreamPreview(ctx, device, record)
	return device, nil
}

// Export walks every page of the listing and hands each device to fn.
// fn errors abort the walk.
func (s *DeviceService) Export(ctx context.Context, p *auth.Principal, filters Filters, fn func(*domain.Device) error) error {
	token := ""
	for {
		page, err := s.List(ctx, p, filters, maxPageSize, token)
		if err != nil {
			return err
		}
		for _, device := range page.Devices {
			if err := fn(device); err != nil {
				return err
			}
		}
		if page.NextToken == "" {
			return nil
		}
		token = page.NextToken
	}
}

// UpdateLabel sets a device's custom label; an empty rawLabel clears it.
// DEACTIVATED also moves the thing into the deactivated group; any other
// label moves it back out.
func (s *DeviceService) UpdateLabel(ctx context.Context, p *auth.Principal, name, rawLabel string) (*domain.Device, error) {
	if err := auth.RequirePermission(p, auth.PermissionDevicesUpdate); err != nil {
		return nil, err
	}
	if err := domain.ValidateName(name); err != nil {
		return nil, err
	}
	var label domain.CustomLabel
	if rawLabel != "" {
		parsed, err := domain.ParseCustomLabel(rawLabel)
		if err != nil {
			return nil, err
		}
		label = parsed
	}

	scope := scopeOf(p)
	record, err := s.ledger.Find(ctx, scope, name)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: device %s", domain.ErrNotFound, name)
	}

	if err := s.ledger.UpdateLabel(ctx, name, label); err != nil {
		return nil, err
	}
	if err := s.fleet.SetActive(ctx, name, label != domain.LabelDeactivated); err != nil {
		return nil, err
	}

	record.Label = label
	return domain.Compose(nil, record), nil
}

func (s *DeviceService) listUnprovisioned(ctx context.Context, scope repository.Scope, filters Filters, limit int, startKey string) (*repository.LedgerPage, error) {
	// Unprovisioned devices are never connected; a connected=true filter
	// skips the ledger phase outright.
	if filters.Connected != nil && *filters.Connected {
		return &repository.LedgerPage{}, nil
	}
	return s.ledger.ListUnprovisioned(ctx, repository.LedgerQuery{
		Scope:        scope,
		SerialPrefix: filters.NamePrefix,
		Label:        filters.Label,
		Project:      filters.Project,
		SchemaID:     filters.SchemaID,
	}, limit, startKey)
}

// joinLedger fetches the ledger records for a page of fleet hits under the
// join timeout. On timeout or error the join result is empty and the page is
// served from fleet data alone.
func (s *DeviceService) joinLedger(ctx context.Context, scope repository.Scope, things []domain.FleetThing) map[string]*domain.LedgerRecord {
	if len(things) == 0 {
		return nil
	}
	serials := make([]string, 0, len(things))
	for _, thing := range things {
		serials = append(serials, thing.Name)
	}

	joinCtx, cancel := context.WithTimeout(ctx, s.joinTimeout)
	defer cancel()
	records, err := s.ledger.BatchGet(joinCtx, scope, serials)
	if err != nil {
		return nil
	}
	return records
}

func (s *DeviceService) attachSchema(ctx context.Context, device *domain.Device, record *domain.LedgerRecord) {
	if s.schemas == nil || record.SchemaID == "" {
		return
	}
	spec, err := s.schemas.FindSpec(ctx, record.Provider, record.SchemaID)
	if err != nil || spec == nil {
		return
	}
	device.SchemaSpec = spec
	device.DataSchema = spec.Schema
}

func (s *DeviceService) attachStreamPreview(ctx context.Context, device *domain.Device, record *domain.LedgerRecord) {
	if s.streams == nil {
		return
	}
	topic := record.StreamingTopic()
	if topic == "" {
		return
	}
	preview, lastModified, err := s.streams.LatestBatch(ctx, topic)
	if err != nil || preview == "" {
		return
	}
	device.StreamPreview = preview
	if lastModified != nil {
		seconds := float64(lastModified.UnixMilli()) / 1000.0
		device.LastStreamBatchTimestamp = &seconds
	}
}

func (s *DeviceService) normalizePageSize(pageSize int) int {
	if pageSize <= 0 {
		return s.pageSize
	}
	if pageSize > maxPageSize {
		return maxPageSize
	}
	return pageSize
}

func scopeOf(p *auth.Principal) repository.Scope {
	return repository.Scope{
		Provider:     domain.CanonicalName(p.Provider),
		Organization: domain.CanonicalName(p.Organization),
	}
}

func splitCursor(token string) (byte, string, error) {
	if token == "" {
		return phaseLedger, "", nil
	}
	phase := token[0]
	if phase != phaseLedger && phase != phaseFleet {
		return 0, "", fmt.Errorf("%w: malformed page token", domain.ErrInvalidArgument)
	}
	return phase, token[1:], nil
}

func joinCursor(phase byte, token string) string {
	var b strings.Builder
	b.WriteByte(phase)
	b.WriteString(token)
	return b.String()
}
